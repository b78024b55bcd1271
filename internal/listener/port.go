package listener

import (
	"net"
	"strconv"
	"strings"
)

// ParsePort validates user input for the listener port. It is meant for the
// host side: a bad value is reported here and never reaches the controller.
func ParsePort(s string) (int, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, &ValidationError{Field: "port", Value: s, Reason: "must not be empty"}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ValidationError{Field: "port", Value: s, Reason: "must be a number"}
	}
	if err := checkPort(n); err != nil {
		return 0, err
	}
	return n, nil
}

func checkPort(n int) error {
	if n < 1 || n > 65535 {
		return &ValidationError{Field: "port", Value: strconv.Itoa(n), Reason: "must be between 1 and 65535"}
	}
	return nil
}

func checkBindAddress(addr string) error {
	if addr == "" {
		return nil
	}
	if net.ParseIP(addr) == nil {
		return &ValidationError{Field: "bind_address", Value: addr, Reason: "must be an IP address"}
	}
	return nil
}

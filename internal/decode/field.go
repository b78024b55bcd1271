package decode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// NotValid is rendered in place of any field whose validity flag is false.
const NotValid = "not valid"

// Field is one labelled line of a report.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
	Valid bool   `json:"valid"`
}

func (f Field) String() string {
	if !f.Valid {
		return f.Label + ": " + NotValid
	}
	return f.Label + ": " + f.Value
}

func valid(label, value string) Field {
	return Field{Label: label, Value: value, Valid: true}
}

func invalid(label string) Field {
	return Field{Label: label}
}

func validIf(ok bool, label string, value func() string) Field {
	if !ok {
		return invalid(label)
	}
	return valid(label, value())
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

const hexDigits = "0123456789ABCDEF"

// HexString renders b as upper-case hex, two digits per byte, separated by
// sep. HexString([]byte{0x0A, 0xFF}, ":") is "0A:FF".
func HexString(b []byte, sep string) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*2 + (len(b)-1)*len(sep))
	for i, c := range b {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

func formatDate(dt reader.DateTime) string {
	return fmt.Sprintf("%04d-%02d-%02d", dt.Year, dt.Month, dt.Day)
}

func formatTime(dt reader.DateTime, millis bool) string {
	if millis {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", dt.Hour, dt.Minute, dt.Second, dt.Millisecond)
	}
	return fmt.Sprintf("%02d:%02d:%02d", dt.Hour, dt.Minute, dt.Second)
}

// timestampField renders date and time as one field. It is valid when either
// half is valid; the invalid half is shown as the placeholder.
func timestampField(label string, dt reader.DateTime) Field {
	if !dt.ValidDate && !dt.ValidTime {
		return invalid(label)
	}
	date, clock := NotValid, NotValid
	if dt.ValidDate {
		date = formatDate(dt)
	}
	if dt.ValidTime {
		clock = formatTime(dt, false)
	}
	return valid(label, date+" "+clock)
}

// Package reader defines the contract tagwatch expects from an RFID reader
// SDK session running in notification mode. The reader connects to a TCP
// listener owned by the session and pushes events; the session queues them
// per kind until the client pops them.
//
// Implementations live outside this package: readertest provides a
// programmable in-memory fake and internal/netsession a JSON-lines TCP
// transport.
package reader

import (
	"errors"
	"fmt"
	"strings"
)

// EventKind identifies which queue a popped event refers to.
type EventKind int

const (
	EventInvalid EventKind = iota
	EventTag
	EventBRM
	EventDiag
	EventInput
	EventIdentification
	EventPeopleCounter
)

var eventKindNames = map[EventKind]string{
	EventInvalid:        "Invalid",
	EventTag:            "TagEvent",
	EventBRM:            "BrmEvent",
	EventDiag:           "DiagEvent",
	EventInput:          "InputEvent",
	EventIdentification: "IdentificationEvent",
	EventPeopleCounter:  "PeopleCounterEvent",
}

// wire names used by frame-based transports.
var eventKindWire = map[string]EventKind{
	"tag":            EventTag,
	"brm":            EventBRM,
	"diag":           EventDiag,
	"input":          EventInput,
	"identification": EventIdentification,
	"people_counter": EventPeopleCounter,
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind accepts either the wire name ("tag", "people_counter") or
// the display name ("TagEvent"). Unknown names map to EventInvalid.
func ParseEventKind(s string) (EventKind, bool) {
	s = strings.TrimSpace(s)
	if k, ok := eventKindWire[strings.ToLower(s)]; ok {
		return k, true
	}
	for k, n := range eventKindNames {
		if k != EventInvalid && strings.EqualFold(n, s) {
			return k, true
		}
	}
	return EventInvalid, false
}

// Status is a reader SDK status code. StatusOK is the only success value.
type Status int

const (
	StatusOK Status = iota
	StatusNotOpen
	StatusAlreadyOpen
	StatusAlreadyRunning
	StatusNotRunning
	StatusListenFailed
	StatusInvalidParameter
	StatusReleased
	StatusInternal
)

var statusText = map[Status]string{
	StatusOK:               "OK",
	StatusNotOpen:          "reader module not open",
	StatusAlreadyOpen:      "reader module already open",
	StatusAlreadyRunning:   "already running",
	StatusNotRunning:       "not running",
	StatusListenFailed:     "listener could not be opened",
	StatusInvalidParameter: "invalid parameter",
	StatusReleased:         "module released",
	StatusInternal:         "internal error",
}

func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("status %d", int(s))
}

// StatusError is returned by session calls that did not end with StatusOK.
type StatusError struct {
	Code Status
	Text string
}

func (e *StatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("reader status %d: %s", int(e.Code), e.Code)
	}
	return fmt.Sprintf("reader status %d: %s", int(e.Code), e.Text)
}

// Errorf builds a StatusError with a formatted text.
func Errorf(code Status, format string, args ...any) error {
	return &StatusError{Code: code, Text: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the status code from err. nil maps to StatusOK and errors
// that carry no status map to StatusInternal.
func CodeOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusInternal
}

// RequestMode selects how the reader module talks to the device.
type RequestMode int

const (
	// UniDirectional is notification mode: the device pushes, the host listens.
	UniDirectional RequestMode = iota
	BiDirectional
)

// ListenerParam describes the TCP endpoint the reader connects to.
type ListenerParam struct {
	Port        int
	BindAddress string // empty means any IPv4 address
	KeepAlive   bool
}

// TCPListenerParam mirrors the SDK helper of the same purpose.
func TCPListenerParam(port int, bindAddress string, keepAlive bool) ListenerParam {
	return ListenerParam{Port: port, BindAddress: bindAddress, KeepAlive: keepAlive}
}

// PeerInfo describes a connected reader.
type PeerInfo struct {
	Address string
	ConnID  string
}

// ConnectListener receives connection lifecycle callbacks from the listener
// thread.
type ConnectListener interface {
	OnConnect(peer PeerInfo)
	OnDisconnect()
}

// NotificationListener is signalled whenever new events were queued.
type NotificationListener interface {
	OnNotification()
}

// Async groups the notification-mode calls of a session.
type Async interface {
	StartNotification(l NotificationListener) error
	StopNotification() error
	// PopEvent returns EventInvalid once no event is pending.
	PopEvent() (EventKind, error)
}

// TagQueue holds pending tag events.
type TagQueue interface {
	PopItem() *TagEventItem
}

// BRMQueue holds buffered-read-mode records.
type BRMQueue interface {
	PopItem() *BRMItem
	ClearQueue()
	SetQueueMaxItemCount(n int)
}

// DiagQueue holds diagnostic events.
type DiagQueue interface {
	PopItem() *DiagItem
}

// InputQueue holds digital input events.
type InputQueue interface {
	PopInItem() *InputEventItem
}

// Extension is the auxiliary module that exposes people-counter events.
// It must be closed before the owning session.
type Extension interface {
	PopPeopleCounterItem() *PeopleCounterItem
	Close() error
}

// Session is the reader module handle. All methods are called with the
// owner's lock held; implementations must not call back into listeners
// synchronously from StopListenerThread or Close.
type Session interface {
	Open(mode RequestMode) error
	Close() error
	SetReaderType(readerType string) error

	Async() Async
	StartListenerThread(p ListenerParam, l ConnectListener) error
	StopListenerThread() error

	TagEvents() TagQueue
	BRM() BRMQueue
	Diagnostic() DiagQueue
	IO() InputQueue
	// Identification returns the latest identification snapshot, or nil.
	Identification() *Identification
	OpenExtension() (Extension, error)

	// LastErrorStatusText describes the outcome of the most recent call.
	LastErrorStatusText() string
}

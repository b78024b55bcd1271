package netsession

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// Frame is one newline-delimited JSON message sent by a reader. Event names
// the payload field that is set.
type Frame struct {
	Event          string                    `json:"event"`
	Tag            *reader.TagEventItem      `json:"tag,omitempty"`
	BRM            *reader.BRMItem           `json:"brm,omitempty"`
	Diag           *reader.DiagItem          `json:"diag,omitempty"`
	Input          *reader.InputEventItem    `json:"input,omitempty"`
	Identification *reader.Identification    `json:"identification,omitempty"`
	PeopleCounter  *reader.PeopleCounterItem `json:"people_counter,omitempty"`
}

// Kind resolves the frame's event name and checks that its payload is set.
func (f Frame) Kind() (reader.EventKind, error) {
	kind, ok := reader.ParseEventKind(f.Event)
	if !ok {
		return reader.EventInvalid, fmt.Errorf("unknown event %q", f.Event)
	}
	var present bool
	switch kind {
	case reader.EventTag:
		present = f.Tag != nil
	case reader.EventBRM:
		present = f.BRM != nil
	case reader.EventDiag:
		present = f.Diag != nil
	case reader.EventInput:
		present = f.Input != nil
	case reader.EventIdentification:
		present = f.Identification != nil
	case reader.EventPeopleCounter:
		present = f.PeopleCounter != nil
	}
	if !present {
		return kind, fmt.Errorf("event %q without payload", f.Event)
	}
	return kind, nil
}

// WriteFrame encodes f as one JSON line.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

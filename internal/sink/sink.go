// Package sink receives the human-readable output of the listener: status
// lines, decoded reports and tag observations. The listener never logs or
// prints directly; it writes to an injected Sink.
package sink

import (
	"fmt"
	"strings"
	"time"
)

// Level classifies a line.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts debug, info, warn (or warning) and error. An empty string
// is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid sink level %q", s)
}

// Line is one timestamped output line. Text may span several lines when it
// carries a rendered report.
type Line struct {
	At    time.Time
	Level Level
	Text  string
}

// String renders the line as "15:04:05 - text".
func (l Line) String() string {
	return l.At.Format("15:04:05") + " - " + l.Text
}

// Sink consumes listener output. Implementations must be safe for
// concurrent use and must not block the caller for long: Emit is called
// with the listener lock held.
type Sink interface {
	Emit(line Line)
	EmitTagObserved(tagID string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Line)              {}
func (Nop) EmitTagObserved(string) {}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Emit(line Line) {
	for _, s := range m {
		s.Emit(line)
	}
}

func (m Multi) EmitTagObserved(tagID string) {
	for _, s := range m {
		s.EmitTagObserved(tagID)
	}
}

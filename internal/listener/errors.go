package listener

import (
	"fmt"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// Start stages, in the order they run.
const (
	StageOpen         = "open"
	StageReaderType   = "reader_type"
	StageExtension    = "extension"
	StageNotification = "notification"
	StageListener     = "listener"
)

// Teardown stages, in the order Stop runs them.
const (
	TeardownListener     = "listener"
	TeardownNotification = "notification"
	TeardownExtension    = "extension"
	TeardownClose        = "close"
)

// ValidationError reports bad local input. It is raised before any session
// call is made.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// AlreadyListeningError is returned by Start when the controller is not idle.
type AlreadyListeningError struct {
	State State
}

func (e *AlreadyListeningError) Error() string {
	return fmt.Sprintf("listener already active (state %s)", e.State)
}

// StartupError is returned by Start when a stage failed. The controller has
// rolled back and is idle again.
type StartupError struct {
	Stage string
	Code  reader.Status
	Text  string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("listener start failed at %s: %s", e.Stage, e.Text)
}

func (e *StartupError) Unwrap() error { return e.Err }

// TeardownError describes one failed Stop step. Stop still runs the
// remaining steps and ends idle.
type TeardownError struct {
	Stage string
	Code  reader.Status
	Text  string
	Err   error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("listener teardown failed at %s: %s", e.Stage, e.Text)
}

func (e *TeardownError) Unwrap() error { return e.Err }

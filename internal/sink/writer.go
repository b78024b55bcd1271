package sink

import (
	"io"
	"sync"
)

// Writer prints lines at or above a minimum level to w, one per write.
// Tag observations are not printed; the tag report already carries the id.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	min Level
}

// NewWriter returns a Writer for w.
func NewWriter(w io.Writer, min Level) *Writer {
	return &Writer{w: w, min: min}
}

func (w *Writer) Emit(line Line) {
	if line.Level < w.min {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = io.WriteString(w.w, line.String()+"\n")
}

func (w *Writer) EmitTagObserved(string) {}

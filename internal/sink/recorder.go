package sink

import "sync"

// Recorder keeps everything it receives in memory. Intended for tests and
// for the status endpoint's last-lines view.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
	tags  []string
}

func (r *Recorder) Emit(line Line) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *Recorder) EmitTagObserved(tagID string) {
	r.mu.Lock()
	r.tags = append(r.tags, tagID)
	r.mu.Unlock()
}

// Lines returns a copy of the received lines.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// Texts returns the text of every received line.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	for i, l := range r.lines {
		out[i] = l.Text
	}
	return out
}

// Tags returns the observed tag ids in arrival order.
func (r *Recorder) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags...)
}

// Reset forgets everything received so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.lines, r.tags = nil, nil
	r.mu.Unlock()
}

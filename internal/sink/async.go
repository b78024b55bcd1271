package sink

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "tagwatch_sink_dropped_total",
	Help: "Sink lines and tag observations dropped because the async buffer was full.",
})

func init() {
	prometheus.MustRegister(droppedTotal)
}

// DefaultBuffer is the queue length used when NewAsync gets a size below 1.
const DefaultBuffer = 1024

type asyncItem struct {
	line  Line
	tagID string
	isTag bool
}

// Async forwards to another sink from its own goroutine. When the buffer is
// full the item is dropped and counted, so the caller never waits.
type Async struct {
	next    Sink
	ch      chan asyncItem
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsync starts the forwarding goroutine. Call Close to flush and stop it.
func NewAsync(next Sink, buffer int) *Async {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	a := &Async{
		next: next,
		ch:   make(chan asyncItem, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for it := range a.ch {
		if it.isTag {
			a.next.EmitTagObserved(it.tagID)
		} else {
			a.next.Emit(it.line)
		}
	}
}

func (a *Async) push(it asyncItem) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- it:
	default:
		a.dropped.Add(1)
		droppedTotal.Inc()
	}
}

func (a *Async) Emit(line Line) { a.push(asyncItem{line: line}) }

func (a *Async) EmitTagObserved(tagID string) { a.push(asyncItem{tagID: tagID, isTag: true}) }

// Dropped returns how many items this sink has dropped.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting items and waits until the buffered ones are
// delivered. Safe to call more than once.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

package netsession

import (
	"errors"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

type async Session

func (a *async) StartNotification(l reader.NotificationListener) error {
	s := (*Session)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.result(notOpen())
	}
	if s.notify != nil {
		return s.result(&reader.StatusError{Code: reader.StatusAlreadyRunning, Text: "notification already started"})
	}
	s.notify = l
	return s.result(nil)
}

func (a *async) StopNotification() error {
	s := (*Session)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		return s.result(&reader.StatusError{Code: reader.StatusNotRunning, Text: "notification not started"})
	}
	s.notify = nil
	return s.result(nil)
}

func (a *async) PopEvent() (reader.EventKind, error) {
	s := (*Session)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return reader.EventInvalid, notOpen()
	}
	if len(s.events) == 0 {
		return reader.EventInvalid, nil
	}
	k := s.events[0]
	s.events = s.events[1:]
	return k, nil
}

// pop removes the head of q. Callers hold s.mu.
func pop[T any](q *[]*T) *T {
	if len(*q) == 0 {
		return nil
	}
	it := (*q)[0]
	(*q)[0] = nil
	*q = (*q)[1:]
	return it
}

type tagQueue Session

func (q *tagQueue) PopItem() *reader.TagEventItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pop(&s.tags)
}

type brmQueue Session

func (q *brmQueue) PopItem() *reader.BRMItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pop(&s.brm)
}

func (q *brmQueue) ClearQueue() {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brm = nil
}

// SetQueueMaxItemCount caps the BRM queue. Zero or less removes the cap.
func (q *brmQueue) SetQueueMaxItemCount(n int) {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brmMax = n
}

type diagQueue Session

func (q *diagQueue) PopItem() *reader.DiagItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pop(&s.diag)
}

type inputQueue Session

func (q *inputQueue) PopInItem() *reader.InputEventItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pop(&s.inputs)
}

type extension struct {
	s      *Session
	closed bool
}

func (e *extension) PopPeopleCounterItem() *reader.PeopleCounterItem {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.closed {
		return nil
	}
	return pop(&e.s.people)
}

func (e *extension) Close() error {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.closed {
		return s.result(errors.New("extension already closed"))
	}
	e.closed = true
	s.people = nil
	if s.ext == e {
		s.ext = nil
	}
	return s.result(nil)
}

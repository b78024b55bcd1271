// Package readertest provides a programmable in-memory reader.Session for
// tests. Queues are filled with the Push helpers, callbacks are fired with
// Notify / Connect / Disconnect, and failures are injected per call name.
package readertest

import (
	"fmt"
	"sync"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// Call names used in the call log and with Fail.
const (
	CallOpen                = "Open"
	CallClose               = "Close"
	CallSetReaderType       = "SetReaderType"
	CallStartNotification   = "StartNotification"
	CallStopNotification    = "StopNotification"
	CallStartListenerThread = "StartListenerThread"
	CallStopListenerThread  = "StopListenerThread"
	CallOpenExtension       = "OpenExtension"
	CallCloseExtension      = "Extension.Close"
	CallClearBRM            = "BRM.ClearQueue"
)

// Compile-time interface guards.
var (
	_ reader.Session   = (*Session)(nil)
	_ reader.Async     = (*async)(nil)
	_ reader.Extension = (*extension)(nil)
)

// Session is a fake reader.Session. The zero value is not usable; call New.
type Session struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]*reader.StatusError
	lastText string

	open      bool
	listening bool
	param     reader.ListenerParam
	notify    reader.NotificationListener
	connect   reader.ConnectListener

	events  []reader.EventKind
	tags    []*reader.TagEventItem
	brm     []*reader.BRMItem
	diag    []*reader.DiagItem
	inputs  []*reader.InputEventItem
	ident   *reader.Identification
	people  []*reader.PeopleCounterItem
	brmMax  int
	ext     *extension
	readerT string
}

// New returns an empty fake session.
func New() *Session {
	return &Session{
		failures: make(map[string]*reader.StatusError),
		brmMax:   -1,
	}
}

// Opener returns a constructor that always hands out s.
func Opener(s *Session) func() (reader.Session, error) {
	return func() (reader.Session, error) { return s, nil }
}

// Fail makes the named call return code with text until Clear is called.
func (s *Session) Fail(call string, code reader.Status, text string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[call] = &reader.StatusError{Code: code, Text: text}
	return s
}

// Clear removes an injected failure.
func (s *Session) Clear(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, call)
}

// Calls returns a copy of the call log in invocation order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Listening reports whether the listener thread is running.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// IsOpen reports whether the session is open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Param returns the listener parameters of the last StartListenerThread.
func (s *Session) Param() reader.ListenerParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.param
}

// ReaderType returns the last value passed to SetReaderType.
func (s *Session) ReaderType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readerT
}

// BRMMaxItemCount returns the last SetQueueMaxItemCount value, or -1.
func (s *Session) BRMMaxItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brmMax
}

// Pending returns the number of queued events.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Queued returns the number of records waiting across all item queues.
func (s *Session) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tags) + len(s.brm) + len(s.diag) + len(s.inputs) + len(s.people)
}

// PushEvent queues an event without any item.
func (s *Session) PushEvent(kinds ...reader.EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kinds...)
}

// PushTag queues one tag event per item.
func (s *Session) PushTag(items ...*reader.TagEventItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.tags = append(s.tags, it)
		s.events = append(s.events, reader.EventTag)
	}
}

// PushBRM queues one BRM event per item.
func (s *Session) PushBRM(items ...*reader.BRMItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.brm = append(s.brm, it)
		s.events = append(s.events, reader.EventBRM)
	}
}

// PushDiag queues one diagnostic event per item.
func (s *Session) PushDiag(items ...*reader.DiagItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.diag = append(s.diag, it)
		s.events = append(s.events, reader.EventDiag)
	}
}

// PushInput queues one input event per item.
func (s *Session) PushInput(items ...*reader.InputEventItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.inputs = append(s.inputs, it)
		s.events = append(s.events, reader.EventInput)
	}
}

// PushIdentification replaces the identification snapshot and queues an event.
func (s *Session) PushIdentification(id *reader.Identification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ident = id
	s.events = append(s.events, reader.EventIdentification)
}

// PushPeopleCounter queues people-counter items behind a single event.
func (s *Session) PushPeopleCounter(items ...*reader.PeopleCounterItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people = append(s.people, items...)
	s.events = append(s.events, reader.EventPeopleCounter)
}

// Notify fires the notification callback if notification is started.
func (s *Session) Notify() {
	s.mu.Lock()
	l := s.notify
	s.mu.Unlock()
	if l != nil {
		l.OnNotification()
	}
}

// Connect fires OnConnect if the listener thread is running.
func (s *Session) Connect(addr string) {
	s.mu.Lock()
	l := s.connect
	s.mu.Unlock()
	if l != nil {
		l.OnConnect(reader.PeerInfo{Address: addr, ConnID: "test"})
	}
}

// Disconnect fires OnDisconnect if the listener thread is running.
func (s *Session) Disconnect() {
	s.mu.Lock()
	l := s.connect
	s.mu.Unlock()
	if l != nil {
		l.OnDisconnect()
	}
}

// record logs a call and returns the injected failure, if any. Callers hold s.mu.
func (s *Session) record(call string) error {
	s.calls = append(s.calls, call)
	if f, ok := s.failures[call]; ok {
		s.lastText = f.Text
		return &reader.StatusError{Code: f.Code, Text: f.Text}
	}
	s.lastText = reader.StatusOK.String()
	return nil
}

func (s *Session) Open(_ reader.RequestMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallOpen); err != nil {
		return err
	}
	s.open = true
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallClose); err != nil {
		return err
	}
	s.open = false
	s.listening = false
	s.connect = nil
	s.notify = nil
	return nil
}

func (s *Session) SetReaderType(readerType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallSetReaderType); err != nil {
		return err
	}
	s.readerT = readerType
	return nil
}

func (s *Session) Async() reader.Async { return (*async)(s) }

func (s *Session) StartListenerThread(p reader.ListenerParam, l reader.ConnectListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallStartListenerThread); err != nil {
		return err
	}
	if s.listening {
		s.lastText = reader.StatusAlreadyRunning.String()
		return &reader.StatusError{Code: reader.StatusAlreadyRunning, Text: s.lastText}
	}
	s.listening = true
	s.param = p
	s.connect = l
	return nil
}

func (s *Session) StopListenerThread() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallStopListenerThread); err != nil {
		return err
	}
	s.listening = false
	s.connect = nil
	return nil
}

func (s *Session) TagEvents() reader.TagQueue   { return (*tagQueue)(s) }
func (s *Session) BRM() reader.BRMQueue         { return (*brmQueue)(s) }
func (s *Session) Diagnostic() reader.DiagQueue { return (*diagQueue)(s) }
func (s *Session) IO() reader.InputQueue        { return (*inputQueue)(s) }

func (s *Session) LastErrorStatusText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

func (s *Session) Identification() *reader.Identification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ident == nil {
		return nil
	}
	cp := *s.ident
	return &cp
}

func (s *Session) OpenExtension() (reader.Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallOpenExtension); err != nil {
		return nil, err
	}
	s.ext = &extension{s: s}
	return s.ext, nil
}

type async Session

func (a *async) StartNotification(l reader.NotificationListener) error {
	s := (*Session)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallStartNotification); err != nil {
		return err
	}
	s.notify = l
	return nil
}

func (a *async) StopNotification() error {
	s := (*Session)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(CallStopNotification); err != nil {
		return err
	}
	s.notify = nil
	return nil
}

func (a *async) PopEvent() (reader.EventKind, error) {
	s := (*Session)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return reader.EventInvalid, nil
	}
	k := s.events[0]
	s.events = s.events[1:]
	return k, nil
}

type tagQueue Session

func (q *tagQueue) PopItem() *reader.TagEventItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tags) == 0 {
		return nil
	}
	it := s.tags[0]
	s.tags = s.tags[1:]
	return it
}

type brmQueue Session

func (q *brmQueue) PopItem() *reader.BRMItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.brm) == 0 {
		return nil
	}
	it := s.brm[0]
	s.brm = s.brm[1:]
	return it
}

func (q *brmQueue) ClearQueue() {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, CallClearBRM)
	s.brm = nil
}

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
	if len(s.diag) == 0 {
		return nil
	}
	it := s.diag[0]
	s.diag = s.diag[1:]
	return it
}

type inputQueue Session

func (q *inputQueue) PopInItem() *reader.InputEventItem {
	s := (*Session)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) == 0 {
		return nil
	}
	it := s.inputs[0]
	s.inputs = s.inputs[1:]
	return it
}

type extension struct {
	s      *Session
	closed bool
}

func (e *extension) PopPeopleCounterItem() *reader.PeopleCounterItem {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.closed || len(e.s.people) == 0 {
		return nil
	}
	it := e.s.people[0]
	e.s.people = e.s.people[1:]
	return it
}

func (e *extension) Close() error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.s.record(CallCloseExtension); err != nil {
		return err
	}
	if e.closed {
		return fmt.Errorf("extension already closed")
	}
	e.closed = true
	return nil
}

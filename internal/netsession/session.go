// Package netsession is a reader.Session that speaks newline-delimited JSON
// frames over TCP. Readers (or the tagsim simulator) dial the listener and
// stream Frame values; each frame is queued by kind and the notification
// listener is signalled.
//
// Listener callbacks are always invoked without holding the session lock,
// and StopListenerThread and Close never wait for connection goroutines.
// The controller calls both with its own lock held while connection
// goroutines may be blocked on that lock inside a callback.
package netsession

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/pkg/reader"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxPending bounds each queue when no limit is configured.
const DefaultMaxPending = 4096

const maxFrameSize = 1 << 20

var (
	_ reader.Session   = (*Session)(nil)
	_ reader.Async     = (*async)(nil)
	_ reader.Extension = (*extension)(nil)
)

// Option configures a Session.
type Option func(*Session)

// WithMaxPending bounds the number of queued events and the number of
// records held across all item queues.
func WithMaxPending(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

// WithKeepAlivePeriod sets the TCP keep-alive period used when the listener
// parameters ask for keep-alive.
func WithKeepAlivePeriod(d time.Duration) Option {
	return func(s *Session) { s.keepAlive = d }
}

// Session implements reader.Session over TCP.
type Session struct {
	logger     *zap.Logger
	maxPending int
	keepAlive  time.Duration

	mu         sync.Mutex
	open       bool
	lastText   string
	readerType string

	ln     net.Listener
	gen    uint64
	conns  map[string]net.Conn
	notify reader.NotificationListener

	events []reader.EventKind
	tags   []*reader.TagEventItem
	brm    []*reader.BRMItem
	brmMax int
	diag   []*reader.DiagItem
	inputs []*reader.InputEventItem
	ident  *reader.Identification
	people []*reader.PeopleCounterItem
	ext    *extension
}

// New returns an unopened session.
func New(logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		logger:     logger,
		maxPending: DefaultMaxPending,
		keepAlive:  30 * time.Second,
		conns:      make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Opener returns a constructor handing out a fresh Session per call.
func Opener(logger *zap.Logger, opts ...Option) func() (reader.Session, error) {
	return func() (reader.Session, error) { return New(logger, opts...), nil }
}

// result records the outcome of a call for LastErrorStatusText. Callers hold s.mu.
func (s *Session) result(err error) error {
	if err == nil {
		s.lastText = reader.StatusOK.String()
		return nil
	}
	var se *reader.StatusError
	if errors.As(err, &se) && se.Text != "" {
		s.lastText = se.Text
	} else {
		s.lastText = err.Error()
	}
	return err
}

func notOpen() error {
	return &reader.StatusError{Code: reader.StatusNotOpen, Text: reader.StatusNotOpen.String()}
}

func (s *Session) Open(mode reader.RequestMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return s.result(&reader.StatusError{Code: reader.StatusAlreadyOpen, Text: reader.StatusAlreadyOpen.String()})
	}
	if mode != reader.UniDirectional {
		return s.result(reader.Errorf(reader.StatusInvalidParameter, "only notification mode is supported"))
	}
	s.open = true
	return s.result(nil)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.result(notOpen())
	}
	s.stopLocked()
	s.open = false
	s.notify = nil
	s.events, s.tags, s.brm, s.diag, s.inputs, s.people = nil, nil, nil, nil, nil, nil
	s.ident = nil
	if s.ext != nil {
		s.ext.closed = true
		s.ext = nil
	}
	return s.result(nil)
}

func (s *Session) SetReaderType(readerType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.result(notOpen())
	}
	if readerType == "" {
		return s.result(reader.Errorf(reader.StatusInvalidParameter, "empty reader type"))
	}
	s.readerType = readerType
	return s.result(nil)
}

func (s *Session) LastErrorStatusText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

func (s *Session) StartListenerThread(p reader.ListenerParam, l reader.ConnectListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.result(notOpen())
	}
	if s.ln != nil {
		return s.result(&reader.StatusError{Code: reader.StatusAlreadyRunning, Text: reader.StatusAlreadyRunning.String()})
	}

	host := p.BindAddress
	if host == "" {
		host = "0.0.0.0"
	}
	lc := net.ListenConfig{KeepAlive: -1}
	if p.KeepAlive {
		lc.KeepAlive = s.keepAlive
	}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, strconv.Itoa(p.Port)))
	if err != nil {
		return s.result(reader.Errorf(reader.StatusListenFailed, "%v", err))
	}

	s.ln = ln
	s.gen++
	go s.acceptLoop(ln, s.gen, l)

	s.logger.Info("reader listener started", zap.String("addr", ln.Addr().String()))
	return s.result(nil)
}

// Addr returns the bound listener address, or nil when not listening.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Session) StopListenerThread() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.result(&reader.StatusError{Code: reader.StatusNotRunning, Text: reader.StatusNotRunning.String()})
	}
	s.stopLocked()
	return s.result(nil)
}

// stopLocked closes the listener and every connection without waiting for
// their goroutines.
func (s *Session) stopLocked() {
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
	s.gen++
}

func (s *Session) acceptLoop(ln net.Listener, gen uint64, l reader.ConnectListener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		id := uuid.NewString()
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[id] = conn
		s.mu.Unlock()
		go s.serve(conn, id, gen, l)
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) serve(conn net.Conn, id string, gen uint64, l reader.ConnectListener) {
	log := s.logger.With(zap.String("conn_id", id), zap.String("remote", conn.RemoteAddr().String()))
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if !s.current(gen) {
		_ = conn.Close()
		return
	}
	log.Debug("reader connected")
	l.OnConnect(reader.PeerInfo{Address: host, ConnID: id})

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			log.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		if err := s.enqueue(f); err != nil {
			log.Warn("discarding frame", zap.Error(err))
			continue
		}
		if n := s.notifier(); n != nil {
			n.OnNotification()
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("connection read ended", zap.Error(err))
	}

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	_ = conn.Close()

	if s.current(gen) {
		log.Debug("reader disconnected")
		l.OnDisconnect()
	}
}

func (s *Session) notifier() reader.NotificationListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}

var errQueueFull = errors.New("event queue full")

func (s *Session) enqueue(f Frame) error {
	kind, err := f.Kind()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errors.New("session closed")
	}
	if len(s.events) >= s.maxPending || s.queuedLocked() >= s.maxPending {
		return errQueueFull
	}
	switch kind {
	case reader.EventTag:
		s.tags = append(s.tags, f.Tag)
	case reader.EventBRM:
		if s.brmMax > 0 && len(s.brm) >= s.brmMax {
			return errQueueFull
		}
		s.brm = append(s.brm, f.BRM)
	case reader.EventDiag:
		s.diag = append(s.diag, f.Diag)
	case reader.EventInput:
		s.inputs = append(s.inputs, f.Input)
	case reader.EventIdentification:
		s.ident = f.Identification
	case reader.EventPeopleCounter:
		if s.ext == nil {
			return errors.New("people counter frame without extension")
		}
		s.people = append(s.people, f.PeopleCounter)
	}
	s.events = append(s.events, kind)
	return nil
}

// queuedLocked counts records held across all item queues.
func (s *Session) queuedLocked() int {
	return len(s.tags) + len(s.brm) + len(s.diag) + len(s.inputs) + len(s.people)
}

func (s *Session) Async() reader.Async { return (*async)(s) }

func (s *Session) TagEvents() reader.TagQueue   { return (*tagQueue)(s) }
func (s *Session) BRM() reader.BRMQueue         { return (*brmQueue)(s) }
func (s *Session) Diagnostic() reader.DiagQueue { return (*diagQueue)(s) }
func (s *Session) IO() reader.InputQueue        { return (*inputQueue)(s) }

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
	if !s.open {
		return nil, s.result(notOpen())
	}
	if s.ext != nil {
		return nil, s.result(&reader.StatusError{Code: reader.StatusAlreadyOpen, Text: "extension already open"})
	}
	s.ext = &extension{s: s}
	return s.ext, s.result(nil)
}

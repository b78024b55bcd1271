// Package listener owns a reader session in notification mode. The
// Controller opens the session, arms the notification and connection
// callbacks, starts the session's TCP listener, and drains every pending
// event into the sink whenever the reader signals new data.
//
// One mutex guards the session, the extension, the state and the connection
// flag. Every drain window runs under it and Stop takes it before releasing
// anything, so a session is never torn down mid-drain.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/tagwatch/internal/decode"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/internal/sink"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/HerbHall/tagwatch/pkg/reader"
	"go.uber.org/zap"
)

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config is the listener configuration. It is frozen by New.
type Config struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
	KeepAlive   bool   `mapstructure:"keep_alive"`
	Variant     string `mapstructure:"variant"`
	ReaderType  string `mapstructure:"reader_type"`
	// MaxDrain bounds the events handled per lock acquisition. Zero drains
	// until the session reports no pending event.
	MaxDrain int `mapstructure:"max_drain"`
}

// Validate checks the configuration without touching any session.
func (c Config) Validate() error {
	if err := checkPort(c.Port); err != nil {
		return err
	}
	if err := checkBindAddress(c.BindAddress); err != nil {
		return err
	}
	if _, ok := LookupVariant(c.Variant); !ok {
		return &ValidationError{Field: "variant", Value: c.Variant, Reason: "unknown variant"}
	}
	if c.MaxDrain < 0 {
		return &ValidationError{Field: "max_drain", Value: fmt.Sprint(c.MaxDrain), Reason: "must not be negative"}
	}
	return nil
}

// Opener creates a fresh, unopened session. It is called once per Start.
type Opener func() (reader.Session, error)

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock used to timestamp sink lines.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithBus publishes state changes on event.TopicState.
func WithBus(bus plugin.EventBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// Controller drives one reader session. It implements
// reader.ConnectListener and reader.NotificationListener.
type Controller struct {
	cfg     Config
	variant Variant
	open    Opener
	sink    sink.Sink
	logger  *zap.Logger
	bus     plugin.EventBus
	now     func() time.Time

	// state mirrors st for lock-free reads by probes.
	state atomic.Int32

	mu        sync.Mutex
	st        State
	session   reader.Session
	ext       reader.Extension
	connected bool
	peer      string
	since     time.Time
	lastErr   string
	events    uint64
	reports   uint64
	tags      uint64
}

var (
	_ reader.ConnectListener      = (*Controller)(nil)
	_ reader.NotificationListener = (*Controller)(nil)
)

// New validates cfg and returns an idle controller.
func New(cfg Config, open Opener, out sink.Sink, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, errors.New("listener: nil session opener")
	}
	if out == nil {
		out = sink.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v, _ := LookupVariant(cfg.Variant)
	cfg.Variant = v.Name

	c := &Controller{
		cfg:     cfg,
		variant: v,
		open:    open,
		sink:    out,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the frozen configuration.
func (c *Controller) Config() Config { return c.cfg }

// Variant returns the capability table in use.
func (c *Controller) Variant() Variant { return c.variant }

// State returns the current lifecycle state without taking the lock.
func (c *Controller) State() State { return State(c.state.Load()) }

// setState must be called with mu held.
func (c *Controller) setState(s State) {
	c.st = s
	c.state.Store(int32(s))
	stateGauge.Set(float64(s))
	if s == StateIdle || s == StateListening {
		c.publishState()
	}
}

func (c *Controller) publishState() {
	if c.bus == nil {
		return
	}
	c.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     event.TopicState,
		Source:    "listener",
		Timestamp: c.now(),
		Payload:   event.StatePayload{State: c.st.String(), Connected: c.connected, Peer: c.peer},
	})
}

func (c *Controller) emit(level sink.Level, text string) {
	c.sink.Emit(sink.Line{At: c.now(), Level: level, Text: text})
}

// statusText prefers the session's own description of the last call.
func statusText(s reader.Session, err error) string {
	if s != nil {
		if t := s.LastErrorStatusText(); t != "" {
			return t
		}
	}
	var se *reader.StatusError
	if errors.As(err, &se) && se.Text != "" {
		return se.Text
	}
	if err != nil {
		return err.Error()
	}
	return reader.StatusOK.String()
}

// Start opens the session and starts listening. It returns
// *AlreadyListeningError unless the controller is idle and *StartupError
// when a stage fails; in both cases nothing is left acquired.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st != StateIdle {
		return &AlreadyListeningError{State: c.st}
	}
	c.setState(StateStarting)

	if err := c.startLocked(); err != nil {
		var se *StartupError
		if errors.As(err, &se) {
			startFailuresTotal.WithLabelValues(se.Stage).Inc()
		}
		c.lastErr = err.Error()
		c.setState(StateIdle)
		return err
	}

	c.since = c.now()
	c.lastErr = ""
	c.setState(StateListening)
	c.logger.Info("listener started",
		zap.Int("port", c.cfg.Port),
		zap.String("bind_address", c.cfg.BindAddress),
		zap.String("variant", c.variant.Name),
	)
	return nil
}

func (c *Controller) startLocked() error {
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		c.session, c.ext = nil, nil
	}
	fail := func(stage, call string, s reader.Session, err error) error {
		text := statusText(s, err)
		c.emit(sink.LevelError, "Error: "+call+": "+text)
		c.logger.Error("listener start failed",
			zap.String("stage", stage),
			zap.String("call", call),
			zap.String("status", text),
			zap.Error(err),
		)
		rollback()
		return &StartupError{Stage: stage, Code: reader.CodeOf(err), Text: text, Err: err}
	}

	s, err := c.open()
	if err != nil {
		return fail(StageOpen, "open", nil, err)
	}
	if s == nil {
		return fail(StageOpen, "open", nil, reader.Errorf(reader.StatusInternal, "opener returned no session"))
	}
	if err := s.Open(reader.UniDirectional); err != nil {
		return fail(StageOpen, "open", s, err)
	}
	c.session = s
	undo = append(undo, func() {
		if err := s.Close(); err != nil {
			c.logger.Warn("rollback: close session", zap.Error(err))
		}
	})

	if c.cfg.ReaderType != "" {
		if err := s.SetReaderType(c.cfg.ReaderType); err != nil {
			return fail(StageReaderType, "setReaderType", s, err)
		}
	}

	// Residual buffered-read records belong to a previous run.
	s.BRM().ClearQueue()
	s.BRM().SetQueueMaxItemCount(0)

	if c.variant.NeedsExtension {
		ext, err := s.OpenExtension()
		if err != nil {
			return fail(StageExtension, "openExtension", s, err)
		}
		c.ext = ext
		undo = append(undo, func() {
			if err := ext.Close(); err != nil {
				c.logger.Warn("rollback: close extension", zap.Error(err))
			}
		})
	}

	// Events queued before notification starts belong to a previous run.
	if n := c.discardResidual(s); n > 0 {
		c.logger.Debug("discarded residual records", zap.Int("count", n))
	}

	if err := s.Async().StartNotification(c); err != nil {
		return fail(StageNotification, "startNotification", s, err)
	}
	c.emit(sink.LevelInfo, "notification started: "+statusText(s, nil))
	undo = append(undo, func() {
		if err := s.Async().StopNotification(); err != nil {
			c.logger.Warn("rollback: stop notification", zap.Error(err))
		}
	})

	param := reader.TCPListenerParam(c.cfg.Port, c.cfg.BindAddress, c.cfg.KeepAlive)
	if err := s.StartListenerThread(param, c); err != nil {
		return fail(StageListener, "startListenerThread", s, err)
	}
	c.emit(sink.LevelInfo, "listener thread started: "+statusText(s, nil))
	return nil
}

// Stop tears the session down. It is a no-op when idle. Every step runs
// even if an earlier one failed; the failures are returned joined, as
// *TeardownError values, and the controller always ends idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == StateIdle {
		return nil
	}
	c.setState(StateStopping)

	s := c.session
	var errs []error
	step := func(stage, call, okText string, fn func() error) {
		if fn == nil {
			return
		}
		err := fn()
		if err == nil {
			if okText == "" {
				okText = call + ": " + statusText(s, nil)
			}
			c.emit(sink.LevelInfo, okText)
			return
		}
		text := statusText(s, err)
		c.emit(sink.LevelError, "Error: "+call+": "+text)
		c.logger.Warn("listener teardown step failed",
			zap.String("stage", stage),
			zap.String("status", text),
			zap.Error(err),
		)
		teardownFailuresTotal.WithLabelValues(stage).Inc()
		errs = append(errs, &TeardownError{Stage: stage, Code: reader.CodeOf(err), Text: text, Err: err})
	}

	if s != nil {
		step(TeardownListener, "stopListenerThread", "", s.StopListenerThread)
		step(TeardownNotification, "stopNotification", "", s.Async().StopNotification)
	}
	if c.ext != nil {
		step(TeardownExtension, "closeExtension", "Extension module disposed", c.ext.Close)
	}
	if s != nil {
		step(TeardownClose, "close", "Reader module disposed", s.Close)
	}

	c.session, c.ext = nil, nil
	c.connected, c.peer = false, ""
	c.since = time.Time{}
	err := errors.Join(errs...)
	if err != nil {
		c.lastErr = err.Error()
	}
	c.setState(StateIdle)
	c.logger.Info("listener stopped", zap.Int("failed_steps", len(errs)))
	return err
}

// OnConnect is called by the session when a reader connects.
func (c *Controller) OnConnect(peer reader.PeerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateListening {
		return
	}
	c.connected, c.peer = true, peer.Address
	c.emit(sink.LevelInfo, "Reader connected at: "+peer.Address)
	c.logger.Info("reader connected", zap.String("peer", peer.Address), zap.String("conn_id", peer.ConnID))
	c.publishState()
}

// OnDisconnect is called by the session when the reader goes away.
func (c *Controller) OnDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateListening {
		return
	}
	c.connected, c.peer = false, ""
	c.emit(sink.LevelWarn, "Reader disconnected")
	c.logger.Info("reader disconnected")
	c.publishState()
}

// OnNotification drains every pending event. Signals arriving during a
// drain block on the lock and then find the queues empty or refilled.
func (c *Controller) OnNotification() {
	start := time.Now()
	defer func() { drainDuration.Observe(time.Since(start).Seconds()) }()
	for c.drainWindow() {
	}
}

// drainWindow handles up to MaxDrain events under one lock acquisition and
// reports whether more may be pending.
func (c *Controller) drainWindow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateListening || c.session == nil {
		return false
	}
	async := c.session.Async()
	for n := 0; c.cfg.MaxDrain == 0 || n < c.cfg.MaxDrain; n++ {
		kind, err := async.PopEvent()
		if err != nil {
			c.emit(sink.LevelError, "Error: popEvent: "+statusText(c.session, err))
			return false
		}
		if kind == reader.EventInvalid {
			return false
		}
		c.events++
		eventsTotal.WithLabelValues(kind.String()).Inc()
		c.dispatch(kind)
	}
	return true
}

func (c *Controller) dispatch(kind reader.EventKind) {
	h, ok := c.variant.handlers[kind]
	if !ok {
		c.emit(sink.LevelWarn, "Ignored EventType: "+kind.String())
		discard(c.session, c.ext, kind)
		return
	}
	if h.single {
		c.report(kind, h.pop(c.session, c.ext))
		return
	}
	for raw := h.pop(c.session, c.ext); raw != nil; raw = h.pop(c.session, c.ext) {
		c.report(kind, raw)
	}
}

func (c *Controller) discardResidual(s reader.Session) int {
	n := 0
	for {
		kind, err := s.Async().PopEvent()
		if err != nil || kind == reader.EventInvalid {
			break
		}
	}
	for kind := range queues {
		n += discard(s, c.ext, kind)
	}
	return n
}

func (c *Controller) report(kind reader.EventKind, raw any) {
	rep := decode.Decode(decode.Envelope{Kind: kind, Raw: raw})
	c.reports++
	reportsTotal.WithLabelValues(kind.String()).Inc()

	level := sink.LevelInfo
	switch r := rep.(type) {
	case decode.AnomalyReport:
		level = sink.LevelWarn
	case decode.DiagReport:
		if r.Degraded() {
			level = sink.LevelWarn
		}
	}
	c.emit(level, decode.Render(rep))

	if t, ok := rep.(decode.TagReport); ok {
		if id := t.TagID(); id != "" {
			c.tags++
			tagsObservedTotal.Inc()
			c.sink.EmitTagObserved(id)
		}
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State          string     `json:"state"`
	Connected      bool       `json:"connected"`
	Peer           string     `json:"peer,omitempty"`
	Port           int        `json:"port"`
	BindAddress    string     `json:"bind_address,omitempty"`
	Variant        string     `json:"variant"`
	ListeningSince *time.Time `json:"listening_since,omitempty"`
	Events         uint64     `json:"events"`
	Reports        uint64     `json:"reports"`
	TagsObserved   uint64     `json:"tags_observed"`
	LastError      string     `json:"last_error,omitempty"`
}

// Status returns a snapshot. It waits for any in-flight drain window.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:        c.st.String(),
		Connected:    c.connected,
		Peer:         c.peer,
		Port:         c.cfg.Port,
		BindAddress:  c.cfg.BindAddress,
		Variant:      c.variant.Name,
		Events:       c.events,
		Reports:      c.reports,
		TagsObserved: c.tags,
		LastError:    c.lastErr,
	}
	if !c.since.IsZero() {
		since := c.since
		st.ListeningSince = &since
	}
	return st
}

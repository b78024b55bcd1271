// Package natspub mirrors tag observations and listener state onto NATS
// subjects.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

// Config holds the NATS publisher configuration.
type Config struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ClientName    string        `mapstructure:"client_name"`
	Token         string        `mapstructure:"token"` //nolint:gosec // G101: config field name, not a credential
	Timeout       time.Duration `mapstructure:"timeout"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Lines         bool          `mapstructure:"lines"`
}

// DefaultConfig returns the publisher defaults. An empty URL disables it.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "tagwatch",
		ClientName:    "tagwatch",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// conn is the slice of *nats.Conn the module uses.
type conn interface {
	PublishMsg(m *nats.Msg) error
	IsConnected() bool
	Drain() error
}

// Module implements the NATS publisher plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config

	mu     sync.RWMutex
	conn   conn
	failed uint64
}

// New creates a new NATS publisher plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "nats",
		Version:     "0.1.0",
		Description: "Publishes tag observations and listener state to NATS subjects",
		Roles:       []string{"integration"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.cfg = DefaultConfig()
	if c := deps.Config; c != nil {
		m.cfg.URL = c.GetString("url")
		if p := c.GetString("subject_prefix"); p != "" {
			m.cfg.SubjectPrefix = p
		}
		if n := c.GetString("client_name"); n != "" {
			m.cfg.ClientName = n
		}
		m.cfg.Token = c.GetString("token")
		if d := c.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if d := c.GetDuration("reconnect_wait"); d > 0 {
			m.cfg.ReconnectWait = d
		}
		m.cfg.Lines = c.GetBool("lines")
	}
	m.logger.Info("nats module initialized",
		zap.String("url", m.cfg.URL),
		zap.String("subject_prefix", m.cfg.SubjectPrefix),
	)
	return nil
}

// ValidateConfig checks every server in the comma-separated URL list and
// the subject prefix.
func (m *Module) ValidateConfig() error {
	if m.cfg.URL == "" {
		return nil
	}
	for _, raw := range strings.Split(m.cfg.URL, ",") {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("nats url: %w", err)
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return fmt.Errorf("nats url %q: unsupported scheme %q", raw, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("nats url %q: missing host", raw)
		}
	}
	if m.cfg.SubjectPrefix == "" || strings.ContainsAny(m.cfg.SubjectPrefix, " \t*>") {
		return fmt.Errorf("nats subject_prefix %q is not a valid subject token", m.cfg.SubjectPrefix)
	}
	return nil
}

func (m *Module) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(m.cfg.ClientName),
		nats.Timeout(m.cfg.Timeout),
		nats.ReconnectWait(m.cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			m.logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if m.cfg.Token != "" {
		opts = append(opts, nats.Token(m.cfg.Token))
	}
	return opts
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.URL == "" {
		m.logger.Info("nats module started (no-op: no server configured)")
		return nil
	}
	// RetryOnFailedConnect keeps an unreachable server from failing startup.
	nc, err := nats.Connect(m.cfg.URL, m.options()...)
	if err != nil {
		m.logger.Warn("nats connect failed", zap.String("url", m.cfg.URL), zap.Error(err))
		return nil
	}
	m.mu.Lock()
	m.conn = nc
	m.mu.Unlock()
	m.logger.Info("nats module started", zap.String("url", m.cfg.URL))
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Drain(); err != nil {
		m.logger.Warn("nats drain failed", zap.Error(err))
	}
	m.logger.Info("nats module stopped")
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	subs := []plugin.Subscription{
		{Topic: event.TopicTagObserved, Handler: m.publishEvent},
		{Topic: event.TopicState, Handler: m.publishEvent},
	}
	if m.cfg.Lines {
		subs = append(subs, plugin.Subscription{Topic: event.TopicLine, Handler: m.publishEvent})
	}
	return subs
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.URL == "" {
		return plugin.HealthStatus{Status: "healthy", Message: "no server configured (no-op mode)"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil || !m.conn.IsConnected() {
		return plugin.HealthStatus{Status: "degraded", Message: "not connected to NATS"}
	}
	return plugin.HealthStatus{Status: "healthy", Message: "connected to " + m.cfg.URL}
}

// Subject maps an event bus topic onto a NATS subject under the prefix.
// Bus topics already use dotted names.
func (m *Module) Subject(topic string) string {
	return m.cfg.SubjectPrefix + "." + topic
}

func (m *Module) publishEvent(_ context.Context, e plugin.Event) {
	m.mu.RLock()
	c := m.conn
	m.mu.RUnlock()
	if c == nil {
		return
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		m.logger.Warn("failed to marshal NATS payload", zap.String("topic", e.Topic), zap.Error(err))
		return
	}
	msg := nats.NewMsg(m.Subject(e.Topic))
	msg.Data = data
	msg.Header.Set("Tagwatch-Source", e.Source)
	msg.Header.Set("Tagwatch-Timestamp", e.Timestamp.UTC().Format(time.RFC3339Nano))

	if err := c.PublishMsg(msg); err != nil {
		m.mu.Lock()
		m.failed++
		m.mu.Unlock()
		m.logger.Warn("nats publish failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

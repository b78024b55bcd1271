// Package webhook posts tag observations and listener state changes to an
// HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

const defaultQueueSize = 256

// Config holds the webhook plugin configuration.
type Config struct {
	URL       string
	Timeout   time.Duration
	Enabled   bool
	States    bool
	QueueSize int
}

// Module implements the webhook notifier plugin. Deliveries run on a single
// worker so a slow endpoint never stalls the event bus.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	queue   chan []byte
	done    chan struct{}
	dropped int
	failed  int
}

// New creates a new webhook plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "webhook",
		Version:     "0.1.0",
		Description: "Posts tag observations to a configurable webhook URL",
		Roles:       []string{"notification"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = Config{
		Timeout:   10 * time.Second,
		Enabled:   true,
		QueueSize: defaultQueueSize,
	}
	if deps.Config != nil {
		if u := deps.Config.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("enabled") {
			m.cfg.Enabled = deps.Config.GetBool("enabled")
		}
		m.cfg.States = deps.Config.GetBool("states")
		if n := deps.Config.GetInt("queue_size"); n > 0 {
			m.cfg.QueueSize = n
		}
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}

	if m.cfg.URL == "" {
		m.logger.Debug("webhook URL not configured; notifications will be dropped")
	}
	m.logger.Info("webhook module initialized",
		zap.String("url", m.cfg.URL),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Bool("enabled", m.cfg.Enabled),
	)
	return nil
}

// ValidateConfig rejects a configured URL that is not an absolute http or
// https address. An empty URL leaves the module inactive.
func (m *Module) ValidateConfig() error {
	if m.cfg.URL == "" {
		return nil
	}
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook url %q: want an absolute http or https URL", m.cfg.URL)
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue != nil || !m.active() {
		return nil
	}
	m.queue = make(chan []byte, m.cfg.QueueSize)
	m.done = make(chan struct{})
	go m.run(m.queue, m.done)
	m.logger.Info("webhook module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	q, done := m.queue, m.done
	m.queue, m.done = nil, nil
	m.mu.Unlock()
	if q == nil {
		return nil
	}
	close(q)
	<-done
	m.logger.Info("webhook module stopped")
	return nil
}

// Health reports degraded once deliveries have failed or been dropped.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active() {
		return plugin.HealthStatus{Status: "healthy", Message: "disabled"}
	}
	if m.failed > 0 || m.dropped > 0 {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "some webhook deliveries failed",
			Details: map[string]string{"url": m.cfg.URL},
		}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	subs := []plugin.Subscription{
		{Topic: event.TopicTagObserved, Handler: m.handleEvent},
	}
	if m.cfg.States {
		subs = append(subs, plugin.Subscription{Topic: event.TopicState, Handler: m.handleEvent})
	}
	return subs
}

// WebhookPayload is the JSON body sent to the webhook URL.
type WebhookPayload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func (m *Module) active() bool {
	return m.cfg.Enabled && m.cfg.URL != ""
}

func (m *Module) handleEvent(_ context.Context, e plugin.Event) {
	if !m.active() {
		return
	}

	body, err := json.Marshal(WebhookPayload{
		Event:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      e.Payload,
	})
	if err != nil {
		m.logger.Error("failed to marshal webhook payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue == nil {
		return
	}
	select {
	case m.queue <- body:
	default:
		m.dropped++
		m.logger.Warn("webhook queue full; dropping event", zap.String("topic", e.Topic))
	}
}

func (m *Module) run(queue <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for body := range queue {
		if !m.send(context.Background(), body) {
			m.mu.Lock()
			m.failed++
			m.mu.Unlock()
		}
	}
}

func (m *Module) send(ctx context.Context, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("failed to create webhook request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tagwatch-webhook/0.1")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("webhook delivery failed",
			zap.String("url", m.cfg.URL),
			zap.Error(err),
		)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.logger.Warn("webhook endpoint returned error",
			zap.String("url", m.cfg.URL),
			zap.Int("status_code", resp.StatusCode),
		)
		return false
	}
	m.logger.Debug("webhook delivered", zap.Int("status_code", resp.StatusCode))
	return true
}

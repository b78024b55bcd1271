package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/config"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/HerbHall/tagwatch/pkg/plugin/plugintest"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

// started returns an initialized and started module configured from kv.
func started(t *testing.T, kv map[string]any) *Module {
	t.Helper()
	v := viper.New()
	for k, val := range kv {
		v.Set(k, val)
	}
	m := New()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
		Logger: zaptest.NewLogger(t),
		Config: config.New(v),
	}))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func tagEvent(id string) plugin.Event {
	return plugin.Event{
		Topic:     event.TopicTagObserved,
		Source:    "listener",
		Timestamp: time.Date(2025, 5, 20, 9, 15, 0, 0, time.UTC),
		Payload:   event.TagObservedPayload{TagID: id},
	}
}

type capture struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	headers  []http.Header
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestSubscriptions(t *testing.T) {
	tagsOnly := started(t, map[string]any{})
	assert.Len(t, tagsOnly.Subscriptions(), 1)
	assert.Equal(t, event.TopicTagObserved, tagsOnly.Subscriptions()[0].Topic)

	withStates := started(t, map[string]any{"states": true})
	subs := withStates.Subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, event.TopicState, subs[1].Topic)
}

func TestDelivery(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	m := started(t, map[string]any{"url": srv.URL, "timeout": "5s"})
	m.handleEvent(context.Background(), tagEvent("E2004101"))
	require.NoError(t, m.Stop(context.Background()))

	require.Equal(t, 1, c.count())
	p := c.payloads[0]
	assert.Equal(t, event.TopicTagObserved, p.Event)
	assert.Equal(t, "listener", p.Source)
	assert.Equal(t, "2025-05-20T09:15:00Z", p.Timestamp)
	assert.Equal(t, "E2004101", p.Data.(map[string]any)["tag_id"])
	assert.Equal(t, "application/json", c.headers[0].Get("Content-Type"))
	assert.Equal(t, "tagwatch-webhook/0.1", c.headers[0].Get("User-Agent"))
	assert.Equal(t, "healthy", m.Health(context.Background()).Status)
}

func TestInactiveModuleSendsNothing(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	tests := map[string]map[string]any{
		"disabled": {"url": srv.URL, "enabled": false},
		"no url":   {},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			m := started(t, kv)
			m.handleEvent(context.Background(), tagEvent("01"))
			require.NoError(t, m.Stop(context.Background()))

			h := m.Health(context.Background())
			assert.Equal(t, "healthy", h.Status)
			assert.Equal(t, "disabled", h.Message)
		})
	}
	assert.Zero(t, c.count())
}

func TestEndpointErrorDegradesHealth(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusBadGateway))
	defer srv.Close()

	m := started(t, map[string]any{"url": srv.URL})
	m.handleEvent(context.Background(), tagEvent("01"))
	require.NoError(t, m.Stop(context.Background()))

	h := m.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, srv.URL, h.Details["url"])
}

func TestFullQueueDropsEvents(t *testing.T) {
	release := make(chan struct{})
	var hits sync.WaitGroup
	hits.Add(1)
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		once.Do(hits.Done)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := started(t, map[string]any{"url": srv.URL, "queue_size": 1})
	m.handleEvent(context.Background(), tagEvent("01"))
	hits.Wait()

	m.handleEvent(context.Background(), tagEvent("02"))
	m.handleEvent(context.Background(), tagEvent("03"))
	close(release)
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, "degraded", m.Health(context.Background()).Status)
}

func TestEventsAfterStopAreIgnored(t *testing.T) {
	m := started(t, map[string]any{"url": "http://127.0.0.1:1"})
	require.NoError(t, m.Stop(context.Background()))
	assert.NotPanics(t, func() { m.handleEvent(context.Background(), tagEvent("01")) })
}

func TestValidateConfig(t *testing.T) {
	tests := map[string]struct {
		url     string
		wantErr bool
	}{
		"unset":       {url: ""},
		"http":        {url: "http://hooks.local:8080/rfid"},
		"https":       {url: "https://example.com/tags"},
		"no scheme":   {url: "hooks.local/rfid", wantErr: true},
		"ftp":         {url: "ftp://hooks.local/rfid", wantErr: true},
		"no host":     {url: "http:///rfid", wantErr: true},
		"unparseable": {url: "http://[::1", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			m := started(t, map[string]any{"url": tt.url})
			err := m.ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

package natspub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/config"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/HerbHall/tagwatch/pkg/plugin/plugintest"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

type fakeConn struct {
	mu        sync.Mutex
	msgs      []*nats.Msg
	connected bool
	drained   bool
	err       error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) IsConnected() bool { return f.connected }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func newModule(t *testing.T, c conn) *Module {
	t.Helper()
	m := New()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{Logger: zaptest.NewLogger(t)}))
	m.conn = c
	return m
}

func TestSubject(t *testing.T) {
	m := newModule(t, nil)
	assert.Equal(t, "tagwatch.listener.tag_observed", m.Subject(event.TopicTagObserved))
	assert.Equal(t, "tagwatch.listener.state", m.Subject(event.TopicState))
}

func TestSubscriptions(t *testing.T) {
	m := newModule(t, nil)
	require.Len(t, m.Subscriptions(), 2)

	m.cfg.Lines = true
	subs := m.Subscriptions()
	require.Len(t, subs, 3)
	assert.Equal(t, event.TopicLine, subs[2].Topic)
}

func TestPublishEvent(t *testing.T) {
	fc := &fakeConn{connected: true}
	m := newModule(t, fc)

	m.publishEvent(context.Background(), plugin.Event{
		Topic:     event.TopicTagObserved,
		Source:    "listener",
		Timestamp: time.Date(2025, 5, 20, 9, 15, 0, 0, time.UTC),
		Payload:   event.TagObservedPayload{TagID: "E2004101", At: time.Date(2025, 5, 20, 9, 15, 0, 0, time.UTC)},
	})

	require.Len(t, fc.msgs, 1)
	msg := fc.msgs[0]
	assert.Equal(t, "tagwatch.listener.tag_observed", msg.Subject)
	assert.JSONEq(t, `{"tag_id":"E2004101","at":"2025-05-20T09:15:00Z"}`, string(msg.Data))
	assert.Equal(t, "listener", msg.Header.Get("Tagwatch-Source"))
	assert.Equal(t, "2025-05-20T09:15:00Z", msg.Header.Get("Tagwatch-Timestamp"))
}

func TestPublishEvent_NoConnection(t *testing.T) {
	m := newModule(t, nil)
	m.publishEvent(context.Background(), plugin.Event{Topic: event.TopicState, Payload: event.StatePayload{State: "idle"}})
}

func TestPublishEvent_FailureIsCounted(t *testing.T) {
	fc := &fakeConn{connected: true, err: errors.New("nats: connection closed")}
	m := newModule(t, fc)

	m.publishEvent(context.Background(), plugin.Event{Topic: event.TopicState, Payload: event.StatePayload{State: "idle"}})

	assert.Equal(t, uint64(1), m.failed)
}

func TestHealth(t *testing.T) {
	m := New()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}))
	assert.Equal(t, "healthy", m.Health(context.Background()).Status)

	m.cfg.URL = "nats://127.0.0.1:4222"
	assert.Equal(t, "degraded", m.Health(context.Background()).Status)

	m.conn = &fakeConn{connected: true}
	assert.Equal(t, "healthy", m.Health(context.Background()).Status)
}

func TestStop_DrainsConnection(t *testing.T) {
	fc := &fakeConn{connected: true}
	m := newModule(t, fc)

	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, fc.drained)
	assert.Nil(t, m.conn)
	require.NoError(t, m.Stop(context.Background()))
}

func TestValidateConfig(t *testing.T) {
	tests := map[string]struct {
		url, prefix string
		wantErr     bool
	}{
		"unset":         {},
		"single server": {url: "nats://127.0.0.1:4222"},
		"server list":   {url: "nats://a:4222, tls://b:4443"},
		"websocket":     {url: "wss://nats.example.com"},
		"http scheme":   {url: "http://127.0.0.1:4222", wantErr: true},
		"bare host":     {url: "127.0.0.1:4222", wantErr: true},
		"one bad entry": {url: "nats://a:4222,mqtt://b:1883", wantErr: true},
		"wildcard":      {url: "nats://a:4222", prefix: "dock.*", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			v.Set("url", tt.url)
			v.Set("subject_prefix", tt.prefix)
			m := New()
			require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
				Logger: zaptest.NewLogger(t),
				Config: config.New(v),
			}))
			err := m.ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

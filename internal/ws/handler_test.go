package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T) (*Handler, *event.Bus, string) {
	t.Helper()
	bus := event.NewBus(zaptest.NewLogger(t))
	h := NewHandler(bus, zaptest.NewLogger(t))
	t.Cleanup(h.Close)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, h *Handler, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	before := h.Hub().ClientCount()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	require.Eventually(t, func() bool { return h.Hub().ClientCount() == before+1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHandler_StreamsBusEvents(t *testing.T) {
	h, bus, base := startServer(t)
	conn := dial(t, h, base+"/api/v1/ws/events")

	require.NoError(t, bus.Publish(context.Background(), plugin.Event{
		Topic:   event.TopicTagObserved,
		Source:  "listener",
		Payload: event.TagObservedPayload{TagID: "E2004101"},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got struct {
		Type   MessageType `json:"type"`
		Source string      `json:"source"`
		Data   struct {
			TagID string `json:"tag_id"`
		} `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, MessageTag, got.Type)
	assert.Equal(t, "listener", got.Source)
	assert.Equal(t, "E2004101", got.Data.TagID)
}

func TestHandler_TypeFilter(t *testing.T) {
	h, bus, base := startServer(t)
	conn := dial(t, h, base+"/api/v1/ws/events?types=state")

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, plugin.Event{Topic: event.TopicLine, Payload: event.LinePayload{Text: "ignored"}}))
	require.NoError(t, bus.Publish(ctx, plugin.Event{Topic: event.TopicState, Payload: event.StatePayload{State: "listening"}}))

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var got Message
	require.NoError(t, wsjson.Read(readCtx, conn, &got))
	assert.Equal(t, MessageState, got.Type)
}

func TestHandler_RejectsUnknownType(t *testing.T) {
	bus := event.NewBus(zaptest.NewLogger(t))
	h := NewHandler(bus, zaptest.NewLogger(t))
	defer h.Close()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws/events?types=tag,bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CloseUnsubscribes(t *testing.T) {
	bus := event.NewBus(zaptest.NewLogger(t))
	h := NewHandler(bus, zaptest.NewLogger(t))
	c := newTestClient("kiosk")
	h.Hub().Register(c)

	h.Close()
	require.NoError(t, bus.Publish(context.Background(), plugin.Event{Topic: event.TopicState}))

	assert.Len(t, c.send, 0)
}

func TestHandler_NilBus(t *testing.T) {
	h := NewHandler(nil, zaptest.NewLogger(t))
	h.Close()
	assert.Equal(t, 0, h.Hub().ClientCount())
}

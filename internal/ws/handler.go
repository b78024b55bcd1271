// Package ws streams listener output, tag observations and state changes to
// WebSocket clients.
package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/HerbHall/tagwatch/internal/auth"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides the WebSocket event stream endpoint.
type Handler struct {
	hub         *Hub
	logger      *zap.Logger
	origins     []string
	unsubscribe []func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes it to bus. Allowed
// origins are host patterns; none means same-origin only.
func NewHandler(bus plugin.EventBus, logger *zap.Logger, origins ...string) *Handler {
	h := &Handler{
		hub:     NewHub(logger),
		logger:  logger,
		origins: origins,
	}
	h.subscribeToEvents(bus)
	return h
}

// Hub exposes the handler's client hub.
func (h *Handler) Hub() *Hub { return h.hub }

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// Close detaches the handler from the bus.
func (h *Handler) Close() {
	for _, u := range h.unsubscribe {
		u()
	}
	h.unsubscribe = nil
}

// handleEvents upgrades the connection and streams bus events. The optional
// types query parameter is a comma-separated filter such as "tag,state".
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	types := make(map[MessageType]bool)
	if q := r.URL.Query().Get("types"); q != "" {
		for _, name := range strings.Split(q, ",") {
			t, ok := ParseMessageType(strings.TrimSpace(name))
			if !ok {
				http.Error(w, "unknown message type "+name, http.StatusBadRequest)
				return
			}
			types[t] = true
		}
	}

	subject := "anonymous"
	if c := auth.ClaimsFromContext(r.Context()); c != nil {
		subject = c.Subject
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, subject, types, h.logger)
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards the listener topics to connected clients.
func (h *Handler) subscribeToEvents(bus plugin.EventBus) {
	if bus == nil {
		return
	}
	for _, topic := range []string{event.TopicLine, event.TopicTagObserved, event.TopicState} {
		h.unsubscribe = append(h.unsubscribe, bus.Subscribe(topic, h.forward))
	}
	h.logger.Debug("subscribed to listener events for WebSocket broadcasting")
}

func (h *Handler) forward(_ context.Context, e plugin.Event) {
	t, ok := messageTypeForTopic(e.Topic)
	if !ok {
		return
	}
	h.hub.Broadcast(Message{
		Type:      t,
		Source:    e.Source,
		Timestamp: e.Timestamp,
		Data:      e.Payload,
	})
}

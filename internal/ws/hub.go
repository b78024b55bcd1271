package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// sendBuffer is the per-client queue length.
const sendBuffer = 256

var (
	clientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagwatch_ws_clients",
		Help: "Connected WebSocket event stream clients.",
	})
	droppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_ws_dropped_messages_total",
		Help: "Messages dropped because a client's send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(clientsGauge, droppedMessages)
}

// Client represents a connected WebSocket client.
type Client struct {
	conn    *websocket.Conn
	subject string
	types   map[MessageType]bool
	send    chan Message
	logger  *zap.Logger
}

func newClient(conn *websocket.Conn, subject string, types map[MessageType]bool, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		subject: subject,
		types:   types,
		send:    make(chan Message, sendBuffer),
		logger:  logger,
	}
}

// wants reports whether the client subscribed to t. No filter means all.
func (c *Client) wants(t MessageType) bool {
	return len(c.types) == 0 || c.types[t]
}

// Hub manages active WebSocket connections and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(n))
	h.logger.Debug("websocket client connected", zap.String("subject", c.subject))
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(n))
	h.logger.Debug("websocket client disconnected", zap.String("subject", c.subject))
}

// Broadcast sends a message to every client subscribed to its type. Slow
// clients lose messages rather than stall the sender.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(msg.Type) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			droppedMessages.Inc()
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("subject", c.subject))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump sends messages from the client's send channel to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains the socket to detect client disconnect. Clients are not
// expected to send anything.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

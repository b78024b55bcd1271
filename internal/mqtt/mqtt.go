// Package mqtt publishes tag observations and listener state to an MQTT
// broker, with optional Home Assistant auto-discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// Module implements the MQTT publisher plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	topics StateTopics
	client pahomqtt.Client
	mu     sync.RWMutex
}

// New creates a new MQTT publisher plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "mqtt",
		Version:     "0.1.0",
		Description: "Publishes tag observations and listener state to an MQTT broker",
		Roles:       []string{"notification", "integration"},
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
		if u := c.GetString("broker_url"); u != "" {
			m.cfg.BrokerURL = u
		}
		if u := c.GetString("username"); u != "" {
			m.cfg.Username = u
		}
		if p := c.GetString("password"); p != "" {
			m.cfg.Password = p
		}
		if id := c.GetString("client_id"); id != "" {
			m.cfg.ClientID = id
		}
		if t := c.GetString("topic_prefix"); t != "" {
			m.cfg.TopicPrefix = t
		}
		if c.IsSet("qos") {
			m.cfg.QoS = byte(c.GetInt("qos"))
		}
		if c.IsSet("retain") {
			m.cfg.Retain = c.GetBool("retain")
		}
		if d := c.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		m.cfg.Lines = c.GetBool("lines")
		m.cfg.HADiscovery = c.GetBool("ha_discovery")
		if p := c.GetString("ha_discovery_prefix"); p != "" {
			m.cfg.HADiscoveryPrefix = p
		}
		if n := c.GetString("node_id"); n != "" {
			m.cfg.NodeID = n
		}
	}
	m.topics = NewStateTopics(m.cfg.TopicPrefix, m.cfg.NodeID)

	if m.cfg.BrokerURL == "" {
		m.logger.Debug("MQTT broker URL not configured; events will be dropped")
	}
	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ha_discovery", m.cfg.HADiscovery),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetOnConnectHandler(func(pahomqtt.Client) { m.announce() })

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}
	// A clean loss of the process marks the reader as disconnected.
	opts.SetWill(m.topics.Connected, "OFF", m.cfg.QoS, true)

	client := pahomqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.publishLocked(m.topics.Connected, true, []byte("OFF"))
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
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
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

// mqttTopicFromEvent maps an event bus topic to an MQTT topic path.
func (m *Module) mqttTopicFromEvent(eventTopic string) string {
	switch eventTopic {
	case event.TopicTagObserved:
		return m.cfg.TopicPrefix + "/tag/observed"
	case event.TopicState:
		return m.cfg.TopicPrefix + "/listener/state"
	case event.TopicLine:
		return m.cfg.TopicPrefix + "/listener/line"
	default:
		return m.cfg.TopicPrefix + "/unknown"
	}
}

func (m *Module) publishEvent(_ context.Context, e plugin.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		m.logger.Warn("failed to marshal MQTT payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	// State is retained so late subscribers see the current listener state.
	retain := m.cfg.Retain || e.Topic == event.TopicState
	if !m.publishLocked(m.mqttTopicFromEvent(e.Topic), retain, payload) {
		return
	}

	if m.cfg.HADiscovery {
		m.publishEntityState(e)
	}
}

// publishEntityState updates the retained topics behind the HA entities.
func (m *Module) publishEntityState(e plugin.Event) {
	switch p := e.Payload.(type) {
	case event.TagObservedPayload:
		m.publishLocked(m.topics.LastTag, true, []byte(p.TagID))
	case *event.TagObservedPayload:
		m.publishLocked(m.topics.LastTag, true, []byte(p.TagID))
	case event.StatePayload:
		m.publishStateLocked(p)
	case *event.StatePayload:
		m.publishStateLocked(*p)
	}
}

func (m *Module) publishStateLocked(p event.StatePayload) {
	connected := "OFF"
	if p.Connected {
		connected = "ON"
	}
	m.publishLocked(m.topics.Connected, true, []byte(connected))
	m.publishLocked(m.topics.State, true, []byte(p.State))
}

// announce publishes the HA discovery configs, or removes this node's
// entities when discovery is off. Invoked by paho on every (re)connect.
func (m *Module) announce() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	configs := BuildListenerRemovalConfigs(m.cfg.NodeID, m.cfg.HADiscoveryPrefix)
	if m.cfg.HADiscovery {
		configs = BuildListenerDiscoveryConfigs(m.cfg.NodeID, m.topics, m.cfg.HADiscoveryPrefix)
	}
	for _, cfg := range configs {
		m.publishLocked(cfg.Topic, true, cfg.Payload)
	}
}

// publishLocked publishes one message and waits for the broker ack. Callers
// hold m.mu.
func (m *Module) publishLocked(topic string, retain bool, payload []byte) bool {
	if m.client == nil {
		return false
	}
	token := m.client.Publish(topic, m.cfg.QoS, retain, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", topic))
		return false
	}
	if token.Error() != nil {
		m.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", topic),
			zap.Error(token.Error()),
		)
		return false
	}
	m.logger.Debug("mqtt message published", zap.String("mqtt_topic", topic))
	return true
}

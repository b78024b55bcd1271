package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config (empty = remove)
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
}

// BinarySensorConfig is the HA discovery payload for binary_sensor.
type BinarySensorConfig struct {
	Name        string   `json:"name"`
	ObjectID    string   `json:"object_id"`
	UniqueID    string   `json:"unique_id"`
	StateTopic  string   `json:"state_topic"`
	DeviceClass string   `json:"device_class,omitempty"`
	PayloadOn   string   `json:"payload_on"`
	PayloadOff  string   `json:"payload_off"`
	Device      HADevice `json:"device"`
	Icon        string   `json:"icon,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name       string   `json:"name"`
	ObjectID   string   `json:"object_id"`
	UniqueID   string   `json:"unique_id"`
	StateTopic string   `json:"state_topic"`
	Icon       string   `json:"icon,omitempty"`
	Device     HADevice `json:"device"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// StateTopics are the retained topics the discovery entities read.
type StateTopics struct {
	Connected string
	State     string
	LastTag   string
}

// NewStateTopics derives the state topics for a node under prefix.
func NewStateTopics(prefix, nodeID string) StateTopics {
	base := prefix + "/" + SafeObjectID(nodeID)
	return StateTopics{
		Connected: base + "/connected",
		State:     base + "/state",
		LastTag:   base + "/last_tag",
	}
}

// BuildListenerDiscoveryConfigs creates HA discovery payloads for one
// listener node: a reader connectivity binary_sensor, a listener state
// sensor and a last observed tag sensor.
func BuildListenerDiscoveryConfigs(nodeID string, topics StateTopics, haPrefix string) []DiscoveryConfig {
	safeID := SafeObjectID(nodeID)
	device := HADevice{
		Identifiers:  []string{"tagwatch_" + safeID},
		Name:         "tagwatch " + nodeID,
		Model:        "notification listener",
		Manufacturer: "tagwatch",
	}

	entities := []struct {
		component string
		name      string
		value     any
	}{
		{"binary_sensor", "connected", BinarySensorConfig{
			Name:        device.Name + " Reader Connected",
			ObjectID:    "tagwatch_" + safeID + "_connected",
			UniqueID:    "tagwatch_" + safeID + "_connected",
			StateTopic:  topics.Connected,
			DeviceClass: "connectivity",
			PayloadOn:   "ON",
			PayloadOff:  "OFF",
			Device:      device,
		}},
		{"sensor", "state", SensorConfig{
			Name:       device.Name + " State",
			ObjectID:   "tagwatch_" + safeID + "_state",
			UniqueID:   "tagwatch_" + safeID + "_state",
			StateTopic: topics.State,
			Icon:       "mdi:antenna",
			Device:     device,
		}},
		{"sensor", "last_tag", SensorConfig{
			Name:       device.Name + " Last Tag",
			ObjectID:   "tagwatch_" + safeID + "_last_tag",
			UniqueID:   "tagwatch_" + safeID + "_last_tag",
			StateTopic: topics.LastTag,
			Icon:       "mdi:nfc-variant",
			Device:     device,
		}},
	}

	configs := make([]DiscoveryConfig, 0, len(entities))
	for _, e := range entities {
		payload, err := json.Marshal(e.value)
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/%s/tagwatch_%s/%s/config", haPrefix, e.component, safeID, e.name),
			Payload: payload,
		})
	}
	return configs
}

// BuildListenerRemovalConfigs returns empty payloads that remove the node's
// entities from HA.
func BuildListenerRemovalConfigs(nodeID, haPrefix string) []DiscoveryConfig {
	safeID := SafeObjectID(nodeID)
	return []DiscoveryConfig{
		{Topic: fmt.Sprintf("%s/binary_sensor/tagwatch_%s/connected/config", haPrefix, safeID)},
		{Topic: fmt.Sprintf("%s/sensor/tagwatch_%s/state/config", haPrefix, safeID)},
		{Topic: fmt.Sprintf("%s/sensor/tagwatch_%s/last_tag/config", haPrefix, safeID)},
	}
}

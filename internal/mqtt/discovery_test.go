package mqtt

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSafeObjectID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "dock-door-4", "dock_door_4"},
		{"uppercase", "Dock4", "dock4"},
		{"IP address", "192.168.1.1", "192_168_1_1"},
		{"leading special chars", "---gate", "gate"},
		{"empty string", "", "unknown"},
		{"only special chars", "---", "unknown"},
		{"underscores preserved", "gate_01", "gate_01"},
		{"spaces", "loading bay", "loading_bay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeObjectID(tt.input); got != tt.want {
				t.Errorf("SafeObjectID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewStateTopics(t *testing.T) {
	got := NewStateTopics("site/a", "Dock 4")
	if got.Connected != "site/a/dock_4/connected" {
		t.Errorf("Connected = %q", got.Connected)
	}
	if got.State != "site/a/dock_4/state" {
		t.Errorf("State = %q", got.State)
	}
	if got.LastTag != "site/a/dock_4/last_tag" {
		t.Errorf("LastTag = %q", got.LastTag)
	}
}

func TestBuildListenerDiscoveryConfigs(t *testing.T) {
	topics := NewStateTopics("tagwatch", "dock4")
	configs := BuildListenerDiscoveryConfigs("dock4", topics, "homeassistant")
	if len(configs) != 3 {
		t.Fatalf("got %d configs, want 3", len(configs))
	}

	wantTopics := []string{
		"homeassistant/binary_sensor/tagwatch_dock4/connected/config",
		"homeassistant/sensor/tagwatch_dock4/state/config",
		"homeassistant/sensor/tagwatch_dock4/last_tag/config",
	}
	for i, want := range wantTopics {
		if configs[i].Topic != want {
			t.Errorf("configs[%d].Topic = %q, want %q", i, configs[i].Topic, want)
		}
	}

	var bs BinarySensorConfig
	if err := json.Unmarshal(configs[0].Payload, &bs); err != nil {
		t.Fatalf("unmarshal binary sensor: %v", err)
	}
	if bs.StateTopic != topics.Connected {
		t.Errorf("StateTopic = %q, want %q", bs.StateTopic, topics.Connected)
	}
	if bs.DeviceClass != "connectivity" || bs.PayloadOn != "ON" || bs.PayloadOff != "OFF" {
		t.Errorf("unexpected binary sensor %+v", bs)
	}
	if len(bs.Device.Identifiers) != 1 || bs.Device.Identifiers[0] != "tagwatch_dock4" {
		t.Errorf("Identifiers = %v", bs.Device.Identifiers)
	}

	var last SensorConfig
	if err := json.Unmarshal(configs[2].Payload, &last); err != nil {
		t.Fatalf("unmarshal sensor: %v", err)
	}
	if last.StateTopic != topics.LastTag {
		t.Errorf("StateTopic = %q, want %q", last.StateTopic, topics.LastTag)
	}
	if !strings.HasSuffix(last.UniqueID, "_last_tag") {
		t.Errorf("UniqueID = %q", last.UniqueID)
	}
}

func TestBuildListenerRemovalConfigs(t *testing.T) {
	configs := BuildListenerRemovalConfigs("Dock 4", "ha")
	if len(configs) != 3 {
		t.Fatalf("got %d configs, want 3", len(configs))
	}
	for _, c := range configs {
		if len(c.Payload) != 0 {
			t.Errorf("%s: payload should be empty for removal", c.Topic)
		}
		if !strings.HasPrefix(c.Topic, "ha/") || !strings.Contains(c.Topic, "tagwatch_dock_4") {
			t.Errorf("unexpected topic %q", c.Topic)
		}
	}
}

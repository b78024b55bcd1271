package event

import "time"

// Topics published by tagwatch.
const (
	// TopicLine carries every sink line as a LinePayload.
	TopicLine = "listener.line"
	// TopicTagObserved carries a TagObservedPayload per tag event with a valid id.
	TopicTagObserved = "listener.tag_observed"
	// TopicState carries a StatePayload whenever the controller changes state.
	TopicState = "listener.state"
)

// LinePayload is one rendered sink line.
type LinePayload struct {
	At    time.Time `json:"at"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
}

// TagObservedPayload announces a tag identifier seen in a tag event.
type TagObservedPayload struct {
	TagID string    `json:"tag_id"`
	At    time.Time `json:"at"`
}

// StatePayload describes a controller state transition.
type StatePayload struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Peer      string `json:"peer,omitempty"`
}

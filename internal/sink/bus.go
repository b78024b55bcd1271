package sink

import (
	"context"
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
)

// Bus publishes lines and tag observations to the event bus so integrations
// can consume them. Publishing is synchronous; wrap it in Async to keep bus
// handlers off the listener's dispatch path.
type Bus struct {
	pub    plugin.Publisher
	source string
	now    func() time.Time
}

// NewBus returns a sink that publishes with the given event source name.
func NewBus(pub plugin.Publisher, source string) *Bus {
	return &Bus{pub: pub, source: source, now: time.Now}
}

func (b *Bus) Emit(line Line) {
	_ = b.pub.Publish(context.Background(), plugin.Event{
		Topic:     event.TopicLine,
		Source:    b.source,
		Timestamp: line.At,
		Payload:   event.LinePayload{At: line.At, Level: line.Level.String(), Text: line.Text},
	})
}

func (b *Bus) EmitTagObserved(tagID string) {
	at := b.now()
	_ = b.pub.Publish(context.Background(), plugin.Event{
		Topic:     event.TopicTagObserved,
		Source:    b.source,
		Timestamp: at,
		Payload:   event.TagObservedPayload{TagID: tagID, At: at},
	})
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/barong-agent/core"
)

const DefaultTopic = "barong.session"

// Envelope is the message payload published for every session event
type Envelope struct {
	ID         string          `json:"id"`
	Type       core.EventType  `json:"type"`
	AuthState  core.State      `json:"authState"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
		now:       time.Now,
	}
}

// Publish publishes a session event. Secrets carried by events are not
// serialised.
func (p *WatermillPublisher) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	id := watermill.NewUUID()
	body, err := json.Marshal(Envelope{
		ID:         id,
		Type:       event.Type(),
		AuthState:  event.AuthState(),
		OccurredAt: p.now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := message.NewMessage(id, body)
	msg.Metadata.Set("event_type", string(event.Type()))
	msg.Metadata.Set("auth_state", string(event.AuthState()))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

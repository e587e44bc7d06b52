package mq

import (
	"context"
	"encoding/json"

	"github.com/taskhive/apiserver/types"
)

const attrEventType = "type"

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error nacks the message.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker operations the application uses.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Broker publishes task lifecycle events to a single channel on the
// configured backend. Events are JSON-encoded with the event type
// duplicated as a message attribute so consumers can filter without
// decoding the body.
type Broker struct {
	backend Backend
	channel string
}

// NewBroker wraps a backend for the given event channel.
func NewBroker(backend Backend, channel string) *Broker {
	return &Broker{backend: backend, channel: channel}
}

// PublishEvent sends a task event and returns the broker message id.
func (b *Broker) PublishEvent(ctx context.Context, event types.TaskEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return b.backend.Publish(ctx, b.channel, payload, map[string]string{attrEventType: event.Type})
}

// SubscribeEvents consumes task events until ctx ends, decoding each
// message body before handing it to the handler.
func (b *Broker) SubscribeEvents(ctx context.Context, handler func(ctx context.Context, event types.TaskEvent) error) error {
	return b.backend.Subscribe(ctx, b.channel, func(ctx context.Context, msg Message) error {
		var event types.TaskEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return err
		}
		return handler(ctx, event)
	})
}

// Close closes the underlying backend.
func (b *Broker) Close() error {
	return b.backend.Close()
}

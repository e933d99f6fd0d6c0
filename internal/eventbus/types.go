package eventbus

import (
	"context"
)

// Event is a published notification: a named topic (e.g.
// "ha.established", "anchor.updated"), the HIT the event concerns
// (used for partition routing and as a correlation key for
// subscribers), and an arbitrary JSON-serializable payload.
type Event struct {
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
}

// Handler processes one event delivered on its topic's subscription.
type Handler func(event *Event) error

// Subscriber pairs a topic with the handler registered for it.
type Subscriber struct {
	Topic   string
	Handler Handler
}

// partition is one of the bus's independent, ordered event queues.
type partition struct {
	id      int
	queue   chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
}

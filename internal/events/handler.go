// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events. Handlers run on their own goroutine per event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the write side of the bus handed to producers.
type Publisher interface {
	Publish(event Event) error
}

// Subscription represents a subscription to events.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id    string
	bus   *Bus
	types []EventType
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id, s.types)
}

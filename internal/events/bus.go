// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed = errors.New("event bus is shutting down")
	ErrBusFull   = errors.New("event channel full")
)

// Bus is an in-memory event bus. Publish never blocks the producer: when the
// buffer is full the event is dropped and logged.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	queue    chan Event
}

// NewBus creates a bus and starts its dispatcher.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		handlers: make(map[EventType]map[string]Handler),
		logger:   logger.Named("events"),
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan Event, bufferSize),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers handler for every listed event type.
func (b *Bus) Subscribe(handler Handler, types ...EventType) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	for _, t := range types {
		if b.handlers[t] == nil {
			b.handlers[t] = make(map[string]Handler)
		}
		b.handlers[t][id] = handler
	}
	b.logger.Debug("Handler subscribed",
		zap.String("subscription_id", id),
		zap.Int("event_types", len(types)))

	return &subscription{id: id, bus: b, types: types}
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(fn func(context.Context, Event) error, types ...EventType) Subscription {
	return b.Subscribe(HandlerFunc(fn), types...)
}

// Publish enqueues event for asynchronous delivery.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}
	select {
	case b.queue <- event:
		return nil
	default:
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())),
			zap.String("event_id", event.ID()))
		return ErrBusFull
	}
}

// PublishSync delivers event to every handler on the caller's goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make(map[string]Handler, len(b.handlers[event.Type()]))
	for id, h := range b.handlers[event.Type()] {
		handlers[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d handlers failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			for {
				select {
				case event := <-b.queue:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.queue:
			b.wg.Add(1)
			go func(e Event) {
				defer b.wg.Done()
				_ = b.PublishSync(b.ctx, e)
			}(event)
		}
	}
}

func (b *Bus) unsubscribe(id string, types []EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		if handlers, ok := b.handlers[t]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.handlers, t)
			}
		}
	}
}

// Shutdown stops accepting events, drains the queue and waits for running
// handlers until ctx expires.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

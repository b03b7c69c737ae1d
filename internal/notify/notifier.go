// internal/notify/notifier.go
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
)

const DefaultTimeout = 10 * time.Second

// Sink is one notification channel.
type Sink interface {
	Send(ctx context.Context, title, body string) error
	Name() string
}

// LogSink writes notifications to the log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, title, body string) error {
	l.logger.Info(title, zap.String("body", body))
	return nil
}

// Notifier renders bus events and fans them out to every sink. Delivery is
// asynchronous and failures are only logged.
type Notifier struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewNotifier(sinks []Sink, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.Named("notifier"),
	}
}

// Subscribe attaches the notifier to every event type it can render.
func (n *Notifier) Subscribe(bus *events.Bus) events.Subscription {
	return bus.Subscribe(n,
		events.PositionOpened,
		events.PositionClosed,
		events.TradeFailed,
		events.ReconciliationNeeded,
		events.FeeDragDetected,
		events.SellSignalObserved,
	)
}

func (n *Notifier) Handle(_ context.Context, ev events.Event) error {
	title, body, ok := Render(ev)
	if !ok {
		return nil
	}
	n.Notify(title, body)
	return nil
}

// Notify sends to every sink without blocking the caller.
func (n *Notifier) Notify(title, body string) {
	for _, s := range n.sinks {
		n.wg.Add(1)
		go func(s Sink) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := s.Send(ctx, title, body); err != nil {
				n.logger.Warn("Notification failed",
					zap.String("sink", s.Name()),
					zap.String("title", title),
					zap.Error(err))
			}
		}(s)
	}
}

// Wait blocks until in-flight deliveries finish or ctx expires.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

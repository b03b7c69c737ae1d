// internal/events/types.go
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// EventType represents the type of event.
type EventType string

const (
	// Position lifecycle
	PositionOpened EventType = "position.opened"
	PositionClosed EventType = "position.closed"
	ExitTriggered  EventType = "position.exit_triggered"

	// Execution
	TradeFailed          EventType = "trade.failed"
	ReconciliationNeeded EventType = "trade.reconciliation_needed"
	FeeDragDetected      EventType = "trade.fee_drag"

	// Signals
	SellSignalObserved EventType = "signal.sell_observed"
)

// Event is the base interface for all events.
type Event interface {
	ID() string
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventID   string
	EventType EventType
	EventTime time.Time
}

// NewBase stamps a new event of type t.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: t,
		EventTime: time.Now(),
	}
}

func (e BaseEvent) ID() string { return e.EventID }

func (e BaseEvent) Type() EventType { return e.EventType }

func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// PositionOpenedEvent is emitted after a copy buy has been recorded.
type PositionOpenedEvent struct {
	BaseEvent
	Position   *model.Position
	Confidence float64
	Mode       string
}

// PositionClosedEvent is emitted once a close has been committed to history.
type PositionClosedEvent struct {
	BaseEvent
	Record *model.TradeRecord
	Phase  model.Phase
}

// ExitTriggeredEvent is emitted when the exit policy decides to close.
type ExitTriggeredEvent struct {
	BaseEvent
	TokenMint  string
	Decision   model.ExitDecision
	Price      float64
	PnLPercent float64
}

// TradeFailedEvent is emitted when an order could not be executed.
type TradeFailedEvent struct {
	BaseEvent
	TokenMint string
	Side      string
	Venue     model.Venue
	Err       error
}

// SellSignalObservedEvent is informational: the wallet a position mirrors was
// seen selling. The exit engine decides whether that matters.
type SellSignalObservedEvent struct {
	BaseEvent
	TokenMint    string
	SourceWallet string
	Sellers      int
}

// ReconciliationNeededEvent is emitted when a buy executed but the position
// could not be recorded.
type ReconciliationNeededEvent struct {
	BaseEvent
	Pending *model.PendingBuy
	Tokens  float64
	Err     error
}

// FeeDragDetectedEvent is emitted when fees ate a large share of a move.
type FeeDragDetectedEvent struct {
	BaseEvent
	TokenMint          string
	PriceChangePercent float64
	PnLPercent         float64
	Gap                float64
}

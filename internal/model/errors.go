// internal/model/errors.go
package model

import "errors"

var (
	// ErrInvalidInput marks a request that failed validation before any side effect.
	ErrInvalidInput = errors.New("invalid input")

	ErrPositionExists   = errors.New("position already open")
	ErrPositionNotFound = errors.New("position not found or already closed")
	ErrReentryCooldown  = errors.New("token is in re-entry cooldown")
	ErrCorruptPosition  = errors.New("corrupt position record")

	// ErrPriceUnavailable is returned when every price tier failed and nothing is cached.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrPriceSkipped is returned while a token is in failure backoff and has no cached quote.
	ErrPriceSkipped = errors.New("price lookup skipped: failure backoff active")

	// ErrNoRoute is the aggregator's "no route / not tradable" class of failure.
	ErrNoRoute = errors.New("no swap route")

	// ErrTradeAmbiguous means an order reached the venue but its outcome is
	// unknown. It may have executed and must not be resent.
	ErrTradeAmbiguous = errors.New("trade outcome unknown")

	ErrDuplicateSignal = errors.New("signal already consumed")
)

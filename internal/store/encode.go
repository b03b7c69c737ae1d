// internal/store/encode.go
package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Position hash fields.
const (
	fieldMint           = "token_mint"
	fieldLabel          = "label"
	fieldEntrySignature = "entry_signature"
	fieldEntryPrice     = "entry_price"
	fieldEntryTime      = "entry_time"
	fieldSolSpent       = "sol_spent"
	fieldTokenAmount    = "token_amount"
	fieldMaxPrice       = "max_price"
	fieldStatus         = "status"
	fieldEntryVenue     = "entry_venue"
	fieldUnconfirmed    = "unconfirmed"
	fieldSourceWallet   = "source_wallet"
	fieldUpvotes        = "upvotes"
	fieldBuyers         = "buyers"
	fieldOriginalSpend  = "original_spend"

	fieldExitReason     = "exit_reason"
	fieldExitPrice      = "exit_price"
	fieldExitTime       = "exit_time"
	fieldExitSignature  = "exit_signature"
	fieldExitVenue      = "exit_venue"
	fieldSolReceived    = "sol_received"
	fieldRealizedPnL    = "realized_pnl"
	fieldRealizedPnLPct = "realized_pnl_percent"
	fieldIntegrityClose = "integrity_close"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// encodeOpen flattens a new open position into HSET field/value pairs.
func encodeOpen(p *model.Position) ([]interface{}, error) {
	buyers, err := json.Marshal(p.Buyers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode buyers: %w", err)
	}
	return []interface{}{
		fieldMint, p.TokenMint,
		fieldLabel, p.Label,
		fieldEntrySignature, p.EntrySignature,
		fieldEntryPrice, formatFloat(p.EntryPrice),
		fieldEntryTime, formatTime(p.EntryTime),
		fieldSolSpent, formatFloat(p.SolSpent),
		fieldTokenAmount, formatFloat(p.TokenAmount),
		fieldMaxPrice, formatFloat(p.MaxPrice),
		fieldStatus, string(model.StatusOpen),
		fieldEntryVenue, string(p.EntryVenue),
		fieldUnconfirmed, formatBool(p.Unconfirmed),
		fieldSourceWallet, p.SourceWallet,
		fieldUpvotes, strconv.Itoa(p.Upvotes),
		fieldBuyers, string(buyers),
		fieldOriginalSpend, formatFloat(p.OriginalSpend),
	}, nil
}

// fieldReader collects the first parse error while decoding a hash.
type fieldReader struct {
	raw map[string]string
	err error
}

func (r *fieldReader) str(field string) string {
	return r.raw[field]
}

func (r *fieldReader) float(field string, required bool) float64 {
	s, ok := r.raw[field]
	if !ok || s == "" {
		if required && r.err == nil {
			r.err = fmt.Errorf("missing field %s", field)
		}
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("field %s: %w", field, err)
	}
	return v
}

func (r *fieldReader) int(field string) int {
	s, ok := r.raw[field]
	if !ok || s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("field %s: %w", field, err)
	}
	return v
}

func (r *fieldReader) time(field string, required bool) time.Time {
	s, ok := r.raw[field]
	if !ok || s == "" || s == "0" {
		if required && r.err == nil {
			r.err = fmt.Errorf("missing field %s", field)
		}
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("field %s: %w", field, err)
		}
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (r *fieldReader) bool(field string) bool {
	return r.raw[field] == "1"
}

// decodePosition rebuilds a Position from its hash. Any unreadable field or a
// broken open-position invariant is reported as ErrCorruptPosition.
func decodePosition(mint string, raw map[string]string) (*model.Position, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s: empty record", model.ErrCorruptPosition, mint)
	}
	r := &fieldReader{raw: raw}
	p := &model.Position{
		TokenMint:      mint,
		Label:          r.str(fieldLabel),
		EntrySignature: r.str(fieldEntrySignature),
		EntryPrice:     r.float(fieldEntryPrice, true),
		EntryTime:      r.time(fieldEntryTime, true),
		SolSpent:       r.float(fieldSolSpent, true),
		TokenAmount:    r.float(fieldTokenAmount, true),
		MaxPrice:       r.float(fieldMaxPrice, false),
		Status:         model.PositionStatus(r.str(fieldStatus)),
		EntryVenue:     model.ParseVenue(r.str(fieldEntryVenue)),
		Unconfirmed:    r.bool(fieldUnconfirmed),
		SourceWallet:   r.str(fieldSourceWallet),
		Upvotes:        r.int(fieldUpvotes),
		OriginalSpend:  r.float(fieldOriginalSpend, false),

		ExitReason:         r.str(fieldExitReason),
		ExitPrice:          r.float(fieldExitPrice, false),
		ExitTime:           r.time(fieldExitTime, false),
		ExitSignature:      r.str(fieldExitSignature),
		SolReceived:        r.float(fieldSolReceived, false),
		RealizedPnL:        r.float(fieldRealizedPnL, false),
		RealizedPnLPercent: r.float(fieldRealizedPnLPct, false),
		IntegrityClose:     r.bool(fieldIntegrityClose),
	}
	if s := raw[fieldBuyers]; s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &p.Buyers); err != nil && r.err == nil {
			r.err = fmt.Errorf("field %s: %w", fieldBuyers, err)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptPosition, mint, r.err)
	}
	if p.Status != model.StatusOpen && p.Status != model.StatusClosed {
		return nil, fmt.Errorf("%w: %s: unknown status %q", model.ErrCorruptPosition, mint, p.Status)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptPosition, mint, err)
	}
	return p, nil
}

// salvageTokenAmount returns the token amount of a corrupt record when that
// field alone is usable.
func salvageTokenAmount(raw map[string]string) float64 {
	v, err := strconv.ParseFloat(raw[fieldTokenAmount], 64)
	if err != nil || !model.IsPositive(v) {
		return 0
	}
	return v
}

func encodePending(b *model.PendingBuy) map[string]interface{} {
	return map[string]interface{}{
		"token_mint":    b.TokenMint,
		"signal_id":     b.SignalID,
		"source_wallet": b.SourceWallet,
		"venue":         string(b.Venue),
		"sol_amount":    formatFloat(b.SolAmount),
		"quote_price":   formatFloat(b.QuotePrice),
		"signature":     b.Signature,
		"created_at":    formatTime(b.CreatedAt),
	}
}

func decodePending(raw map[string]string) (*model.PendingBuy, error) {
	r := &fieldReader{raw: raw}
	b := &model.PendingBuy{
		TokenMint:    r.str("token_mint"),
		SignalID:     r.str("signal_id"),
		SourceWallet: r.str("source_wallet"),
		Venue:        model.ParseVenue(r.str("venue")),
		SolAmount:    r.float("sol_amount", false),
		QuotePrice:   r.float("quote_price", false),
		Signature:    r.str("signature"),
		CreatedAt:    r.time("created_at", false),
	}
	if r.err != nil {
		return nil, r.err
	}
	return b, nil
}

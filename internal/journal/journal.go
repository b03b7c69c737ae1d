// internal/journal/journal.go
package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Header is the first row of every journal file.
var Header = []string{
	"exit_time", "token_mint", "label", "source_wallet", "entry_venue", "exit_venue",
	"entry_price", "exit_price", "token_amount", "sol_spent", "sol_received",
	"pnl", "pnl_percent", "hold_seconds", "reason", "phase",
	"entry_signature", "exit_signature", "unconfirmed",
}

// FileName is the journal file for the UTC day of t.
func FileName(t time.Time) string {
	return "trades_" + t.UTC().Format("20060102") + ".csv"
}

// Journal appends closed trades to one CSV file per UTC day.
type Journal struct {
	files  *logger.DailyCSVWriter
	logger *zap.Logger
}

func New(dir string, flushInterval time.Duration, log *zap.Logger) *Journal {
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	log = log.Named("journal")
	return &Journal{
		files:  logger.NewDailyCSVWriter(dir, FileName, Header, flushInterval, log),
		logger: log,
	}
}

// Subscribe attaches the journal to closed-position events.
func (j *Journal) Subscribe(bus *events.Bus) events.Subscription {
	return bus.Subscribe(j, events.PositionClosed)
}

func (j *Journal) Handle(_ context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.PositionClosedEvent:
		return j.Record(e.Record, e.Phase)
	case *events.PositionClosedEvent:
		return j.Record(e.Record, e.Phase)
	}
	return nil
}

// Record writes one row to the file of the record's exit day.
func (j *Journal) Record(rec *model.TradeRecord, phase model.Phase) error {
	if rec == nil {
		return nil
	}
	if err := j.files.WriteAt(rec.ExitTime, row(rec, phase)); err != nil {
		return fmt.Errorf("journal %s: %w", rec.TokenMint, err)
	}
	return nil
}

// Flush writes buffered rows to disk.
func (j *Journal) Flush() error {
	return j.files.Flush()
}

func (j *Journal) Close() error {
	return j.files.Close()
}

func row(r *model.TradeRecord, phase model.Phase) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		r.ExitTime.UTC().Format(time.RFC3339),
		r.TokenMint,
		r.Label,
		r.SourceWallet,
		string(r.EntryVenue),
		string(r.ExitVenue),
		f(r.EntryPrice),
		f(r.ExitPrice),
		f(r.TokenAmount),
		f(r.SolSpent),
		f(r.SolReceived),
		f(r.PnL),
		strconv.FormatFloat(r.PnLPercent, 'f', 2, 64),
		strconv.FormatInt(int64(r.HoldTime().Seconds()), 10),
		r.Reason,
		string(phase),
		r.EntrySignature,
		r.ExitSignature,
		strconv.FormatBool(r.Unconfirmed),
	}
}

package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

func record(mint string, exit time.Time) *model.TradeRecord {
	return &model.TradeRecord{
		TokenMint:      mint,
		EntryVenue:     model.VenueRelay,
		ExitVenue:      model.VenueAggregator,
		EntrySignature: "entry-sig",
		ExitSignature:  "exit-sig",
		EntryPrice:     1e-6,
		ExitPrice:      1.5e-6,
		EntryTime:      exit.Add(-90 * time.Second),
		ExitTime:       exit,
		SolSpent:       0.1,
		SolReceived:    0.14,
		TokenAmount:    100000,
		PnL:            0.04,
		PnLPercent:     40,
		Reason:         string(model.ReasonTakeProfit),
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFileName(t *testing.T) {
	day := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "trades_20260308.csv", FileName(day))
}

func TestJournalWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, time.Hour, zaptest.NewLogger(t))

	day1 := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	require.NoError(t, j.Record(record("mintA", day1), model.PhaseIndependent))
	require.NoError(t, j.Record(record("mintB", day1), model.PhaseMirror))
	require.NoError(t, j.Record(record("mintC", day2), model.PhaseForced))
	require.NoError(t, j.Close())

	rows := readRows(t, filepath.Join(dir, FileName(day1)))
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "mintA", rows[1][1])
	assert.Equal(t, "pumpportal", rows[1][4])
	assert.Equal(t, "jupiter", rows[1][5])
	assert.Equal(t, "40.00", rows[1][12])
	assert.Equal(t, "90", rows[1][13])
	assert.Equal(t, "take_profit", rows[1][14])
	assert.Equal(t, "mirror", rows[2][15])

	rows = readRows(t, filepath.Join(dir, FileName(day2)))
	require.Len(t, rows, 2)
	assert.Equal(t, "mintC", rows[1][1])
}

func TestJournalAppendsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	for _, mint := range []string{"a", "b"} {
		j := New(dir, time.Hour, zaptest.NewLogger(t))
		require.NoError(t, j.Record(record(mint, day), model.PhaseIndependent))
		require.NoError(t, j.Close())
	}

	rows := readRows(t, filepath.Join(dir, FileName(day)))
	require.Len(t, rows, 3)
}

func TestJournalSubscribesToClosedPositions(t *testing.T) {
	dir := t.TempDir()
	log := zaptest.NewLogger(t)
	bus := events.NewBus(log, 8)
	j := New(dir, time.Hour, log)
	j.Subscribe(bus)

	day := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.PublishSync(context.Background(), events.PositionClosedEvent{
		BaseEvent: events.NewBase(events.PositionClosed),
		Record:    record("mintA", day),
		Phase:     model.PhaseIndependent,
	}))
	require.NoError(t, bus.PublishSync(context.Background(), events.ExitTriggeredEvent{
		BaseEvent: events.NewBase(events.ExitTriggered),
		TokenMint: "mintA",
	}))

	require.NoError(t, bus.Shutdown(context.Background()))
	require.NoError(t, j.Close())

	rows := readRows(t, filepath.Join(dir, FileName(day)))
	assert.Len(t, rows, 2)
}

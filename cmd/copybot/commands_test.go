package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

func TestDayRange(t *testing.T) {
	now := time.Date(2026, 5, 9, 17, 45, 0, 0, time.UTC)

	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "defaults to today",
			wantStart: time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "single day",
			from:      "2026-05-01",
			wantStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "inclusive range",
			from:      "2026-05-01",
			to:        "2026-05-03",
			wantStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		},
		{name: "bad from", from: "05/01/2026", wantErr: true},
		{name: "reversed", from: "2026-05-03", to: "2026-05-01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := dayRange(tt.from, tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "positions", "sell", "history", "export"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestSellRejectsInvalidMint(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"sell", "not-a-mint"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	assert.ErrorContains(t, err, "invalid mint")
}

func TestRenderTrades(t *testing.T) {
	var buf bytes.Buffer
	renderTrades(&buf, nil)
	assert.Equal(t, "no closed trades\n", buf.String())

	buf.Reset()
	exit := time.Date(2026, 5, 9, 12, 0, 0, 0, time.UTC)
	renderTrades(&buf, []*model.TradeRecord{
		{TokenMint: "MintA", Reason: "take_profit", SolSpent: 0.1, SolReceived: 0.15, PnL: 0.05, EntryTime: exit.Add(-time.Minute), ExitTime: exit},
		{TokenMint: "MintB", Reason: "stop_loss", SolSpent: 0.1, SolReceived: 0.08, PnL: -0.02, EntryTime: exit.Add(-time.Minute), ExitTime: exit},
	})
	out := buf.String()
	assert.Contains(t, out, "take_profit")
	assert.Contains(t, out, "2 trades, total pnl +0.0300 SOL")
}

func TestRenderPositionsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderPositions(&buf, nil, time.Now())
	assert.Equal(t, "no open positions\n", buf.String())
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/storage/models"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := open(postgres.New(postgres.Config{
		DSN: "host=localhost user=copybot dbname=copybot sslmode=disable",
	}), zap.NewNop(), true)
	require.NoError(t, err)
	return db
}

func trade() *model.TradeRecord {
	exit := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	return &model.TradeRecord{
		TokenMint:      "So11111111111111111111111111111111111111112",
		Label:          "whale",
		SourceWallet:   "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		Upvotes:        2,
		EntryVenue:     model.VenueRelay,
		ExitVenue:      model.VenueAggregator,
		EntrySignature: "entry",
		ExitSignature:  "exit",
		EntryPrice:     1e-6,
		ExitPrice:      2e-6,
		EntryTime:      exit.Add(-time.Minute),
		ExitTime:       exit,
		SolSpent:       0.1,
		SolReceived:    0.19,
		TokenAmount:    100000,
		NetReceived:    0.19,
		PnL:            0.09,
		PnLPercent:     90,
		Reason:         string(model.ReasonTakeProfit),
	}
}

func TestClosedTradeRoundTrip(t *testing.T) {
	rec := trade()
	assert.Equal(t, rec, models.FromRecord(rec).Record())
}

func TestInsertTradeIgnoresDuplicates(t *testing.T) {
	stmt := insertTrade(dryRunDB(t), trade()).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, `INSERT INTO "closed_trades"`)
	assert.Contains(t, sql, `ON CONFLICT ("token_mint","exit_time") DO NOTHING`)
	assert.Contains(t, sql, `"pnl"`)
}

func TestSummaryQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var rows []summaryRow
	stmt := summaryQuery(dryRunDB(t), since).Find(&rows).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, `FROM "closed_trades"`)
	assert.Contains(t, sql, "FILTER (WHERE pnl > 0)")
	assert.Contains(t, sql, "exit_time >= $1")
	require.Len(t, stmt.Vars, 1)
	assert.Equal(t, since, stmt.Vars[0])
}

func TestGormLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newGormLogger(zap.New(core))
	query := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), query, nil)
	assert.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Slow query", logs.All()[0].Message)

	l.Trace(context.Background(), time.Now(), query, errors.New("syntax error"))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)

	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Equal(t, 2, logs.Len())

	l.LogMode(logger.Info).Trace(context.Background(), time.Now(), query, nil)
	assert.Equal(t, 3, logs.Len())

	l.LogMode(logger.Silent).Trace(context.Background(), time.Now(), query, errors.New("x"))
	assert.Equal(t, 3, logs.Len())
}

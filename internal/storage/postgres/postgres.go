// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/storage"
	"github.com/rovshanmuradov/solana-copybot/internal/storage/models"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes gorm output to zap. Queries are logged at debug level,
// slow ones and failures at warn and error.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= logger.Error:
		l.zapLogger.Error("Query failed", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("Slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("Query", fields...)
	}
}

// archive implements storage.Archive on PostgreSQL.
type archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchive opens the database at dsn. It does not migrate.
func NewArchive(dsn string, zapLogger *zap.Logger) (storage.Archive, error) {
	db, err := open(postgres.Open(dsn), zapLogger, false)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &archive{db: db, logger: zapLogger.Named("archive")}, nil
}

func open(dialector gorm.Dialector, zapLogger *zap.Logger, dryRun bool) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		DryRun:                                   dryRun,
		DisableAutomaticPing:                     dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// RunMigrations creates or updates the closed_trades table under an advisory
// lock so concurrent starts do not race.
func (a *archive) RunMigrations() error {
	var lockObtained bool
	if err := a.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer a.db.Exec("SELECT pg_advisory_unlock(101)")

	if err := a.db.AutoMigrate(&models.ClosedTrade{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveTrade inserts the record. A second save of the same close is ignored.
func (a *archive) SaveTrade(ctx context.Context, rec *model.TradeRecord) error {
	if rec == nil {
		return nil
	}
	return insertTrade(a.db.WithContext(ctx), rec).Error
}

func insertTrade(db *gorm.DB, rec *model.TradeRecord) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_mint"}, {Name: "exit_time"}},
		DoNothing: true,
	}).Create(models.FromRecord(rec))
}

func (a *archive) RecentTrades(ctx context.Context, limit int) ([]*model.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*models.ClosedTrade
	if err := a.db.WithContext(ctx).Order("exit_time desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	out := make([]*model.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Record())
	}
	return out, nil
}

type summaryRow struct {
	Trades   int64   `gorm:"column:trades"`
	Wins     int64   `gorm:"column:wins"`
	SolSpent float64 `gorm:"column:sol_spent"`
	PnL      float64 `gorm:"column:pnl"`
}

func (a *archive) Summarize(ctx context.Context, since time.Time) (storage.Summary, error) {
	var row summaryRow
	if err := summaryQuery(a.db.WithContext(ctx), since).Scan(&row).Error; err != nil {
		return storage.Summary{}, fmt.Errorf("failed to summarize trades: %w", err)
	}
	return storage.Summary{Trades: row.Trades, Wins: row.Wins, SolSpent: row.SolSpent, PnL: row.PnL}, nil
}

func summaryQuery(db *gorm.DB, since time.Time) *gorm.DB {
	return db.Model(&models.ClosedTrade{}).
		Select("COUNT(*) AS trades, " +
			"COUNT(*) FILTER (WHERE pnl > 0) AS wins, " +
			"COALESCE(SUM(sol_spent), 0) AS sol_spent, " +
			"COALESCE(SUM(pnl), 0) AS pnl").
		Where("exit_time >= ?", since.UTC())
}

func (a *archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

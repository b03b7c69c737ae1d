// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
)

// Archive receives every closed trade after it is written to Redis.
type Archive interface {
	SaveTrade(ctx context.Context, rec *model.TradeRecord) error
}

// Config holds key layout and timing for the store.
type Config struct {
	Prefix          string
	ReentryCooldown time.Duration
	SignalClaimTTL  time.Duration
	ForceExitTTL    time.Duration
	OpTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:          "copybot:",
		ReentryCooldown: 30 * time.Minute,
		SignalClaimTTL:  10 * time.Minute,
		ForceExitTTL:    24 * time.Hour,
		OpTimeout:       3 * time.Second,
	}
}

// openLua claims the open slot of a mint. It refuses while a position is open
// or while the previous one closed less than the cooldown ago.
//
// KEYS[1] position hash, KEYS[2] open set
// ARGV[1] mint, ARGV[2] now (ms), ARGV[3] cooldown (ms), ARGV[4..] hash fields
const openLua = `
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 'exists'
end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'open' then
	return 'exists'
end
if status == 'closed' then
	local closed = tonumber(redis.call('HGET', KEYS[1], 'exit_time') or '0') or 0
	if closed > 0 and tonumber(ARGV[2]) - closed < tonumber(ARGV[3]) then
		return 'cooldown'
	end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('SADD', KEYS[2], ARGV[1])
return 'ok'
`

// maxPriceLua raises max_price of an open position. It never lowers it.
//
// KEYS[1] position hash, ARGV[1] price
const maxPriceLua = `
if redis.call('HGET', KEYS[1], 'status') ~= 'open' then
	return 0
end
local current = tonumber(redis.call('HGET', KEYS[1], 'max_price') or '0') or 0
if tonumber(ARGV[1]) > current then
	redis.call('HSET', KEYS[1], 'max_price', ARGV[1])
	return 1
end
return 0
`

// closeLua commits a close: history row, hash update, then the open-set
// removal. A failed write aborts the script before anything else changes.
//
// KEYS[1] position hash, KEYS[2] open set, KEYS[3] day's trade list
// ARGV[1] mint, ARGV[2] trade record, ARGV[3..] hash fields
const closeLua = `
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[3], ARGV[2])
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`

// Store is the Redis-backed position store, signal queue and trade history.
type Store struct {
	rdb     *redis.Client
	calc    *pnl.Calculator
	archive Archive
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	openScript     *redis.Script
	maxPriceScript *redis.Script
	closeScript    *redis.Script
}

func New(rdb *redis.Client, calc *pnl.Calculator, cfg Config, logger *zap.Logger) *Store {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.SignalClaimTTL <= 0 {
		cfg.SignalClaimTTL = def.SignalClaimTTL
	}
	if cfg.ForceExitTTL <= 0 {
		cfg.ForceExitTTL = def.ForceExitTTL
	}
	if cfg.ReentryCooldown < 0 {
		cfg.ReentryCooldown = 0
	}
	return &Store{
		rdb:            rdb,
		calc:           calc,
		cfg:            cfg,
		logger:         logger.Named("store"),
		now:            time.Now,
		openScript:     redis.NewScript(openLua),
		maxPriceScript: redis.NewScript(maxPriceLua),
		closeScript:    redis.NewScript(closeLua),
	}
}

// SetArchive enables the secondary closed-trade archive.
func (s *Store) SetArchive(a Archive) {
	s.archive = a
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) positionKey(mint string) string { return s.cfg.Prefix + "position:" + mint }

func (s *Store) openSetKey() string { return s.cfg.Prefix + "positions:open" }

func (s *Store) tradesKey(day time.Time) string {
	return s.cfg.Prefix + "trades:" + day.UTC().Format("2006-01-02")
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// OpenRequest carries a confirmed buy.
type OpenRequest struct {
	TokenMint      string
	Label          string
	EntrySignature string
	EntryPrice     float64
	EntryTime      time.Time
	SolSpent       float64
	TokenAmount    float64
	Venue          model.Venue
	Unconfirmed    bool

	SourceWallet  string
	Upvotes       int
	Buyers        []string
	OriginalSpend float64
}

// OpenPosition records a new open position. It fails with ErrPositionExists
// while the mint is held and with ErrReentryCooldown shortly after a close.
func (s *Store) OpenPosition(ctx context.Context, req OpenRequest) (*model.Position, error) {
	if req.EntryTime.IsZero() {
		req.EntryTime = s.now()
	}
	if req.Venue == "" {
		req.Venue = model.VenueUnknown
	}
	pos := &model.Position{
		TokenMint:      req.TokenMint,
		Label:          req.Label,
		EntrySignature: req.EntrySignature,
		EntryPrice:     req.EntryPrice,
		EntryTime:      req.EntryTime.UTC(),
		SolSpent:       req.SolSpent,
		TokenAmount:    req.TokenAmount,
		MaxPrice:       req.EntryPrice,
		Status:         model.StatusOpen,
		EntryVenue:     req.Venue,
		Unconfirmed:    req.Unconfirmed,
		SourceWallet:   req.SourceWallet,
		Upvotes:        req.Upvotes,
		Buyers:         req.Buyers,
		OriginalSpend:  req.OriginalSpend,
	}
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	fields, err := encodeOpen(pos)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, 0, 3+len(fields))
	args = append(args, pos.TokenMint, s.now().UnixMilli(), s.cfg.ReentryCooldown.Milliseconds())
	args = append(args, fields...)

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.openScript.Run(opCtx, s.rdb, []string{s.positionKey(pos.TokenMint), s.openSetKey()}, args...).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to open position %s: %w", pos.TokenMint, err)
	}
	switch res {
	case "ok":
	case "exists":
		return nil, fmt.Errorf("%s: %w", pos.TokenMint, model.ErrPositionExists)
	case "cooldown":
		return nil, fmt.Errorf("%s: %w", pos.TokenMint, model.ErrReentryCooldown)
	default:
		return nil, fmt.Errorf("failed to open position %s: unexpected script result %q", pos.TokenMint, res)
	}

	s.logger.Info("Position opened",
		zap.String("mint", pos.TokenMint),
		zap.String("venue", string(pos.EntryVenue)),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("sol_spent", pos.SolSpent),
		zap.Float64("tokens", pos.TokenAmount),
		zap.Bool("unconfirmed", pos.Unconfirmed))
	return pos, nil
}

// CanOpen reports, without claiming anything, whether OpenPosition would
// currently be refused for mint.
func (s *Store) CanOpen(ctx context.Context, mint string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	open, err := s.rdb.SIsMember(opCtx, s.openSetKey(), mint).Result()
	if err != nil {
		return fmt.Errorf("failed to check open set: %w", err)
	}
	if open {
		return fmt.Errorf("%s: %w", mint, model.ErrPositionExists)
	}
	vals, err := s.rdb.HMGet(opCtx, s.positionKey(mint), fieldStatus, fieldExitTime).Result()
	if err != nil {
		return fmt.Errorf("failed to read position %s: %w", mint, err)
	}
	status, _ := vals[0].(string)
	switch status {
	case string(model.StatusOpen):
		return fmt.Errorf("%s: %w", mint, model.ErrPositionExists)
	case string(model.StatusClosed):
		r := &fieldReader{raw: map[string]string{}}
		if v, ok := vals[1].(string); ok {
			r.raw[fieldExitTime] = v
		}
		closed := r.time(fieldExitTime, false)
		if !closed.IsZero() && s.now().Sub(closed) < s.cfg.ReentryCooldown {
			return fmt.Errorf("%s: %w", mint, model.ErrReentryCooldown)
		}
	}
	return nil
}

// UpdateMaxPrice raises the high-water mark of an open position. It reports
// whether the stored value changed.
func (s *Store) UpdateMaxPrice(ctx context.Context, mint string, price float64) (bool, error) {
	if !model.IsPositive(price) {
		return false, fmt.Errorf("%w: price %v", model.ErrInvalidInput, price)
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	n, err := s.maxPriceScript.Run(opCtx, s.rdb, []string{s.positionKey(mint)}, formatFloat(price)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update max price of %s: %w", mint, err)
	}
	return n == 1, nil
}

// GetPosition returns the stored position of mint in any status.
func (s *Store) GetPosition(ctx context.Context, mint string) (*model.Position, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	raw, err := s.rdb.HGetAll(opCtx, s.positionKey(mint)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read position %s: %w", mint, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", mint, model.ErrPositionNotFound)
	}
	return decodePosition(mint, raw)
}

// CloseRequest carries an executed (or abandoned) sell.
type CloseRequest struct {
	TokenMint     string
	ExitPrice     float64
	ExitSignature string
	ExitVenue     model.Venue
	Reason        string
	// SolReceived is the fill; zero falls back to the computed net. With
	// FillObserved it is the wallet's balance change and becomes the net.
	SolReceived    float64
	FillObserved   bool
	Unconfirmed    bool
	IntegrityClose bool
	Options        pnl.Options
}

// Closed is the outcome of a close: the history record and the fee breakdown
// it was computed from.
type Closed struct {
	Record *model.TradeRecord
	*pnl.Result
}

// ClosePosition computes realized PnL and moves the position to closed. The
// open-set membership is the claim: of two concurrent closers exactly one
// wins, the other gets ErrPositionNotFound. A failed write leaves the position
// open and indexed.
func (s *Store) ClosePosition(ctx context.Context, req CloseRequest) (*Closed, error) {
	pos, err := s.GetPosition(ctx, req.TokenMint)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%s: %w", req.TokenMint, model.ErrPositionNotFound)
	}

	opts := req.Options
	if opts.Venue == "" {
		opts.Venue = req.ExitVenue
	}
	res, err := s.calc.Realized(pnl.RealizedInput{
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   req.ExitPrice,
		TokenAmount: pos.TokenAmount,
		SolSpent:    pos.SolSpent,
		Options:     opts,
	})
	if err != nil {
		return nil, err
	}

	received := req.SolReceived
	if req.FillObserved && model.IsPositive(received) {
		res.ApplyObserved(received, pos.SolSpent)
	} else if !model.IsPositive(received) {
		received = res.NetReceived
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	exitTime := s.now().UTC()
	rec := &model.TradeRecord{
		TokenMint:          pos.TokenMint,
		Label:              pos.Label,
		SourceWallet:       pos.SourceWallet,
		Upvotes:            pos.Upvotes,
		EntryVenue:         pos.EntryVenue,
		ExitVenue:          opts.Venue,
		EntrySignature:     pos.EntrySignature,
		ExitSignature:      req.ExitSignature,
		EntryPrice:         pos.EntryPrice,
		ExitPrice:          req.ExitPrice,
		EntryTime:          pos.EntryTime,
		ExitTime:           exitTime,
		SolSpent:           pos.SolSpent,
		SolReceived:        received,
		TokenAmount:        pos.TokenAmount,
		NetReceived:        res.NetReceived,
		PnL:                res.PnL,
		PnLPercent:         res.PnLPercent,
		PriceChangePercent: res.PriceChangePercent,
		Reason:             req.Reason,
		Unconfirmed:        req.Unconfirmed || pos.Unconfirmed,
		IntegrityClose:     req.IntegrityClose,
	}
	if err := s.commitClose(opCtx, rec); err != nil {
		if !errors.Is(err, model.ErrPositionNotFound) {
			s.logger.Error("Close record not written, position kept open",
				zap.String("mint", rec.TokenMint),
				zap.String("exit_signature", rec.ExitSignature),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Position closed",
		zap.String("mint", rec.TokenMint),
		zap.String("reason", rec.Reason),
		zap.Float64("exit_price", rec.ExitPrice),
		zap.Float64("pnl", rec.PnL),
		zap.Float64("pnl_percent", rec.PnLPercent))

	s.archiveTrade(ctx, rec)
	return &Closed{Record: rec, Result: res}, nil
}

// commitClose appends the history record, marks the hash closed and drops the
// mint from the open index in one script. ErrPositionNotFound means another
// closer got there first.
func (s *Store) commitClose(ctx context.Context, rec *model.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode trade record: %w", err)
	}
	keys := []string{s.positionKey(rec.TokenMint), s.openSetKey(), s.tradesKey(rec.ExitTime)}
	args := []interface{}{
		rec.TokenMint, data,
		fieldStatus, string(model.StatusClosed),
		fieldExitReason, rec.Reason,
		fieldExitPrice, formatFloat(rec.ExitPrice),
		fieldExitTime, formatTime(rec.ExitTime),
		fieldExitSignature, rec.ExitSignature,
		fieldExitVenue, string(rec.ExitVenue),
		fieldSolReceived, formatFloat(rec.SolReceived),
		fieldRealizedPnL, formatFloat(rec.PnL),
		fieldRealizedPnLPct, formatFloat(rec.PnLPercent),
		fieldIntegrityClose, formatBool(rec.IntegrityClose),
	}
	claimed, err := s.closeScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to write close of %s: %w", rec.TokenMint, err)
	}
	if claimed == 0 {
		return fmt.Errorf("%s: %w", rec.TokenMint, model.ErrPositionNotFound)
	}
	return nil
}

func (s *Store) archiveTrade(ctx context.Context, rec *model.TradeRecord) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveTrade(ctx, rec); err != nil {
		s.logger.Warn("Failed to archive trade",
			zap.String("mint", rec.TokenMint),
			zap.Error(err))
	}
}

// Sale is an executed emergency sell of a position whose record is unreadable.
type Sale struct {
	Signature   string
	Venue       model.Venue
	Price       float64
	SolReceived float64
	Unconfirmed bool
}

// ForceClear drops a position from the open index without a sale, flagging the
// history record as an integrity close.
func (s *Store) ForceClear(ctx context.Context, mint, reason string) (*model.TradeRecord, error) {
	return s.ForceClearSold(ctx, mint, reason, nil)
}

// ForceClearSold is ForceClear for a position that was sold first; the sale
// is recorded on the integrity-close record.
func (s *Store) ForceClearSold(ctx context.Context, mint, reason string, sale *Sale) (*model.TradeRecord, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	indexed, err := s.rdb.SIsMember(opCtx, s.openSetKey(), mint).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", mint, err)
	}
	if !indexed {
		return nil, fmt.Errorf("%s: %w", mint, model.ErrPositionNotFound)
	}

	raw, err := s.rdb.HGetAll(opCtx, s.positionKey(mint)).Result()
	if err != nil {
		s.logger.Warn("Failed to read cleared position", zap.String("mint", mint), zap.Error(err))
		raw = map[string]string{}
	}
	r := &fieldReader{raw: raw}
	rec := &model.TradeRecord{
		TokenMint:      mint,
		Label:          r.str(fieldLabel),
		SourceWallet:   r.str(fieldSourceWallet),
		EntryVenue:     model.ParseVenue(r.str(fieldEntryVenue)),
		EntrySignature: r.str(fieldEntrySignature),
		EntryPrice:     r.float(fieldEntryPrice, false),
		EntryTime:      r.time(fieldEntryTime, false),
		SolSpent:       r.float(fieldSolSpent, false),
		TokenAmount:    salvageTokenAmount(raw),
		ExitTime:       s.now().UTC(),
		Reason:         reason,
		IntegrityClose: true,
	}
	if sale != nil {
		rec.ExitSignature = sale.Signature
		rec.ExitVenue = sale.Venue
		rec.ExitPrice = sale.Price
		rec.SolReceived = sale.SolReceived
		rec.NetReceived = sale.SolReceived
		rec.Unconfirmed = sale.Unconfirmed
	}
	if rec.SolSpent > 0 {
		rec.PnL = rec.SolReceived - rec.SolSpent
		rec.PnLPercent = rec.PnL / rec.SolSpent * 100
	}
	if err := s.commitClose(opCtx, rec); err != nil {
		return nil, err
	}
	s.logger.Warn("Position force-cleared",
		zap.String("mint", mint),
		zap.String("reason", reason))
	s.archiveTrade(ctx, rec)
	return rec, nil
}

// ScanOpen returns every decodable open position and every open-index entry
// whose record is unreadable.
func (s *Store) ScanOpen(ctx context.Context) ([]*model.Position, []*model.CorruptPosition, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	mints, err := s.rdb.SMembers(opCtx, s.openSetKey()).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	var (
		open    []*model.Position
		corrupt []*model.CorruptPosition
	)
	for _, mint := range mints {
		raw, err := s.rdb.HGetAll(opCtx, s.positionKey(mint)).Result()
		if err != nil {
			s.logger.Warn("Failed to read position", zap.String("mint", mint), zap.Error(err))
			continue
		}
		pos, err := decodePosition(mint, raw)
		if err != nil {
			corrupt = append(corrupt, &model.CorruptPosition{
				TokenMint:   mint,
				Raw:         raw,
				TokenAmount: salvageTokenAmount(raw),
				Err:         err,
			})
			continue
		}
		if !pos.IsOpen() {
			corrupt = append(corrupt, &model.CorruptPosition{
				TokenMint: mint,
				Raw:       raw,
				Err:       fmt.Errorf("%w: %s indexed as open with status %s", model.ErrCorruptPosition, mint, pos.Status),
			})
			continue
		}
		open = append(open, pos)
	}
	return open, corrupt, nil
}

// GetOpenPositions returns the decodable open positions. Unreadable entries are
// logged and skipped.
func (s *Store) GetOpenPositions(ctx context.Context) ([]*model.Position, error) {
	open, corrupt, err := s.ScanOpen(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range corrupt {
		s.logger.Warn("Skipping unreadable position",
			zap.String("mint", c.TokenMint),
			zap.Error(c.Err))
	}
	return open, nil
}

// TradeHistory returns the trades closed on the UTC day of day, oldest first.
func (s *Store) TradeHistory(ctx context.Context, day time.Time) ([]*model.TradeRecord, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	items, err := s.rdb.LRange(opCtx, s.tradesKey(day), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read trade history: %w", err)
	}
	out := make([]*model.TradeRecord, 0, len(items))
	for _, item := range items {
		var rec model.TradeRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("Skipping unreadable trade record", zap.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

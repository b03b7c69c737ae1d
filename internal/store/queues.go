// internal/store/queues.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

func (s *Store) copyQueueKey() string { return s.cfg.Prefix + "queue:copy" }

func (s *Store) sellQueueKey() string { return s.cfg.Prefix + "queue:sell" }

func (s *Store) sellersKey(mint string) string { return s.cfg.Prefix + "sellers:" + mint }

func (s *Store) buyersKey(mint string) string { return s.cfg.Prefix + "buyers:" + mint }

func (s *Store) claimKey(id string) string { return s.cfg.Prefix + "signal:claimed:" + id }

func (s *Store) forceExitKey(mint string) string { return s.cfg.Prefix + "force_exit:" + mint }

func (s *Store) pendingBuyKey(mint string) string { return s.cfg.Prefix + "pending_buy:" + mint }

func (s *Store) pendingIndexKey() string { return s.cfg.Prefix + "pending_buys" }

// PushCopySignal enqueues a buy signal for the copy loop.
func (s *Store) PushCopySignal(ctx context.Context, sig *model.CopySignal) error {
	return s.push(ctx, s.copyQueueKey(), sig)
}

// PopCopySignal blocks up to timeout for the next buy signal. It returns nil
// without error when the queue stayed empty.
func (s *Store) PopCopySignal(ctx context.Context, timeout time.Duration) (*model.CopySignal, error) {
	data, err := s.pop(ctx, s.copyQueueKey(), timeout)
	if err != nil || data == nil {
		return nil, err
	}
	var sig model.CopySignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("%w: copy signal: %v", model.ErrInvalidInput, err)
	}
	return &sig, nil
}

// PushSellSignal enqueues a sell observation for the sell loop.
func (s *Store) PushSellSignal(ctx context.Context, sig *model.SellSignal) error {
	return s.push(ctx, s.sellQueueKey(), sig)
}

// PopSellSignal blocks up to timeout for the next sell observation.
func (s *Store) PopSellSignal(ctx context.Context, timeout time.Duration) (*model.SellSignal, error) {
	data, err := s.pop(ctx, s.sellQueueKey(), timeout)
	if err != nil || data == nil {
		return nil, err
	}
	var sig model.SellSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("%w: sell signal: %v", model.ErrInvalidInput, err)
	}
	return &sig, nil
}

func (s *Store) push(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s item: %w", key, err)
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.RPush(opCtx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

func (s *Store) pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout+s.cfg.OpTimeout)
	defer cancel()
	res, err := s.rdb.BLPop(opCtx, timeout, key).Result()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from %s: %w", key, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("failed to pop from %s: unexpected reply %v", key, res)
	}
	return []byte(res[1]), nil
}

// RecordSellers stamps each seller's last-sell time for the mint and refreshes
// the hash TTL in a single MULTI.
func (s *Store) RecordSellers(ctx context.Context, sig *model.SellSignal, ttl time.Duration) error {
	if len(sig.Wallets) == 0 {
		return nil
	}
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	values := make([]interface{}, 0, 2*len(sig.Wallets))
	for _, w := range sig.Wallets {
		values = append(values, w, strconv.FormatInt(ts.UnixMilli(), 10))
	}

	key := s.sellersKey(sig.TokenMint)
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.rdb.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.HSet(opCtx, key, values...)
		pipe.Expire(opCtx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record sellers of %s: %w", sig.TokenMint, err)
	}
	return nil
}

// LastSell returns when wallet last sold mint, as far as the seller hash knows.
func (s *Store) LastSell(ctx context.Context, wallet, mint string) (time.Time, bool, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	v, err := s.rdb.HGet(opCtx, s.sellersKey(mint), wallet).Result()
	if err != nil {
		if isNil(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read sellers of %s: %w", mint, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad sell time %q for %s: %w", v, mint, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// RecordBuyers adds the signal's wallets to the buyer set and sets its expiry atomically.
func (s *Store) RecordBuyers(ctx context.Context, sig *model.CopySignal, ttl time.Duration) error {
	if len(sig.Wallets) == 0 {
		return nil
	}
	members := make([]interface{}, len(sig.Wallets))
	for i, w := range sig.Wallets {
		members[i] = w
	}
	key := s.buyersKey(sig.TokenMint)
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.rdb.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(opCtx, key, members...)
		pipe.Expire(opCtx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record buyers of %s: %w", sig.TokenMint, err)
	}
	return nil
}

func (s *Store) Buyers(ctx context.Context, mint string) ([]string, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	out, err := s.rdb.SMembers(opCtx, s.buyersKey(mint)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read buyers of %s: %w", mint, err)
	}
	return out, nil
}

// ClaimSignal marks a signal consumed. It returns false when another consumer
// already claimed it.
func (s *Store) ClaimSignal(ctx context.Context, id string) (bool, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(opCtx, s.claimKey(id), s.now().UnixMilli(), s.cfg.SignalClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim signal %s: %w", id, err)
	}
	return ok, nil
}

// ReleaseSignal drops a claim so the signal may be retried.
func (s *Store) ReleaseSignal(ctx context.Context, id string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Del(opCtx, s.claimKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release signal %s: %w", id, err)
	}
	return nil
}

// SetForceExit flags mint for exit on the next monitor pass.
func (s *Store) SetForceExit(ctx context.Context, mint, reason string) error {
	if reason == "" {
		reason = string(model.ReasonForceExit)
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Set(opCtx, s.forceExitKey(mint), reason, s.cfg.ForceExitTTL).Err(); err != nil {
		return fmt.Errorf("failed to set force exit for %s: %w", mint, err)
	}
	s.logger.Info("Force exit requested", zap.String("mint", mint), zap.String("reason", reason))
	return nil
}

// ForceExit returns the pending force-exit reason of mint, if any.
func (s *Store) ForceExit(ctx context.Context, mint string) (string, bool, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	v, err := s.rdb.Get(opCtx, s.forceExitKey(mint)).Result()
	if err != nil {
		if isNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read force exit for %s: %w", mint, err)
	}
	return v, true, nil
}

func (s *Store) ClearForceExit(ctx context.Context, mint string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Del(opCtx, s.forceExitKey(mint)).Err(); err != nil {
		return fmt.Errorf("failed to clear force exit for %s: %w", mint, err)
	}
	return nil
}

// SavePendingBuy persists a buy intent before the order is sent.
func (s *Store) SavePendingBuy(ctx context.Context, b *model.PendingBuy) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	key := s.pendingBuyKey(b.TokenMint)
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.rdb.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.HSet(opCtx, key, encodePending(b))
		pipe.SAdd(opCtx, s.pendingIndexKey(), b.TokenMint)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save pending buy for %s: %w", b.TokenMint, err)
	}
	return nil
}

func (s *Store) ClearPendingBuy(ctx context.Context, mint string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.rdb.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Del(opCtx, s.pendingBuyKey(mint))
		pipe.SRem(opCtx, s.pendingIndexKey(), mint)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear pending buy for %s: %w", mint, err)
	}
	return nil
}

// PendingBuys lists buy intents that were never cleared.
func (s *Store) PendingBuys(ctx context.Context) ([]*model.PendingBuy, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	mints, err := s.rdb.SMembers(opCtx, s.pendingIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending buys: %w", err)
	}
	out := make([]*model.PendingBuy, 0, len(mints))
	for _, mint := range mints {
		raw, err := s.rdb.HGetAll(opCtx, s.pendingBuyKey(mint)).Result()
		if err != nil || len(raw) == 0 {
			continue
		}
		b, err := decodePending(raw)
		if err != nil {
			s.logger.Warn("Skipping unreadable pending buy", zap.String("mint", mint), zap.Error(err))
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

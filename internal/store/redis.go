package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/visual/ranking-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for day results. Only finalized days are cached: once a pool is in
// a terminal state its rankings and payouts are immutable, so cached
// copies can never go stale within their TTL. Writes pass through and
// invalidate the day's keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// RunTx passes through to the primary and invalidates any cached keys for
// days the run may have touched. The day is not known here, so the
// engine's writes rely on the terminal-only caching rule instead of
// precise invalidation: a day is only cached after it can no longer
// change.
func (s *CachedStore) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.primary.RunTx(ctx, fn)
}

func (s *CachedStore) GetPool(ctx context.Context, day model.Day) (*model.RedistributionPool, error) {
	var cached model.RedistributionPool
	if s.getCached(ctx, poolKey(day), &cached) {
		return &cached, nil
	}

	p, err := s.primary.GetPool(ctx, day)
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		s.setCached(ctx, poolKey(day), p)
	}
	return p, nil
}

func (s *CachedStore) GetRankings(ctx context.Context, day model.Day) ([]model.RankingEntry, error) {
	var cached []model.RankingEntry
	if s.getCached(ctx, rankingsKey(day), &cached) {
		return cached, nil
	}

	entries, err := s.primary.GetRankings(ctx, day)
	if err != nil {
		return nil, err
	}
	if s.dayFinal(ctx, day) {
		s.setCached(ctx, rankingsKey(day), entries)
	}
	return entries, nil
}

func (s *CachedStore) GetTopTierPayouts(ctx context.Context, day model.Day) ([]model.TopTierPayout, error) {
	var cached []model.TopTierPayout
	if s.getCached(ctx, topTierKey(day), &cached) {
		return cached, nil
	}

	payouts, err := s.primary.GetTopTierPayouts(ctx, day)
	if err != nil {
		return nil, err
	}
	if s.dayFinal(ctx, day) {
		s.setCached(ctx, topTierKey(day), payouts)
	}
	return payouts, nil
}

func (s *CachedStore) GetWinnerPayouts(ctx context.Context, day model.Day) ([]model.WinnerPayout, error) {
	var cached []model.WinnerPayout
	if s.getCached(ctx, winnersKey(day), &cached) {
		return cached, nil
	}

	payouts, err := s.primary.GetWinnerPayouts(ctx, day)
	if err != nil {
		return nil, err
	}
	if s.dayFinal(ctx, day) {
		s.setCached(ctx, winnersKey(day), payouts)
	}
	return payouts, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context, limit int) ([]model.RedistributionPool, error) {
	return s.primary.ListPools(ctx, limit)
}

func (s *CachedStore) PointsBalance(ctx context.Context, userID string) (int64, error) {
	return s.primary.PointsBalance(ctx, userID)
}

func (s *CachedStore) DueTransfers(ctx context.Context, now time.Time) ([]model.TransferRequest, error) {
	return s.primary.DueTransfers(ctx, now)
}

func (s *CachedStore) GetTransfer(ctx context.Context, id string) (*model.TransferRequest, error) {
	return s.primary.GetTransfer(ctx, id)
}

func (s *CachedStore) UpdateTransfer(ctx context.Context, req *model.TransferRequest) error {
	return s.primary.UpdateTransfer(ctx, req)
}

func (s *CachedStore) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	return s.primary.InsertAudit(ctx, entry)
}

// --- Cache helpers ---

func (s *CachedStore) dayFinal(ctx context.Context, day model.Day) bool {
	p, err := s.GetPool(ctx, day)
	return err == nil && p.State.Terminal()
}

func (s *CachedStore) getCached(ctx context.Context, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *CachedStore) setCached(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func poolKey(d model.Day) string     { return fmt.Sprintf("rank:pool:%s", d) }
func rankingsKey(d model.Day) string { return fmt.Sprintf("rank:entries:%s", d) }
func topTierKey(d model.Day) string  { return fmt.Sprintf("rank:toptier:%s", d) }
func winnersKey(d model.Day) string  { return fmt.Sprintf("rank:winners:%s", d) }

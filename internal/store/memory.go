package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/visual/ranking-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. RunTx operates on a deep copy of the state and swaps it in
// on success, so a failed run rolls back completely, matching the
// all-or-nothing transaction semantics of the PostgreSQL store.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	applied   map[string]bool                  // day|contributionID
	sales     map[string]model.DailySalesEntry // day|itemID
	rankings  map[model.Day][]model.RankingEntry
	pools     map[model.Day]*model.RedistributionPool
	topTier   map[model.Day][]model.TopTierPayout
	winners   map[model.Day][]model.WinnerPayout
	points    map[string]model.PointsTransaction // by idempotency key
	transfers map[string]*model.TransferRequest  // by ID
	audits    []model.AuditEntry
}

func newMemState() *memState {
	return &memState{
		applied:   make(map[string]bool),
		sales:     make(map[string]model.DailySalesEntry),
		rankings:  make(map[model.Day][]model.RankingEntry),
		pools:     make(map[model.Day]*model.RedistributionPool),
		topTier:   make(map[model.Day][]model.TopTierPayout),
		winners:   make(map[model.Day][]model.WinnerPayout),
		points:    make(map[string]model.PointsTransaction),
		transfers: make(map[string]*model.TransferRequest),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.applied {
		c.applied[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for k, v := range s.rankings {
		c.rankings[k] = append([]model.RankingEntry(nil), v...)
	}
	for k, v := range s.pools {
		p := *v
		c.pools[k] = &p
	}
	for k, v := range s.topTier {
		c.topTier[k] = append([]model.TopTierPayout(nil), v...)
	}
	for k, v := range s.winners {
		c.winners[k] = append([]model.WinnerPayout(nil), v...)
	}
	for k, v := range s.points {
		c.points[k] = v
	}
	for k, v := range s.transfers {
		r := *v
		c.transfers[k] = &r
	}
	c.audits = append([]model.AuditEntry(nil), s.audits...)
	return c
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func salesKey(day model.Day, itemID string) string { return string(day) + "|" + itemID }

// RunTx runs fn against a copied state and commits it only if fn succeeds.
func (s *MemoryStore) RunTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, day model.Day) (*model.RedistributionPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.pools[day]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetRankings(_ context.Context, day model.Day) ([]model.RankingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.RankingEntry(nil), s.state.rankings[day]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *MemoryStore) GetTopTierPayouts(_ context.Context, day model.Day) ([]model.TopTierPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.TopTierPayout(nil), s.state.topTier[day]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *MemoryStore) GetWinnerPayouts(_ context.Context, day model.Day) ([]model.WinnerPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.WinnerPayout(nil), s.state.winners[day]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].BackerID != out[j].BackerID {
			return out[i].BackerID < out[j].BackerID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (s *MemoryStore) ListPools(_ context.Context, limit int) ([]model.RedistributionPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.RedistributionPool, 0, len(s.state.pools))
	for _, p := range s.state.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Day > pools[j].Day })
	if limit > 0 && len(pools) > limit {
		pools = pools[:limit]
	}
	return pools, nil
}

func (s *MemoryStore) PointsBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, pt := range s.state.points {
		if pt.UserID == userID {
			total += pt.Amount
		}
	}
	return total, nil
}

func (s *MemoryStore) DueTransfers(_ context.Context, now time.Time) ([]model.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []model.TransferRequest
	for _, r := range s.state.transfers {
		if r.HoldUntil.After(now) {
			continue
		}
		switch r.Status {
		case model.TransferScheduled:
			// due
		case model.TransferFailed:
			// Retries exhausted leave NextRetryAt nil; those rows wait
			// for an operator, not the worker.
			if r.NextRetryAt == nil || r.NextRetryAt.After(now) {
				continue
			}
		default:
			continue
		}
		due = append(due, *r)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (s *MemoryStore) GetTransfer(_ context.Context, id string) (*model.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.state.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateTransfer(_ context.Context, req *model.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.transfers[req.ID]; !ok {
		return ErrNotFound
	}
	cp := *req
	s.state.transfers[req.ID] = &cp
	return nil
}

func (s *MemoryStore) InsertAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.audits = append(s.state.audits, entry)
	return nil
}

// Audits returns all audit entries, oldest first. Test helper.
func (s *MemoryStore) Audits() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditEntry(nil), s.state.audits...)
}

// DailySales returns the (item, day) totals for a day, unordered.
// Test helper.
func (s *MemoryStore) DailySales(day model.Day) []model.DailySalesEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DailySalesEntry
	for _, e := range s.state.sales {
		if e.Day == day {
			out = append(out, e)
		}
	}
	return out
}

// --- Transactional view ---

type memTx struct {
	state *memState
}

func (t *memTx) MarkContributionApplied(_ context.Context, day model.Day, contributionID string) (bool, error) {
	key := string(day) + "|" + contributionID
	if t.state.applied[key] {
		return false, nil
	}
	t.state.applied[key] = true
	return true, nil
}

func (t *memTx) UpsertDailySales(_ context.Context, entry model.DailySalesEntry) error {
	key := salesKey(entry.Day, entry.ItemID)
	cur, ok := t.state.sales[key]
	if !ok {
		t.state.sales[key] = entry
		return nil
	}
	cur.NetCents += entry.NetCents
	cur.ContributionCount += entry.ContributionCount
	t.state.sales[key] = cur
	return nil
}

func (t *memTx) InsertRankings(_ context.Context, entries []model.RankingEntry) error {
	for _, e := range entries {
		t.state.rankings[e.Day] = append(t.state.rankings[e.Day], e)
	}
	return nil
}

func (t *memTx) CreatePool(_ context.Context, pool *model.RedistributionPool) error {
	if _, ok := t.state.pools[pool.Day]; ok {
		return ErrPoolExists
	}
	cp := *pool
	t.state.pools[pool.Day] = &cp
	return nil
}

func (t *memTx) UpdatePool(_ context.Context, pool *model.RedistributionPool) error {
	if _, ok := t.state.pools[pool.Day]; !ok {
		return ErrNotFound
	}
	cp := *pool
	t.state.pools[pool.Day] = &cp
	return nil
}

func (t *memTx) InsertTopTierPayouts(_ context.Context, payouts []model.TopTierPayout) error {
	for _, p := range payouts {
		t.state.topTier[p.Day] = append(t.state.topTier[p.Day], p)
	}
	return nil
}

func (t *memTx) InsertWinnerPayouts(_ context.Context, payouts []model.WinnerPayout) error {
	for _, p := range payouts {
		t.state.winners[p.Day] = append(t.state.winners[p.Day], p)
	}
	return nil
}

func (t *memTx) CreditPoints(_ context.Context, pt model.PointsTransaction) (bool, error) {
	if _, ok := t.state.points[pt.IdempotencyKey]; ok {
		return false, nil
	}
	t.state.points[pt.IdempotencyKey] = pt
	return true, nil
}

func (t *memTx) MarkTopTierPaid(_ context.Context, id string, at time.Time) error {
	for day, payouts := range t.state.topTier {
		for i := range payouts {
			if payouts[i].ID == id {
				payouts[i].Paid = true
				payouts[i].PaidAt = &at
				t.state.topTier[day] = payouts
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memTx) MarkWinnerPaid(_ context.Context, id string, at time.Time) error {
	for day, payouts := range t.state.winners {
		for i := range payouts {
			if payouts[i].ID == id {
				payouts[i].Paid = true
				payouts[i].PaidAt = &at
				t.state.winners[day] = payouts
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memTx) EnqueueTransfer(_ context.Context, req model.TransferRequest) error {
	cp := req
	t.state.transfers[req.ID] = &cp
	return nil
}

// --- In-memory contribution ledger ---

// MemoryLedger implements Ledger with in-memory slices. Used for testing
// and development; production reads the platform's transaction tables.
type MemoryLedger struct {
	mu            sync.RWMutex
	contributions []model.ContributionRecord
	owners        map[string]string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{owners: make(map[string]string)}
}

// AddContribution appends a contribution record.
func (l *MemoryLedger) AddContribution(rec model.ContributionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contributions = append(l.contributions, rec)
}

// SetOwner registers an item's owner.
func (l *MemoryLedger) SetOwner(itemID, ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[itemID] = ownerID
}

func (l *MemoryLedger) ContributionsOn(_ context.Context, day model.Day) ([]model.ContributionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.ContributionRecord
	for _, c := range l.contributions {
		if model.DayOf(c.At) == day {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *MemoryLedger) ItemOwners(_ context.Context) (map[string]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owners := make(map[string]string, len(l.owners))
	for k, v := range l.owners {
		owners[k] = v
	}
	return owners, nil
}

// Package testutil provides in-memory implementations of the wager ports and
// factories for tests of the application and interface layers.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMORY STORE
// WithTx holds a store-wide mutex and rolls every change back when fn fails,
// which is a stronger guarantee than the per-user lock of the postgres store.
// ══════════════════════════════════════════════════════════════════════════════

type memData struct {
	users       map[string]wager.User
	raw         map[string]wager.RawStats
	adjustments map[string]wager.Adjustment
	computed    map[string]wager.ComputedStats
	logs        map[string]wager.SyncLog
}

func (d *memData) clone() *memData {
	c := &memData{
		users:       make(map[string]wager.User, len(d.users)),
		raw:         make(map[string]wager.RawStats, len(d.raw)),
		adjustments: make(map[string]wager.Adjustment, len(d.adjustments)),
		computed:    make(map[string]wager.ComputedStats, len(d.computed)),
		logs:        make(map[string]wager.SyncLog, len(d.logs)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.raw {
		c.raw[k] = v
	}
	for k, v := range d.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range d.computed {
		c.computed[k] = v
	}
	for k, v := range d.logs {
		c.logs[k] = v
	}
	return c
}

// Store is an in-memory wager.Store.
type Store struct {
	mu   sync.Mutex
	data *memData

	// Locked records every LockUser call made inside a transaction.
	Locked []string

	// FailRawUpsert makes RawStats().Upsert fail for the given external ids.
	FailRawUpsert map[string]error

	// FailAdjustmentCreate makes Adjustments().Create fail when set.
	FailAdjustmentCreate error
}

var _ wager.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		data: &memData{
			users:       map[string]wager.User{},
			raw:         map[string]wager.RawStats{},
			adjustments: map[string]wager.Adjustment{},
			computed:    map[string]wager.ComputedStats{},
			logs:        map[string]wager.SyncLog{},
		},
		FailRawUpsert: map[string]error{},
	}
}

func (s *Store) repos(inTx bool) *memRepos {
	return &memRepos{s: s, inTx: inTx}
}

func (s *Store) Users() wager.UserRepository             { return s.repos(false).Users() }
func (s *Store) RawStats() wager.RawStatsRepository      { return s.repos(false).RawStats() }
func (s *Store) Adjustments() wager.AdjustmentRepository { return s.repos(false).Adjustments() }
func (s *Store) Computed() wager.ComputedStatsRepository { return s.repos(false).Computed() }
func (s *Store) SyncLogs() wager.SyncLogRepository       { return s.repos(false).SyncLogs() }
func (s *Store) LockUser(context.Context, string) error  { return nil }

// WithTx runs fn against the store and restores the previous state if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx wager.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(s.repos(true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING AND INSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// PutUser stores a user directly.
func (s *Store) PutUser(u *wager.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = *u
}

// PutRaw stores raw stats directly.
func (s *Store) PutRaw(r *wager.RawStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.raw[r.UserID] = *r
}

// PutComputed stores computed stats directly, ranks included.
func (s *Store) PutComputed(c *wager.ComputedStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.computed[c.UserID] = *c
}

// SyncLogCount returns the number of stored sync logs.
func (s *Store) SyncLogCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.logs)
}

// memRepos implements every repository over the store's data. Outside a
// transaction each call takes the store mutex itself.
type memRepos struct {
	s    *Store
	inTx bool
}

func (r *memRepos) Users() wager.UserRepository             { return r }
func (r *memRepos) RawStats() wager.RawStatsRepository      { return &rawRepo{r} }
func (r *memRepos) Adjustments() wager.AdjustmentRepository { return &adjustmentRepo{r} }
func (r *memRepos) Computed() wager.ComputedStatsRepository { return &computedRepo{r} }
func (r *memRepos) SyncLogs() wager.SyncLogRepository       { return &syncLogRepo{r} }

func (r *memRepos) LockUser(_ context.Context, userID string) error {
	if r.inTx {
		r.s.Locked = append(r.s.Locked, userID)
	}
	return nil
}

func (r *memRepos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func notFound(domain, op, format string, args ...any) error {
	return shared.NewDomainError(domain, op, shared.ErrNotFound, fmt.Sprintf(format, args...))
}

// ── users ────────────────────────────────────────────────────────────────────

func (r *memRepos) GetByExternalID(_ context.Context, externalID string) (*wager.User, error) {
	defer r.lock()()
	for _, u := range r.s.data.users {
		if u.ExternalID == externalID {
			u := u
			return &u, nil
		}
	}
	return nil, notFound("user", "GetByExternalID", "user %s not found", externalID)
}

func (r *memRepos) GetByID(_ context.Context, id string) (*wager.User, error) {
	defer r.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, notFound("user", "GetByID", "user %s not found", id)
	}
	return &u, nil
}

func (r *memRepos) Create(_ context.Context, u *wager.User) error {
	defer r.lock()()
	for _, existing := range r.s.data.users {
		if existing.ExternalID == u.ExternalID {
			return shared.NewDomainError("user", "Create", shared.ErrConcurrentModification,
				"user "+u.ExternalID+" already exists")
		}
	}
	r.s.data.users[u.ID] = *u
	return nil
}

func (r *memRepos) LinkingStats(context.Context) (*wager.LinkingStats, error) {
	defer r.lock()()
	d := r.s.data
	ls := &wager.LinkingStats{
		TotalUsers:        len(d.users),
		UsersWithRawStats: len(d.raw),
		UsersWithComputed: len(d.computed),
	}
	for _, u := range d.users {
		if u.IsPlaceholder {
			ls.PlaceholderUsers++
		} else {
			ls.LinkedUsers++
		}
	}
	adjusted := map[string]bool{}
	for _, a := range d.adjustments {
		adjusted[a.UserID] = true
	}
	ls.UsersWithAdjustments = len(adjusted)
	return ls, nil
}

// ── raw stats ────────────────────────────────────────────────────────────────

type rawRepo struct{ *memRepos }

func (r *rawRepo) Upsert(_ context.Context, raw *wager.RawStats) error {
	defer r.lock()()
	if err := r.s.FailRawUpsert[raw.ExternalID]; err != nil {
		return err
	}
	r.s.data.raw[raw.UserID] = *raw
	return nil
}

func (r *rawRepo) GetByUserID(_ context.Context, userID string) (*wager.RawStats, error) {
	defer r.lock()()
	raw, ok := r.s.data.raw[userID]
	if !ok {
		return nil, notFound("raw_stats", "GetByUserID", "raw stats for user %s not found", userID)
	}
	return &raw, nil
}

// ── adjustments ──────────────────────────────────────────────────────────────

type adjustmentRepo struct{ *memRepos }

func (r *adjustmentRepo) Create(_ context.Context, a *wager.Adjustment) error {
	defer r.lock()()
	if r.s.FailAdjustmentCreate != nil {
		return r.s.FailAdjustmentCreate
	}
	r.s.data.adjustments[a.ID] = *a
	return nil
}

func (r *adjustmentRepo) GetByID(_ context.Context, id string) (*wager.Adjustment, error) {
	defer r.lock()()
	a, ok := r.s.data.adjustments[id]
	if !ok {
		return nil, notFound("adjustment", "GetByID", "adjustment %s not found", id)
	}
	return &a, nil
}

func (r *adjustmentRepo) MarkReverted(_ context.Context, a *wager.Adjustment) error {
	defer r.lock()()
	stored, ok := r.s.data.adjustments[a.ID]
	if !ok {
		return notFound("adjustment", "MarkReverted", "adjustment %s not found", a.ID)
	}
	if stored.Status != wager.StatusActive {
		return shared.NewDomainError("adjustment", "MarkReverted", shared.ErrAlreadyReverted,
			"adjustment "+a.ID+" is already reverted")
	}
	stored.Status = a.Status
	stored.RevertedAt = a.RevertedAt
	stored.RevertedBy = a.RevertedBy
	stored.AdminNotes = a.AdminNotes
	r.s.data.adjustments[a.ID] = stored
	return nil
}

func (r *adjustmentRepo) all(keep func(*wager.Adjustment) bool, newestFirst bool) []*wager.Adjustment {
	var out []*wager.Adjustment
	for _, a := range r.s.data.adjustments {
		a := a
		if keep(&a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		before := out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
		if newestFirst {
			return !before
		}
		return before
	})
	return out
}

func (r *adjustmentRepo) ListActiveByUser(_ context.Context, userID string) ([]*wager.Adjustment, error) {
	defer r.lock()()
	return r.all(func(a *wager.Adjustment) bool {
		return a.UserID == userID && a.IsActive()
	}, false), nil
}

func (r *adjustmentRepo) ListByUser(_ context.Context, userID string, includeReverted bool) ([]*wager.Adjustment, error) {
	defer r.lock()()
	return r.all(func(a *wager.Adjustment) bool {
		return a.UserID == userID && (includeReverted || a.IsActive())
	}, true), nil
}

func (r *adjustmentRepo) Search(_ context.Context, f wager.AdjustmentFilter) ([]*wager.Adjustment, int, error) {
	if err := f.Normalize(); err != nil {
		return nil, 0, err
	}
	defer r.lock()()
	matched := r.all(f.Matches, true)
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []*wager.Adjustment{}, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *adjustmentRepo) Statistics(context.Context) (*wager.AdjustmentStatistics, error) {
	defer r.lock()()
	stats := &wager.AdjustmentStatistics{
		ByType:      map[wager.AdjustmentType]int{},
		ByTimeframe: map[wager.Timeframe]int{},
	}
	users := map[string]bool{}
	for _, a := range r.s.data.adjustments {
		stats.Total++
		stats.ByType[a.Type]++
		stats.ByTimeframe[a.Timeframe]++
		if !a.IsActive() {
			stats.Reverted++
			continue
		}
		stats.Active++
		users[a.UserID] = true
		for _, tf := range wager.Timeframes {
			stats.NetActive.Set(tf, stats.NetActive.Get(tf).Add(a.Delta.Get(tf)))
		}
	}
	stats.AdjustedUsers = len(users)
	return stats, nil
}

// ── computed stats ───────────────────────────────────────────────────────────

type computedRepo struct{ *memRepos }

func (r *computedRepo) Upsert(_ context.Context, c *wager.ComputedStats) error {
	defer r.lock()()
	if prev, ok := r.s.data.computed[c.UserID]; ok {
		c.Ranks = prev.Ranks
	}
	r.s.data.computed[c.UserID] = *c
	return nil
}

func (r *computedRepo) GetByUserID(_ context.Context, userID string) (*wager.ComputedStats, error) {
	defer r.lock()()
	c, ok := r.s.data.computed[userID]
	if !ok {
		return nil, notFound("computed_stats", "GetByUserID", "computed stats for user %s not found", userID)
	}
	return &c, nil
}

func (r *computedRepo) RankCandidates(_ context.Context, tf wager.Timeframe) ([]wager.RankCandidate, error) {
	defer r.lock()()
	out := make([]wager.RankCandidate, 0, len(r.s.data.computed))
	for _, c := range r.s.data.computed {
		out = append(out, wager.RankCandidate{UserID: c.UserID, Final: c.Final.Get(tf), ComputedAt: c.ComputedAt})
	}
	return out, nil
}

func (r *computedRepo) UpdateRanks(_ context.Context, tf wager.Timeframe, ranks []wager.RankAssignment) error {
	defer r.lock()()
	for _, a := range ranks {
		c, ok := r.s.data.computed[a.UserID]
		if !ok {
			continue
		}
		c.Ranks.Set(tf, a.Rank)
		r.s.data.computed[a.UserID] = c
	}
	return nil
}

func (r *computedRepo) Top(_ context.Context, tf wager.Timeframe, limit int) ([]*wager.ComputedStats, error) {
	defer r.lock()()
	var out []*wager.ComputedStats
	for _, c := range r.s.data.computed {
		c := c
		if c.Ranks.Get(tf) != nil {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Ranks.Get(tf) < *out[j].Ranks.Get(tf) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── sync logs ────────────────────────────────────────────────────────────────

type syncLogRepo struct{ *memRepos }

func (r *syncLogRepo) Create(_ context.Context, l *wager.SyncLog) error {
	defer r.lock()()
	r.s.data.logs[l.ID] = *l
	return nil
}

func (r *syncLogRepo) Complete(_ context.Context, l *wager.SyncLog) error {
	defer r.lock()()
	if _, ok := r.s.data.logs[l.ID]; !ok {
		return notFound("sync_log", "Complete", "sync log %s not found", l.ID)
	}
	r.s.data.logs[l.ID] = *l
	return nil
}

func (r *syncLogRepo) ListRecent(_ context.Context, limit int) ([]*wager.SyncLog, error) {
	defer r.lock()()
	if limit < 1 {
		limit = 20
	}
	out := make([]*wager.SyncLog, 0, len(r.s.data.logs))
	for _, l := range r.s.data.logs {
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

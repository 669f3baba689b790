// Package tracker orchestrates the quest lifecycle: pool refresh,
// acceptance, progress, completion, abandonment and expiry.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/audit"
	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/availability"
	"github.com/TheFokysnik/EcoTaleQuests/game/generator"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/game/rank"
	"github.com/TheFokysnik/EcoTaleQuests/game/reward"
	"github.com/TheFokysnik/EcoTaleQuests/game/timer"
	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RewardGranter pays out completed quests. It is best-effort: a false return
// is logged and the completion stands.
type RewardGranter interface {
	GrantReward(ctx context.Context, user uuid.UUID, q *quest.Quest, level int, vip float64) bool
	ResolveVipMultiplier(ctx context.Context, user uuid.UUID) (float64, string)
}

// Notifier delivers user-visible lifecycle notifications.
type Notifier interface {
	QuestProgress(ctx context.Context, rec *quest.UserQuestProgress)
	QuestCompleted(ctx context.Context, rec *quest.UserQuestProgress, coins float64, xp int, rewarded bool)
	QuestFailed(ctx context.Context, rec *quest.UserQuestProgress)
	QuestExpired(ctx context.Context, rec *quest.UserQuestProgress)
}

// Journal records lifecycle events.
type Journal interface {
	Record(ctx context.Context, e audit.Entry)
}

// Deps are the collaborators a Tracker composes. Rewards, Notifier, Journal
// and Guard may be nil.
type Deps struct {
	Store     quest.Store
	Generator *generator.Generator
	Ranks     *rank.Service
	Slots     *availability.Manager
	Timers    *timer.Service
	Rewards   RewardGranter
	Notifier  Notifier
	Journal   Journal
	Guard     *CooldownGuard
}

type userState struct {
	mu      sync.Mutex
	loaded  bool
	records map[uuid.UUID]*quest.UserQuestProgress
}

type assignmentKey struct {
	quest uuid.UUID
	user  uuid.UUID
}

// Tracker is safe for concurrent use. Operations on one user are serialized
// by that user's lock, which also keeps per-user progress in signal order
// for a single caller.
type Tracker struct {
	cfg    config.QuestsConfig
	store  quest.Store
	gen    *generator.Generator
	ranks  *rank.Service
	slots  *availability.Manager
	timers *timer.Service
	reward RewardGranter
	calc   *reward.Calculator
	notify Notifier
	jrnl   Journal
	guard  *CooldownGuard
	logger *zap.Logger
	now    func() time.Time

	poolMu sync.RWMutex
	pools  map[quest.Period][]quest.Quest

	mu    sync.Mutex
	users map[uuid.UUID]*userState
	// private holds assignments of timed individual quests; shared ones
	// live in the availability manager.
	private map[assignmentKey]*quest.Assignment
}

// New wires a tracker and registers itself as the timer expiry callback.
func New(cfg config.QuestsConfig, d Deps, logger *zap.Logger) *Tracker {
	t := &Tracker{
		cfg:     cfg,
		store:   d.Store,
		gen:     d.Generator,
		ranks:   d.Ranks,
		slots:   d.Slots,
		timers:  d.Timers,
		reward:  d.Rewards,
		calc:    reward.NewCalculator(cfg.Rewards),
		notify:  d.Notifier,
		jrnl:    d.Journal,
		guard:   d.Guard,
		logger:  logger,
		now:     time.Now,
		pools:   make(map[quest.Period][]quest.Quest),
		users:   make(map[uuid.UUID]*userState),
		private: make(map[assignmentKey]*quest.Assignment),
	}
	if t.reward == nil {
		t.reward = noReward{}
	}
	if t.notify == nil {
		t.notify = noNotify{}
	}
	if t.jrnl == nil {
		t.jrnl = noJournal{}
	}
	t.timers.OnExpired(t.OnTimerExpired)
	return t
}

// SetClock replaces the time source for expiry and acceptance timestamps.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Initialize rehydrates slots and timers from the store. Timed assignments
// whose countdown ran out while the process was down fail immediately.
func (t *Tracker) Initialize(ctx context.Context) error {
	if err := t.slots.Initialize(ctx); err != nil {
		return err
	}
	list, err := t.store.LoadActiveAssignments(ctx)
	if err != nil {
		return err
	}
	now := t.now()
	var live, overdue []*quest.Assignment
	t.mu.Lock()
	for _, a := range list {
		if !a.Timed() || a.Released() {
			continue
		}
		if a.TimerExpired(now) {
			overdue = append(overdue, a)
			continue
		}
		if !a.Shared {
			t.private[assignmentKey{a.QuestID, a.UserID}] = a
		}
		live = append(live, a)
	}
	t.mu.Unlock()
	t.timers.RestoreTimers(live)
	for _, a := range overdue {
		t.failTimed(ctx, a.QuestID, a.UserID)
		if a.Release() {
			t.saveAssignment(ctx, a)
		}
	}
	return nil
}

// ---- user state ----

// lockUser returns the user's state locked, loading it on first use. When
// the load fails the state is left unloaded and unlocked, and the next
// call retries.
func (t *Tracker) lockUser(ctx context.Context, user uuid.UUID) (*userState, error) {
	t.mu.Lock()
	st, ok := t.users[user]
	if !ok {
		st = &userState{records: make(map[uuid.UUID]*quest.UserQuestProgress)}
		t.users[user] = st
	}
	t.mu.Unlock()

	st.mu.Lock()
	if !st.loaded {
		recs, err := t.store.LoadUserProgress(ctx, user)
		if err != nil {
			st.mu.Unlock()
			t.logger.Error("load user progress failed", zap.String("user", user.String()), zap.Error(err))
			return nil, err
		}
		for _, r := range recs {
			st.records[r.QuestID] = r
		}
		st.loaded = true
	}
	return st, nil
}

// sorted returns the user's records in acceptance order.
func (st *userState) sorted() []*quest.UserQuestProgress {
	out := make([]*quest.UserQuestProgress, 0, len(st.records))
	for _, r := range st.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AcceptedAt.Equal(out[j].AcceptedAt) {
			return out[i].AcceptedAt.Before(out[j].AcceptedAt)
		}
		return out[i].QuestID.String() < out[j].QuestID.String()
	})
	return out
}

// Invalidate drops the cached state so the next access reloads from the store.
func (t *Tracker) Invalidate(user uuid.UUID) {
	t.mu.Lock()
	delete(t.users, user)
	t.mu.Unlock()
}

func (t *Tracker) save(ctx context.Context, rec *quest.UserQuestProgress) {
	if err := t.store.SaveUserProgress(ctx, rec); err != nil {
		t.logger.Error("save progress failed",
			zap.String("user", rec.UserID.String()),
			zap.String("quest", rec.Quest.ShortID()),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}
}

func (t *Tracker) saveAssignment(ctx context.Context, a *quest.Assignment) {
	if err := t.store.SaveAssignment(ctx, a); err != nil {
		t.logger.Error("save assignment failed",
			zap.String("quest", a.QuestID.String()), zap.String("user", a.UserID.String()), zap.Error(err))
	}
}

// release frees every resource the record holds: its shared slot, its
// countdown and any private timed assignment. It runs on every transition
// out of active.
func (t *Tracker) release(ctx context.Context, rec *quest.UserQuestProgress) {
	if rec.Quest.AccessType.Shared() {
		t.slots.Release(ctx, rec.QuestID, rec.UserID)
	}
	t.timers.RemoveTimer(rec.QuestID, rec.UserID)

	k := assignmentKey{rec.QuestID, rec.UserID}
	t.mu.Lock()
	a, ok := t.private[k]
	delete(t.private, k)
	t.mu.Unlock()
	if ok && a.Release() {
		t.saveAssignment(ctx, a)
	}
}

func (t *Tracker) transitioned(rec *quest.UserQuestProgress) {
	metrics.Transitions.WithLabelValues(string(rec.Status), string(rec.Quest.Period)).Inc()
}

// ---- pools ----

// RefreshPools regenerates each period's pool when it is empty or every
// quest in it has expired. A pool with any live quest is left untouched.
func (t *Tracker) RefreshPools(ctx context.Context, level int) {
	for _, period := range quest.Periods {
		current := t.loadPool(ctx, period)
		if len(current) > 0 && !allExpired(current, t.now()) {
			continue
		}
		t.regenerate(ctx, period, level)
	}
}

// ForceRefresh regenerates both pools unconditionally.
func (t *Tracker) ForceRefresh(ctx context.Context, level int) {
	for _, period := range quest.Periods {
		t.regenerate(ctx, period, level)
	}
}

func (t *Tracker) regenerate(ctx context.Context, period quest.Period, level int) {
	pool := t.gen.GeneratePool(period, level)
	if len(pool) == 0 {
		t.logger.Warn("generated empty pool", zap.String("period", string(period)), zap.Int("level", level))
	}
	if err := t.store.SaveQuestPool(ctx, period, pool); err != nil {
		t.logger.Error("save pool failed", zap.String("period", string(period)), zap.Error(err))
	}
	t.poolMu.Lock()
	t.pools[period] = pool
	t.poolMu.Unlock()
	metrics.PoolRegenerations.WithLabelValues(string(period)).Inc()
	t.jrnl.Record(ctx, audit.Entry{
		Event:  audit.EventRefresh,
		Result: string(period),
		Detail: map[string]int{"size": len(pool), "level": level},
	})
	t.logger.Info("pool refreshed", zap.String("period", string(period)), zap.Int("size", len(pool)))
}

func allExpired(pool []quest.Quest, now time.Time) bool {
	for i := range pool {
		if !pool[i].Expired(now) {
			return false
		}
	}
	return true
}

func (t *Tracker) loadPool(ctx context.Context, period quest.Period) []quest.Quest {
	t.poolMu.RLock()
	pool, ok := t.pools[period]
	t.poolMu.RUnlock()
	if ok {
		return pool
	}
	pool, err := t.store.LoadQuestPool(ctx, period)
	if err != nil {
		t.logger.Error("load pool failed", zap.String("period", string(period)), zap.Error(err))
		return nil
	}
	t.poolMu.Lock()
	t.pools[period] = pool
	t.poolMu.Unlock()
	return pool
}

// GetPool returns the current pool of a period, expired quests included.
func (t *Tracker) GetPool(ctx context.Context, period quest.Period) []quest.Quest {
	return append([]quest.Quest(nil), t.loadPool(ctx, period)...)
}

// FindQuest looks a quest up in the current pools.
func (t *Tracker) FindQuest(ctx context.Context, id uuid.UUID) *quest.Quest {
	for _, period := range quest.Periods {
		for _, q := range t.loadPool(ctx, period) {
			if q.ID == id {
				found := q
				return &found
			}
		}
	}
	return nil
}

// GetAvailableQuests is the pool minus quests the user holds active or has
// completed, minus expired ones.
func (t *Tracker) GetAvailableQuests(ctx context.Context, user uuid.UUID, period quest.Period) []quest.Quest {
	pool := t.loadPool(ctx, period)

	st, err := t.lockUser(ctx, user)
	if err != nil {
		return nil
	}
	taken := make(map[uuid.UUID]bool, len(st.records))
	for id, r := range st.records {
		if r.Status == quest.StatusActive || r.Status == quest.StatusCompleted {
			taken[id] = true
		}
	}
	st.mu.Unlock()

	now := t.now()
	out := make([]quest.Quest, 0, len(pool))
	for _, q := range pool {
		if q.Expired(now) || taken[q.ID] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// ---- queries ----

// GetUserQuests returns copies of every record the user has, in acceptance order.
func (t *Tracker) GetUserQuests(ctx context.Context, user uuid.UUID) []quest.UserQuestProgress {
	st, err := t.lockUser(ctx, user)
	if err != nil {
		return nil
	}
	defer st.mu.Unlock()
	out := make([]quest.UserQuestProgress, 0, len(st.records))
	for _, r := range st.sorted() {
		out = append(out, *r)
	}
	return out
}

// GetActiveQuests returns copies of the user's active records.
func (t *Tracker) GetActiveQuests(ctx context.Context, user uuid.UUID) []quest.UserQuestProgress {
	st, err := t.lockUser(ctx, user)
	if err != nil {
		return nil
	}
	defer st.mu.Unlock()
	var out []quest.UserQuestProgress
	for _, r := range st.sorted() {
		if r.Status == quest.StatusActive {
			out = append(out, *r)
		}
	}
	return out
}

// GetCompletedCount is the user's lifetime completion count.
func (t *Tracker) GetCompletedCount(ctx context.Context, user uuid.UUID) int {
	n, err := t.store.GetCompletedCount(ctx, user)
	if err != nil {
		t.logger.Error("completed count failed", zap.String("user", user.String()), zap.Error(err))
		return 0
	}
	return n
}

// Remaining returns the seconds left on a timed quest (-1 when untimed) and
// its m:ss rendering.
func (t *Tracker) Remaining(questID, user uuid.UUID) (int64, string) {
	sec := t.timers.GetRemainingSeconds(questID, user)
	return sec, timer.FormatSeconds(sec)
}

// OnUserDisconnect opens the reconnect grace window for running timers.
func (t *Tracker) OnUserDisconnect(user uuid.UUID) {
	t.timers.OnUserDisconnect(user)
}

// OnUserConnect closes the grace window.
func (t *Tracker) OnUserConnect(user uuid.UUID) {
	t.timers.OnUserConnect(user)
}

type noReward struct{}

func (noReward) GrantReward(context.Context, uuid.UUID, *quest.Quest, int, float64) bool { return false }
func (noReward) ResolveVipMultiplier(context.Context, uuid.UUID) (float64, string)        { return 1, "" }

type noNotify struct{}

func (noNotify) QuestProgress(context.Context, *quest.UserQuestProgress)                        {}
func (noNotify) QuestCompleted(context.Context, *quest.UserQuestProgress, float64, int, bool) {}
func (noNotify) QuestFailed(context.Context, *quest.UserQuestProgress)                          {}
func (noNotify) QuestExpired(context.Context, *quest.UserQuestProgress)                         {}

type noJournal struct{}

func (noJournal) Record(context.Context, audit.Entry) {}

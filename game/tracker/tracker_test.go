package tracker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/availability"
	"github.com/TheFokysnik/EcoTaleQuests/game/generator"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/game/rank"
	"github.com/TheFokysnik/EcoTaleQuests/game/timer"
	"github.com/TheFokysnik/EcoTaleQuests/storage"
	"github.com/TheFokysnik/EcoTaleQuests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRewards struct {
	mu     sync.Mutex
	grants int
	fail   bool
}

func (f *fakeRewards) GrantReward(context.Context, uuid.UUID, *quest.Quest, int, float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants++
	return !f.fail
}

func (f *fakeRewards) ResolveVipMultiplier(context.Context, uuid.UUID) (float64, string) {
	return 1, ""
}

type fakeNotifier struct {
	mu        sync.Mutex
	progress  int
	completed int
	failed    int
	expired   int
}

func (f *fakeNotifier) QuestProgress(context.Context, *quest.UserQuestProgress) {
	f.mu.Lock()
	f.progress++
	f.mu.Unlock()
}

func (f *fakeNotifier) QuestCompleted(context.Context, *quest.UserQuestProgress, float64, int, bool) {
	f.mu.Lock()
	f.completed++
	f.mu.Unlock()
}

func (f *fakeNotifier) QuestFailed(context.Context, *quest.UserQuestProgress) {
	f.mu.Lock()
	f.failed++
	f.mu.Unlock()
}

func (f *fakeNotifier) QuestExpired(context.Context, *quest.UserQuestProgress) {
	f.mu.Lock()
	f.expired++
	f.mu.Unlock()
}

type harness struct {
	tr      *Tracker
	cfg     config.QuestsConfig
	store   *storage.MemoryStore
	backend quest.Store // overrides store for the tracker when set
	ranks   *rank.Service
	slots   *availability.Manager
	timers  *timer.Service
	rewards *fakeRewards
	notes   *fakeNotifier
	clock   *clock
}

func newHarness(t *testing.T, mutate ...func(*config.QuestsConfig)) *harness {
	t.Helper()
	cfg := config.DefaultQuests()
	cfg.Protection.AcceptCooldown = 0
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		cfg:     cfg,
		store:   storage.NewMemoryStore(),
		rewards: &fakeRewards{},
		notes:   &fakeNotifier{},
		clock:   &clock{t: time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)},
	}
	h.store.SetClock(h.clock.now)
	h.build(t)
	return h
}

// build wires a fresh tracker over the harness store, as after a restart.
func (h *harness) build(t *testing.T) {
	t.Helper()
	c, _ := testutil.SetupTestCache(t)
	logger := nop()
	gen := generator.New(h.cfg, logger)
	gen.SetClock(h.clock.now)
	gen.SetRand(rand.New(rand.NewSource(7)))
	h.ranks = rank.NewService(h.store, c, h.cfg.Ranks, logger)
	h.slots = availability.NewManager(h.store, logger)
	h.slots.SetClock(h.clock.now)
	h.timers = timer.NewService(h.cfg.General.RelogGracePeriod, logger)
	h.timers.SetClock(h.clock.now)
	var store quest.Store = h.store
	if h.backend != nil {
		store = h.backend
	}
	h.tr = New(h.cfg, Deps{
		Store:     store,
		Generator: gen,
		Ranks:     h.ranks,
		Slots:     h.slots,
		Timers:    h.timers,
		Rewards:   h.rewards,
		Notifier:  h.notes,
		Guard:     NewCooldownGuard(c, h.cfg.Protection.AcceptCooldown, logger),
	}, logger)
	h.tr.SetClock(h.clock.now)
}

type questOpt func(*quest.Quest)

func (h *harness) quest(typ quest.Type, target string, required float64, opts ...questOpt) quest.Quest {
	q := quest.Quest{
		ID:         uuid.New(),
		Name:       "q_" + target,
		Period:     quest.PeriodDaily,
		Objective:  quest.Objective{Type: typ, Target: target, RequiredAmount: required},
		Reward:     quest.Reward{BaseCoins: 50, BonusXP: 25},
		AccessType: quest.AccessIndividual,
		RankPoints: 10,
		CreatedAt:  h.clock.now(),
		ExpiresAt:  h.clock.now().Add(12 * time.Hour),
	}
	for _, o := range opts {
		o(&q)
	}
	return q
}

func weekly(q *quest.Quest)       { q.Period = quest.PeriodWeekly }
func unique(q *quest.Quest)       { q.AccessType = quest.AccessGlobalUnique; q.MaxSlots = 1 }
func timed(m int) questOpt        { return func(q *quest.Quest) { q.DurationMinutes = m } }
func needsRank(r string) questOpt { return func(q *quest.Quest) { q.RequiredRank = r } }

func (h *harness) seed(t *testing.T, period quest.Period, qs ...quest.Quest) {
	t.Helper()
	require.NoError(t, h.store.SaveQuestPool(context.Background(), period, qs))
}

func (h *harness) status(user, questID uuid.UUID) quest.Status {
	for _, r := range h.tr.GetUserQuests(context.Background(), user) {
		if r.QuestID == questID {
			return r.Status
		}
	}
	return ""
}

func TestCompletionScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.quest(quest.TypeKillMob, "zombie", 10, unique, timed(30))
	h.seed(t, quest.PeriodDaily, a)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, a.ID))
	assert.Equal(t, 1, h.slots.GetOccupiedSlots(a.ID))
	assert.Equal(t, 1, h.timers.ActiveCount())

	for i := 0; i < 10; i++ {
		h.tr.HandleAction(ctx, user, quest.TypeKillMob, "Zombie", 1, 10)
	}
	// Extra signals after completion change nothing.
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 1, 10)

	recs := h.tr.GetUserQuests(ctx, user)
	require.Len(t, recs, 1)
	assert.Equal(t, quest.StatusCompleted, recs[0].Status)
	assert.Equal(t, 10.0, recs[0].CurrentProgress)
	require.NotNil(t, recs[0].CompletedAt)

	assert.Equal(t, 1, h.rewards.grants)
	assert.Equal(t, 1, h.notes.completed)
	rd := h.ranks.GetRankData(ctx, user)
	assert.Equal(t, 1, rd.TotalCompleted)
	assert.Equal(t, 10, rd.RankPoints)

	assert.Zero(t, h.slots.GetOccupiedSlots(a.ID))
	assert.Nil(t, h.slots.GetAssignment(a.ID, user))
	assert.Zero(t, h.timers.ActiveCount())
	assert.Equal(t, 1, h.tr.GetCompletedCount(ctx, user))
	assert.Empty(t, h.tr.GetActiveQuests(ctx, user))
}

func TestProgressClampedAtRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeEarnCoins, "", 100)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeEarnCoins, "", 40, 0)
	h.tr.HandleAction(ctx, user, quest.TypeEarnCoins, "", 250, 0)

	recs := h.tr.GetUserQuests(ctx, user)
	require.Len(t, recs, 1)
	assert.Equal(t, 100.0, recs[0].CurrentProgress)
	assert.Equal(t, quest.StatusCompleted, recs[0].Status)
}

func TestHandleAction_OnlyMatching(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	zombie := h.quest(quest.TypeKillMob, "zombie", 5)
	oak := h.quest(quest.TypeChopWood, "oak", 5)
	h.seed(t, quest.PeriodDaily, zombie, oak)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, zombie.ID))
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, oak.ID))

	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "skeleton", 1, 0)
	h.tr.HandleAction(ctx, user, quest.TypeChopWood, "oak_log", 2, 0)
	h.tr.HandleAction(ctx, user, quest.TypeChopWood, "oak_log", 0, 0)
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 1, 0)

	for _, r := range h.tr.GetActiveQuests(ctx, user) {
		switch r.QuestID {
		case zombie.ID:
			assert.Equal(t, 1.0, r.CurrentProgress)
		case oak.ID:
			assert.Equal(t, 2.0, r.CurrentProgress)
		}
	}
}

func TestRefreshPools_StableWhileLive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.tr.RefreshPools(ctx, 20)
	first := h.tr.GetPool(ctx, quest.PeriodDaily)
	require.NotEmpty(t, first)
	require.NotEmpty(t, h.tr.GetPool(ctx, quest.PeriodWeekly))

	ids := func(pool []quest.Quest) []uuid.UUID {
		out := make([]uuid.UUID, len(pool))
		for i, q := range pool {
			out[i] = q.ID
		}
		return out
	}

	for i := 0; i < 3; i++ {
		h.clock.advance(time.Hour)
		h.tr.RefreshPools(ctx, 20)
		assert.Equal(t, ids(first), ids(h.tr.GetPool(ctx, quest.PeriodDaily)))
	}

	stored, err := h.store.LoadQuestPool(ctx, quest.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(stored))

	// Past midnight every daily quest has expired.
	h.clock.advance(24 * time.Hour)
	h.tr.RefreshPools(ctx, 20)
	next := h.tr.GetPool(ctx, quest.PeriodDaily)
	require.NotEmpty(t, next)
	assert.NotEqual(t, ids(first)[0], ids(next)[0])
}

func TestRefreshPools_PartiallyExpiredKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.quest(quest.TypeKillMob, "zombie", 5)
	stale.ExpiresAt = h.clock.now().Add(-time.Minute)
	live := h.quest(quest.TypeKillMob, "skeleton", 5)
	h.seed(t, quest.PeriodDaily, stale, live)

	h.tr.RefreshPools(ctx, 1)
	pool := h.tr.GetPool(ctx, quest.PeriodDaily)
	require.Len(t, pool, 2)
	assert.Equal(t, stale.ID, pool[0].ID)
}

func TestForceRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 5)
	h.seed(t, quest.PeriodDaily, q)

	h.tr.ForceRefresh(ctx, 1)
	assert.Nil(t, h.tr.FindQuest(ctx, q.ID))
	assert.NotEmpty(t, h.tr.GetPool(ctx, quest.PeriodDaily))
}

func TestAccept_DuplicateType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.quest(quest.TypeKillMob, "zombie", 10)
	b := h.quest(quest.TypeKillMob, "zombie", 20)
	c := h.quest(quest.TypeKillMob, "skeleton", 10)
	h.seed(t, quest.PeriodDaily, a, b, c)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, a.ID))
	assert.Equal(t, AcceptDuplicateType, h.tr.AcceptQuest(ctx, user, b.ID))
	assert.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, c.ID))
	assert.Equal(t, AcceptAlreadyActive, h.tr.AcceptQuest(ctx, user, a.ID))
}

func TestAccept_DuplicateAllowedWhenDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.QuestsConfig) { c.Protection.PreventDuplicateTypes = false })
	ctx := context.Background()
	a := h.quest(quest.TypeKillMob, "zombie", 10)
	b := h.quest(quest.TypeKillMob, "zombie", 20)
	h.seed(t, quest.PeriodDaily, a, b)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, a.ID))
	assert.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, b.ID))
}

func TestAccept_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expired := h.quest(quest.TypeMineOre, "copper", 10)
	expired.ExpiresAt = h.clock.now().Add(-time.Second)
	w1 := h.quest(quest.TypeMineOre, "iron", 50, weekly)
	w2 := h.quest(quest.TypeChopWood, "oak", 50, weekly)
	gated := h.quest(quest.TypeHarvestCrop, "wheat", 10, needsRank("C"))
	h.seed(t, quest.PeriodDaily, expired, gated)
	h.seed(t, quest.PeriodWeekly, w1, w2)
	user := uuid.New()

	assert.Equal(t, AcceptQuestNotFound, h.tr.AcceptQuest(ctx, user, uuid.New()))
	assert.Equal(t, AcceptQuestExpired, h.tr.AcceptQuest(ctx, user, expired.ID))
	assert.Equal(t, AcceptRankTooLow, h.tr.AcceptQuest(ctx, user, gated.ID))

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, w1.ID))
	assert.Equal(t, AcceptLimitReached, h.tr.AcceptQuest(ctx, user, w2.ID))

	h.ranks.AwardPoints(ctx, user, &quest.Quest{RankPoints: 300})
	assert.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, gated.ID))
}

func TestAccept_DailyLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	qs := []quest.Quest{
		h.quest(quest.TypeKillMob, "zombie", 5),
		h.quest(quest.TypeMineOre, "copper", 5),
		h.quest(quest.TypeChopWood, "oak", 5),
		h.quest(quest.TypeHarvestCrop, "wheat", 5),
	}
	h.seed(t, quest.PeriodDaily, qs...)
	user := uuid.New()

	for _, q := range qs[:3] {
		require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	}
	assert.Equal(t, AcceptLimitReached, h.tr.AcceptQuest(ctx, user, qs[3].ID))
}

func TestAccept_AlreadyCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeGainXP, "", 10)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeGainXP, "", 10, 0)
	assert.Equal(t, AcceptAlreadyCompleted, h.tr.AcceptQuest(ctx, user, q.ID))
}

func TestAccept_SlotsFullThenFreedByAbandon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "trork", 5, unique)
	h.seed(t, quest.PeriodDaily, q)
	alice, bob := uuid.New(), uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, alice, q.ID))
	assert.Equal(t, AcceptSlotsFull, h.tr.AcceptQuest(ctx, bob, q.ID))
	assert.Empty(t, h.status(bob, q.ID))

	require.Equal(t, AbandonSuccess, h.tr.AbandonQuest(ctx, alice, q.ID))
	assert.Equal(t, quest.StatusAbandoned, h.status(alice, q.ID))
	assert.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, bob, q.ID))
}

func TestAccept_ConcurrentUniqueQuest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "trork", 5, unique)
	h.seed(t, quest.PeriodDaily, q)

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := map[AcceptResult]int{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.tr.AcceptQuest(ctx, uuid.New(), q.ID)
			mu.Lock()
			results[res]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, results[AcceptSuccess])
	assert.Equal(t, 31, results[AcceptSlotsFull])
}

func TestAccept_Cooldown(t *testing.T) {
	h := newHarness(t, func(c *config.QuestsConfig) { c.Protection.AcceptCooldown = time.Minute })
	ctx := context.Background()
	a := h.quest(quest.TypeKillMob, "zombie", 5)
	b := h.quest(quest.TypeMineOre, "copper", 5)
	h.seed(t, quest.PeriodDaily, a, b)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, a.ID))
	assert.Equal(t, AcceptCooldown, h.tr.AcceptQuest(ctx, user, b.ID))
	assert.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, uuid.New(), b.ID))
}

func TestAbandon_DailyCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	qs := []quest.Quest{
		h.quest(quest.TypeKillMob, "zombie", 5),
		h.quest(quest.TypeMineOre, "copper", 5),
		h.quest(quest.TypeChopWood, "oak", 5),
	}
	h.seed(t, quest.PeriodDaily, qs...)
	user := uuid.New()
	for _, q := range qs {
		require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	}

	assert.Equal(t, AbandonSuccess, h.tr.AbandonQuest(ctx, user, qs[0].ID))
	assert.Equal(t, AbandonSuccess, h.tr.AbandonQuest(ctx, user, qs[1].ID))
	assert.Equal(t, AbandonLimitReached, h.tr.AbandonQuest(ctx, user, qs[2].ID))
	assert.Equal(t, quest.StatusActive, h.status(user, qs[2].ID))

	// The cap resets the next day.
	h.clock.advance(24 * time.Hour)
	assert.Equal(t, AbandonSuccess, h.tr.AbandonQuest(ctx, user, qs[2].ID))
}

func TestAbandon_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 5)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	assert.Equal(t, AbandonNotFound, h.tr.AbandonQuest(ctx, user, q.ID))
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	require.Equal(t, AbandonSuccess, h.tr.AbandonQuest(ctx, user, q.ID))
	assert.Equal(t, AbandonNotActive, h.tr.AbandonQuest(ctx, user, q.ID))
}

func TestGetAvailableQuests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	active := h.quest(quest.TypeKillMob, "zombie", 5)
	done := h.quest(quest.TypeGainXP, "", 5)
	abandoned := h.quest(quest.TypeMineOre, "copper", 5)
	expired := h.quest(quest.TypeChopWood, "oak", 5)
	expired.ExpiresAt = h.clock.now().Add(-time.Second)
	open := h.quest(quest.TypeHarvestCrop, "wheat", 5)
	h.seed(t, quest.PeriodDaily, active, done, abandoned, expired, open)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, active.ID))
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, done.ID))
	h.tr.HandleAction(ctx, user, quest.TypeGainXP, "", 5, 0)
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, abandoned.ID))
	require.Equal(t, AbandonSuccess, h.tr.AbandonQuest(ctx, user, abandoned.ID))

	var got []uuid.UUID
	for _, q := range h.tr.GetAvailableQuests(ctx, user, quest.PeriodDaily) {
		got = append(got, q.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{abandoned.ID, open.ID}, got)
	assert.Len(t, h.tr.GetAvailableQuests(ctx, uuid.New(), quest.PeriodDaily), 4)
}

func TestCheckExpiredQuests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "trork", 5, unique)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	assert.Zero(t, h.tr.CheckExpiredQuests(ctx))

	h.clock.advance(13 * time.Hour)
	assert.Equal(t, 1, h.tr.CheckExpiredQuests(ctx))
	assert.Equal(t, quest.StatusExpired, h.status(user, q.ID))
	assert.Zero(t, h.slots.GetOccupiedSlots(q.ID))
	assert.Equal(t, 1, h.notes.expired)
	assert.Zero(t, h.ranks.GetRankData(ctx, user).TotalFailed)

	// Already expired records are not touched again.
	assert.Zero(t, h.tr.CheckExpiredQuests(ctx))
}

func TestCheckExpiredQuests_UncachedUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 5)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))

	h.tr.Invalidate(user)
	h.clock.advance(13 * time.Hour)
	assert.Equal(t, 1, h.tr.CheckExpiredQuests(ctx))

	recs, err := h.store.LoadUserProgress(ctx, user)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, quest.StatusExpired, recs[0].Status)
}

func TestTimerFailureWithGraceWindow(t *testing.T) {
	h := newHarness(t, func(c *config.QuestsConfig) { c.General.RelogGracePeriod = 2 * time.Minute })
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 50, timed(5))
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	h.ranks.AwardPoints(ctx, user, &quest.Quest{RankPoints: 40})
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	sec, text := h.tr.Remaining(q.ID, user)
	assert.Equal(t, int64(300), sec)
	assert.Equal(t, "5:00", text)

	h.clock.advance(4 * time.Minute)
	h.tr.OnUserDisconnect(user)

	h.clock.advance(90 * time.Second)
	h.timers.Tick()
	assert.Equal(t, quest.StatusActive, h.status(user, q.ID))
	assert.Zero(t, h.notes.failed)

	h.clock.advance(time.Minute)
	h.timers.Tick()
	h.timers.Tick()
	assert.Equal(t, quest.StatusFailed, h.status(user, q.ID))
	assert.Equal(t, 1, h.notes.failed)

	rd := h.ranks.GetRankData(ctx, user)
	assert.Equal(t, 1, rd.TotalFailed)
	assert.Equal(t, 25, rd.RankPoints)

	sec, text = h.tr.Remaining(q.ID, user)
	assert.Equal(t, int64(-1), sec)
	assert.Equal(t, "--:--", text)

	active, err := h.store.LoadActiveAssignments(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTimerFailureWithoutPenalty(t *testing.T) {
	h := newHarness(t, func(c *config.QuestsConfig) { c.Ranks.PenalizeOnFail = false })
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 50, timed(1))
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	h.ranks.AwardPoints(ctx, user, &quest.Quest{RankPoints: 40})
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.clock.advance(2 * time.Minute)
	h.timers.Tick()

	rd := h.ranks.GetRankData(ctx, user)
	assert.Equal(t, quest.StatusFailed, h.status(user, q.ID))
	assert.Equal(t, 40, rd.RankPoints)
	assert.Equal(t, 1, rd.TotalFailed)
}

func TestCompletionBeforeTimerNeverFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 2, timed(1))
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 2, 0)
	h.clock.advance(5 * time.Minute)
	h.timers.Tick()
	assert.Equal(t, quest.StatusCompleted, h.status(user, q.ID))
	assert.Zero(t, h.notes.failed)
}

func TestInitialize_RestoresTimers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	short := h.quest(quest.TypeKillMob, "zombie", 50, timed(10))
	long := h.quest(quest.TypeMineOre, "copper", 50, timed(60), unique)
	h.seed(t, quest.PeriodDaily, short, long)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, short.ID))
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, long.ID))

	// Restart after the short countdown ran out.
	h.clock.advance(20 * time.Minute)
	h.build(t)
	require.NoError(t, h.tr.Initialize(ctx))

	assert.Equal(t, quest.StatusFailed, h.status(user, short.ID))
	assert.Equal(t, quest.StatusActive, h.status(user, long.ID))
	assert.Equal(t, 1, h.timers.ActiveCount())
	assert.Equal(t, 1, h.slots.GetOccupiedSlots(long.ID))

	sec, _ := h.tr.Remaining(long.ID, user)
	assert.Equal(t, int64(40*60), sec)

	active, err := h.store.LoadActiveAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, long.ID, active[0].QuestID)
}

func TestRemoveQuest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "trork", 5, unique, timed(30))
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	assert.False(t, h.tr.RemoveQuest(ctx, user, q.ID))
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	assert.True(t, h.tr.RemoveQuest(ctx, user, q.ID))

	assert.Empty(t, h.tr.GetUserQuests(ctx, user))
	assert.Zero(t, h.slots.GetOccupiedSlots(q.ID))
	assert.Zero(t, h.timers.ActiveCount())
	recs, err := h.store.LoadUserProgress(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// A purged quest can be accepted again.
	assert.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
}

func TestProgressNotifications(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 8)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	for i := 0; i < 7; i++ {
		h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 1, 0)
	}
	assert.Equal(t, 7, h.notes.progress)
}

func TestProgressNotifications_MilestonesOnly(t *testing.T) {
	h := newHarness(t, func(c *config.QuestsConfig) { c.General.NotifyMilestonesOnly = true })
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 8)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	for i := 0; i < 7; i++ {
		h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 1, 0)
	}
	assert.Equal(t, 3, h.notes.progress)
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 1, 0)
	assert.Equal(t, 3, h.notes.progress)
	assert.Equal(t, 1, h.notes.completed)
}

func TestCrossedMilestone(t *testing.T) {
	assert.True(t, CrossedMilestone(0.2, 0.25))
	assert.True(t, CrossedMilestone(0, 0.9))
	assert.True(t, CrossedMilestone(0.74, 0.76))
	assert.False(t, CrossedMilestone(0.25, 0.49))
	assert.False(t, CrossedMilestone(0.8, 0.95))
}

func TestRewardFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	h.rewards.fail = true
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 1)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 1, 0)
	assert.Equal(t, quest.StatusCompleted, h.status(user, q.ID))
	assert.Equal(t, 1, h.ranks.GetRankData(ctx, user).TotalCompleted)
}

func TestSnapshotSurvivesPoolRotation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 3)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.ForceRefresh(ctx, 1)
	require.Nil(t, h.tr.FindQuest(ctx, q.ID))

	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 3, 0)
	assert.Equal(t, quest.StatusCompleted, h.status(user, q.ID))
}

// flakyProgress fails the next n progress loads.
type flakyProgress struct {
	*storage.MemoryStore
	mu    sync.Mutex
	fails int
}

func (f *flakyProgress) LoadUserProgress(ctx context.Context, user uuid.UUID) ([]*quest.UserQuestProgress, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.New("db timeout")
	}
	f.mu.Unlock()
	return f.MemoryStore.LoadUserProgress(ctx, user)
}

func TestProgressLoadFailure_KeepsStoredProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 10)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()

	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 7, 0)

	// Restart against a store whose first loads time out.
	h.backend = &flakyProgress{MemoryStore: h.store, fails: 3}
	h.build(t)

	assert.Equal(t, AcceptUnavailable, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 3, 0)
	assert.Equal(t, AbandonUnavailable, h.tr.AbandonQuest(ctx, user, q.ID))

	persisted, err := h.store.LoadUserProgress(ctx, user)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, quest.StatusActive, persisted[0].Status)
	assert.Equal(t, 7.0, persisted[0].CurrentProgress)

	// The store recovered: the next call loads the real state.
	assert.Equal(t, AcceptAlreadyActive, h.tr.AcceptQuest(ctx, user, q.ID))
	h.tr.HandleAction(ctx, user, quest.TypeKillMob, "zombie", 3, 0)
	assert.Equal(t, quest.StatusCompleted, h.status(user, q.ID))
}

func TestProgressLoadFailure_ReadsEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quest(quest.TypeKillMob, "zombie", 10)
	h.seed(t, quest.PeriodDaily, q)
	user := uuid.New()
	require.Equal(t, AcceptSuccess, h.tr.AcceptQuest(ctx, user, q.ID))

	h.backend = &flakyProgress{MemoryStore: h.store, fails: 2}
	h.build(t)

	assert.Empty(t, h.tr.GetUserQuests(ctx, user))
	assert.False(t, h.tr.RemoveQuest(ctx, user, q.ID))
	require.Len(t, h.tr.GetActiveQuests(ctx, user), 1)
}

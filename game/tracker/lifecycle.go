package tracker

import (
	"context"

	"github.com/TheFokysnik/EcoTaleQuests/audit"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AcceptResult is the outcome of AcceptQuest.
type AcceptResult string

const (
	AcceptSuccess          AcceptResult = "SUCCESS"
	AcceptQuestNotFound    AcceptResult = "QUEST_NOT_FOUND"
	AcceptQuestExpired     AcceptResult = "QUEST_EXPIRED"
	AcceptLimitReached     AcceptResult = "LIMIT_REACHED"
	AcceptDuplicateType    AcceptResult = "DUPLICATE_TYPE"
	AcceptAlreadyActive    AcceptResult = "ALREADY_ACTIVE"
	AcceptAlreadyCompleted AcceptResult = "ALREADY_COMPLETED"
	AcceptRankTooLow       AcceptResult = "RANK_TOO_LOW"
	AcceptSlotsFull        AcceptResult = "SLOTS_FULL"
	AcceptCooldown         AcceptResult = "ACCEPT_COOLDOWN"
	AcceptUnavailable      AcceptResult = "UNAVAILABLE"
)

// AbandonResult is the outcome of AbandonQuest.
type AbandonResult string

const (
	AbandonSuccess      AbandonResult = "SUCCESS"
	AbandonNotFound     AbandonResult = "NOT_FOUND"
	AbandonNotActive    AbandonResult = "NOT_ACTIVE"
	AbandonLimitReached AbandonResult = "LIMIT_REACHED"
	AbandonUnavailable  AbandonResult = "UNAVAILABLE"
)

var milestones = [...]float64{0.25, 0.50, 0.75}

func (t *Tracker) maxActive(p quest.Period) int {
	if p == quest.PeriodWeekly {
		return t.cfg.Limits.MaxWeeklyActive
	}
	return t.cfg.Limits.MaxDailyActive
}

// AcceptQuest validates and, on success, starts the user's pursuit of questID.
func (t *Tracker) AcceptQuest(ctx context.Context, user, questID uuid.UUID) (res AcceptResult) {
	var q *quest.Quest
	defer func() {
		metrics.AcceptResults.WithLabelValues(string(res)).Inc()
		t.jrnl.Record(ctx, audit.Entry{UserID: user, QuestID: questID, Event: audit.EventAccept, Result: string(res)})
		if res == AcceptSuccess {
			t.logger.Info("quest accepted",
				zap.String("user", user.String()),
				zap.String("quest", q.ShortID()),
				zap.String("period", string(q.Period)),
				zap.String("name", q.Name))
		}
	}()

	if !t.guard.Allow(ctx, user) {
		return AcceptCooldown
	}
	q = t.FindQuest(ctx, questID)
	if q == nil {
		return AcceptQuestNotFound
	}
	now := t.now()
	if q.Expired(now) {
		return AcceptQuestExpired
	}

	st, err := t.lockUser(ctx, user)
	if err != nil {
		return AcceptUnavailable
	}
	defer st.mu.Unlock()

	active := 0
	for _, r := range st.records {
		if r.Status == quest.StatusActive && r.Quest.Period == q.Period {
			active++
		}
	}
	if active >= t.maxActive(q.Period) {
		return AcceptLimitReached
	}
	if t.cfg.Protection.PreventDuplicateTypes {
		for id, r := range st.records {
			if id != q.ID && r.Status == quest.StatusActive && r.Quest.Objective.SameGoal(q.Objective) {
				return AcceptDuplicateType
			}
		}
	}
	if existing, ok := st.records[q.ID]; ok {
		switch existing.Status {
		case quest.StatusActive:
			return AcceptAlreadyActive
		case quest.StatusCompleted:
			return AcceptAlreadyCompleted
		}
	}
	if !t.ranks.CanAccept(ctx, user, q) {
		return AcceptRankTooLow
	}

	a := t.slots.TryAssign(ctx, q, user)
	if a == nil {
		return AcceptSlotsFull
	}
	if a.Timed() {
		if !a.Shared {
			t.mu.Lock()
			t.private[assignmentKey{q.ID, user}] = a
			t.mu.Unlock()
			t.saveAssignment(ctx, a)
		}
		t.timers.RegisterTimer(a)
	}

	rec := quest.NewProgress(user, *q, now)
	st.records[q.ID] = rec
	t.save(ctx, rec)
	t.guard.Record(ctx, user)
	return AcceptSuccess
}

// AbandonQuest gives up an active quest, subject to the daily abandon cap.
func (t *Tracker) AbandonQuest(ctx context.Context, user, questID uuid.UUID) (res AbandonResult) {
	defer func() {
		metrics.AbandonResults.WithLabelValues(string(res)).Inc()
		t.jrnl.Record(ctx, audit.Entry{UserID: user, QuestID: questID, Event: audit.EventAbandon, Result: string(res)})
	}()

	st, err := t.lockUser(ctx, user)
	if err != nil {
		return AbandonUnavailable
	}
	defer st.mu.Unlock()

	rec, ok := st.records[questID]
	if !ok {
		return AbandonNotFound
	}
	if rec.Status != quest.StatusActive {
		return AbandonNotActive
	}
	today, err := t.store.GetAbandonCountToday(ctx, user)
	if err != nil {
		t.logger.Error("abandon count failed", zap.String("user", user.String()), zap.Error(err))
	}
	if today >= t.cfg.Limits.MaxAbandonPerDay {
		return AbandonLimitReached
	}

	rec.Abandon()
	t.save(ctx, rec)
	if err := t.store.RecordAbandon(ctx, user); err != nil {
		t.logger.Error("record abandon failed", zap.String("user", user.String()), zap.Error(err))
	}
	t.release(ctx, rec)
	t.transitioned(rec)
	t.logger.Info("quest abandoned", zap.String("user", user.String()), zap.String("quest", rec.Quest.ShortID()))
	return AbandonSuccess
}

// HandleAction applies an action signal to every matching active quest of
// the user. Completion grants the reward, awards rank points and releases
// the quest's slot and timer.
func (t *Tracker) HandleAction(ctx context.Context, user uuid.UUID, actionType quest.Type, target string, amount float64, level int) {
	metrics.ActionSignals.WithLabelValues(string(actionType)).Inc()
	if amount <= 0 {
		return
	}

	st, err := t.lockUser(ctx, user)
	if err != nil {
		metrics.SignalsDropped.WithLabelValues("unloaded").Inc()
		return
	}
	defer st.mu.Unlock()

	now := t.now()
	for _, rec := range st.sorted() {
		if rec.Status != quest.StatusActive || rec.Quest.Expired(now) {
			continue
		}
		if !rec.Quest.Objective.Matches(actionType, target) {
			continue
		}
		before := rec.Percent()
		completed := rec.AddProgress(amount, now)
		t.save(ctx, rec)
		if completed {
			t.complete(ctx, rec, level)
			continue
		}
		if t.shouldNotifyProgress(before, rec.Percent()) {
			t.notify.QuestProgress(ctx, rec)
		}
	}
}

func (t *Tracker) shouldNotifyProgress(before, after float64) bool {
	g := t.cfg.General
	if !g.NotifyOnProgress {
		return false
	}
	if !g.NotifyMilestonesOnly {
		return true
	}
	return CrossedMilestone(before, after)
}

// CrossedMilestone reports whether progress moved past 25, 50 or 75 percent.
func CrossedMilestone(before, after float64) bool {
	for _, m := range milestones {
		if before < m && after >= m {
			return true
		}
	}
	return false
}

// complete must be called with the user's lock held.
func (t *Tracker) complete(ctx context.Context, rec *quest.UserQuestProgress, level int) {
	user := rec.UserID
	vip, vipLabel := t.reward.ResolveVipMultiplier(ctx, user)
	coins := t.calc.Coins(&rec.Quest, level, vip)
	xp := t.calc.BonusXP(&rec.Quest, level)

	rewarded := t.reward.GrantReward(ctx, user, &rec.Quest, level, vip)
	if !rewarded {
		t.logger.Warn("reward not granted", zap.String("user", user.String()), zap.String("quest", rec.Quest.ShortID()))
	}
	points := t.ranks.AwardPoints(ctx, user, &rec.Quest)
	t.release(ctx, rec)
	t.transitioned(rec)

	t.jrnl.Record(ctx, audit.Entry{
		UserID:  user,
		QuestID: rec.QuestID,
		Event:   audit.EventComplete,
		Result:  string(rec.Status),
		Detail: map[string]interface{}{
			"coins":       coins,
			"xp":          xp,
			"rewarded":    rewarded,
			"rank_points": points,
			"vip":         vipLabel,
			"level":       level,
		},
	})
	t.logger.Info("quest completed",
		zap.String("user", user.String()),
		zap.String("quest", rec.Quest.ShortID()),
		zap.String("name", rec.Quest.Name),
		zap.Float64("coins", coins),
		zap.Int("rank_points", points))
	if t.cfg.General.NotifyOnComplete {
		t.notify.QuestCompleted(ctx, rec, coins, xp, rewarded)
	}
}

// CheckExpiredQuests flips every active record whose quest passed its pool
// expiry to expired and returns how many it flipped. No rank penalty applies.
func (t *Tracker) CheckExpiredQuests(ctx context.Context) int {
	active, err := t.store.LoadActiveProgress(ctx)
	if err != nil {
		t.logger.Error("load active progress failed", zap.Error(err))
		return 0
	}
	users := make(map[uuid.UUID]struct{})
	for _, r := range active {
		users[r.UserID] = struct{}{}
	}
	t.mu.Lock()
	for id := range t.users {
		users[id] = struct{}{}
	}
	t.mu.Unlock()

	now := t.now()
	expired := 0
	for user := range users {
		st, err := t.lockUser(ctx, user)
		if err != nil {
			continue
		}
		for _, rec := range st.sorted() {
			if rec.Status != quest.StatusActive || !rec.Quest.Expired(now) {
				continue
			}
			rec.Expire()
			t.save(ctx, rec)
			t.release(ctx, rec)
			t.transitioned(rec)
			t.jrnl.Record(ctx, audit.Entry{UserID: user, QuestID: rec.QuestID, Event: audit.EventExpire, Result: string(rec.Status)})
			t.notify.QuestExpired(ctx, rec)
			t.logger.Debug("quest expired", zap.String("user", user.String()), zap.String("quest", rec.Quest.ShortID()))
			expired++
		}
		st.mu.Unlock()
	}
	if expired > 0 {
		t.logger.Info("expired quests swept", zap.Int("count", expired))
	}
	return expired
}

// OnTimerExpired is the timer service callback: the quest fails and the
// configured rank penalty applies.
func (t *Tracker) OnTimerExpired(questID, user uuid.UUID) {
	t.failTimed(context.Background(), questID, user)
}

func (t *Tracker) failTimed(ctx context.Context, questID, user uuid.UUID) {
	st, err := t.lockUser(ctx, user)
	if err != nil {
		return
	}
	defer st.mu.Unlock()

	rec, ok := st.records[questID]
	if !ok || !rec.Fail(t.now()) {
		t.logger.Debug("timer expired for inactive quest",
			zap.String("user", user.String()), zap.String("quest", questID.String()))
		return
	}
	t.save(ctx, rec)
	t.release(ctx, rec)
	t.transitioned(rec)

	penalty := 0
	if t.cfg.Ranks.PenalizeOnFail {
		penalty = t.cfg.Ranks.FailPenalty
	}
	t.ranks.Penalize(ctx, user, penalty)

	t.jrnl.Record(ctx, audit.Entry{
		UserID:  user,
		QuestID: questID,
		Event:   audit.EventFail,
		Result:  string(rec.Status),
		Detail:  map[string]int{"penalty": penalty},
	})
	t.notify.QuestFailed(ctx, rec)
	t.logger.Info("quest failed",
		zap.String("user", user.String()), zap.String("quest", rec.Quest.ShortID()), zap.Int("penalty", penalty))
}

// RemoveQuest purges the user's record of questID, releasing anything an
// active record still holds. It reports whether a record existed.
func (t *Tracker) RemoveQuest(ctx context.Context, user, questID uuid.UUID) bool {
	st, err := t.lockUser(ctx, user)
	if err != nil {
		return false
	}
	defer st.mu.Unlock()

	rec, ok := st.records[questID]
	if !ok {
		return false
	}
	if rec.Status == quest.StatusActive {
		t.release(ctx, rec)
	}
	delete(st.records, questID)
	if err := t.store.RemoveUserProgress(ctx, user, questID); err != nil {
		t.logger.Error("remove progress failed",
			zap.String("user", user.String()), zap.String("quest", questID.String()), zap.Error(err))
	}
	t.jrnl.Record(ctx, audit.Entry{UserID: user, QuestID: questID, Event: audit.EventRemove, Result: string(rec.Status)})
	t.logger.Info("quest record removed", zap.String("user", user.String()), zap.String("quest", rec.Quest.ShortID()))
	return true
}

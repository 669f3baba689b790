package generator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func fixedCfg() config.QuestsConfig {
	cfg := config.DefaultQuests()
	cfg.Generation = config.GenerationConfig{
		KillMobs: map[string]config.QuestTemplate{
			"zombie": {DailyMin: 5, DailyMax: 5, WeeklyMin: 50, WeeklyMax: 50},
		},
		LevelScalingPer10: 0.05,
	}
	return cfg
}

func newGen(cfg config.QuestsConfig, now time.Time) *Generator {
	g := New(cfg, nop())
	g.SetRand(rand.New(rand.NewSource(42)))
	g.SetClock(func() time.Time { return now })
	return g
}

func TestGeneratePool_FixedRangeLevelZero(t *testing.T) {
	g := newGen(fixedCfg(), time.Now())
	pool := g.GeneratePool(quest.PeriodDaily, 0)
	require.Len(t, pool, 1)
	assert.Equal(t, 5.0, pool[0].Objective.RequiredAmount)
	assert.Equal(t, "daily_kill_mob_zombie", pool[0].Name)
	assert.Equal(t, "Kill 5 Zombie", pool[0].Description)
}

func TestGeneratePool_LevelScaling(t *testing.T) {
	g := newGen(fixedCfg(), time.Now())
	pool := g.GeneratePool(quest.PeriodDaily, 20)
	require.Len(t, pool, 1)
	// round(5 * 1.10) = 6
	assert.Equal(t, 6.0, pool[0].Objective.RequiredAmount)

	// level/10 uses integer division: 19 behaves like 10.
	assert.Equal(t, 5, ScaleAmount(5, 19, 0.05))
	assert.Equal(t, 5, ScaleAmount(5, 9, 0.05))
}

func TestGeneratePool_Variety(t *testing.T) {
	cfg := config.DefaultQuests()
	cfg.Limits.DailyPoolSize = 6
	g := newGen(cfg, time.Now())

	pool := g.GeneratePool(quest.PeriodDaily, 1)
	require.Len(t, pool, 6)
	types := map[quest.Type]int{}
	for _, q := range pool {
		types[q.Objective.Type]++
	}
	// Six types unlocked at level 1, six slots: one of each.
	assert.Len(t, types, 6)
}

func TestGeneratePool_NoLiteralDuplicates(t *testing.T) {
	cfg := config.DefaultQuests()
	cfg.Limits.DailyPoolSize = 50
	g := newGen(cfg, time.Now())

	pool := g.GeneratePool(quest.PeriodDaily, 100)
	// Every candidate is used exactly once, never padded.
	assert.Len(t, pool, 9)
	seen := map[string]bool{}
	for _, q := range pool {
		key := string(q.Objective.Type) + q.Objective.Target
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
}

func TestGeneratePool_RespectsMinLevel(t *testing.T) {
	cfg := config.DefaultQuests()
	cfg.Limits.DailyPoolSize = 50
	g := newGen(cfg, time.Now())

	for _, q := range g.GeneratePool(quest.PeriodDaily, 1) {
		assert.NotEqual(t, "trork", q.Objective.Target)
		assert.NotEqual(t, "iron", q.Objective.Target)
	}
}

func TestGeneratePool_EmptyWhenNothingUnlocked(t *testing.T) {
	cfg := fixedCfg()
	cfg.Generation.KillMobs["zombie"] = config.QuestTemplate{DailyMin: 1, DailyMax: 1, MinLevel: 50}
	g := newGen(cfg, time.Now())
	assert.Empty(t, g.GeneratePool(quest.PeriodDaily, 1))
}

func TestGeneratePool_TemplateAccessFields(t *testing.T) {
	cfg := fixedCfg()
	cfg.Generation.KillMobs["zombie"] = config.QuestTemplate{
		DailyMin: 5, DailyMax: 5,
		AccessType:      "limited_slots",
		MaxSlots:        3,
		DurationMinutes: 30,
		RequiredRank:    "c",
	}
	g := newGen(cfg, time.Now())
	pool := g.GeneratePool(quest.PeriodDaily, 0)
	require.Len(t, pool, 1)
	q := pool[0]
	assert.Equal(t, quest.AccessLimitedSlots, q.AccessType)
	assert.Equal(t, 3, q.MaxSlots)
	assert.Equal(t, 30, q.DurationMinutes)
	assert.Equal(t, "C", q.RequiredRank)
	assert.Equal(t, cfg.Ranks.BasePointsDaily, q.RankPoints)
}

func TestExpiry(t *testing.T) {
	// Wednesday afternoon.
	now := time.Date(2026, time.March, 4, 15, 30, 0, 0, time.UTC)
	g := newGen(fixedCfg(), now)

	daily := g.GeneratePool(quest.PeriodDaily, 0)
	require.Len(t, daily, 1)
	assert.Equal(t, time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC), daily[0].ExpiresAt)

	weekly := g.GeneratePool(quest.PeriodWeekly, 0)
	require.Len(t, weekly, 1)
	assert.Equal(t, time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC), weekly[0].ExpiresAt)
	assert.Equal(t, 50.0, weekly[0].Objective.RequiredAmount)
}

func TestExpiry_ResetDayIsToday(t *testing.T) {
	monday := time.Date(2026, time.March, 9, 8, 0, 0, 0, time.UTC)
	g := newGen(fixedCfg(), monday)
	weekly := g.GeneratePool(quest.PeriodWeekly, 0)
	require.Len(t, weekly, 1)
	assert.Equal(t, time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC), weekly[0].ExpiresAt)
}

func TestParseWeekday(t *testing.T) {
	assert.Equal(t, time.Friday, ParseWeekday("FRIDAY"))
	assert.Equal(t, time.Monday, ParseWeekday("someday"))
}

func TestDifficultyMultiplier_TypeNormalized(t *testing.T) {
	r := config.DefaultQuests().Rewards
	kills := DifficultyMultiplier(r, quest.TypeKillMob, 20)
	coins := DifficultyMultiplier(r, quest.TypeEarnCoins, 1000)
	assert.InDelta(t, kills, coins, 1e-9)
	assert.InDelta(t, 1.5, kills, 1e-9)

	// Capped.
	assert.InDelta(t, r.MaxDifficultyMultiplier, DifficultyMultiplier(r, quest.TypeKillMob, 10000), 1e-9)

	r.DifficultyMultipliers = map[string]float64{"kill_mob": 2}
	assert.InDelta(t, 3.0, DifficultyMultiplier(r, quest.TypeKillMob, 20), 1e-9)
}

func TestReward_RoundedToCents(t *testing.T) {
	g := newGen(fixedCfg(), time.Now())
	pool := g.GeneratePool(quest.PeriodDaily, 0)
	require.Len(t, pool, 1)
	// 5 kills / 20 * 0.5 = 0.125 -> 1.125 * 50 = 56.25 coins, 25 * 1.125 = 28.125 -> 28 xp.
	assert.Equal(t, 56.25, pool[0].Reward.BaseCoins)
	assert.Equal(t, 28, pool[0].Reward.BonusXP)
}

// Package generator builds quest pools from configured templates.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultDifficultyUnit is used for types without a configured divisor.
const defaultDifficultyUnit = 20.0

type candidate struct {
	typ    quest.Type
	target string
	tmpl   config.QuestTemplate
}

// Generator synthesizes quest pools. It is safe for concurrent use.
type Generator struct {
	cfg    config.QuestsConfig
	logger *zap.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand
	now func() time.Time
}

// New creates a Generator seeded from the wall clock.
func New(cfg config.QuestsConfig, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for createdAt / expiresAt.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// SetRand replaces the random source, for reproducible pools.
func (g *Generator) SetRand(r *rand.Rand) {
	g.mu.Lock()
	g.rng = r
	g.mu.Unlock()
}

// PoolSize returns the configured pool size for period.
func (g *Generator) PoolSize(period quest.Period) int {
	if period == quest.PeriodWeekly {
		return g.cfg.Limits.WeeklyPoolSize
	}
	return g.cfg.Limits.DailyPoolSize
}

// GeneratePool builds up to PoolSize(period) quests for a user of the given
// level. The first pass takes at most one quest per type; the second fills
// from the remaining candidates without repeating a (type, target) pair. An
// empty result means no template is unlocked at this level.
func (g *Generator) GeneratePool(period quest.Period, level int) []quest.Quest {
	size := g.PoolSize(period)
	cands := g.candidates(level)
	if len(cands) == 0 || size <= 0 {
		g.logger.Warn("no quest candidates",
			zap.String("period", string(period)), zap.Int("level", level))
		return nil
	}

	g.mu.Lock()
	g.rng.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	g.mu.Unlock()

	now := g.now()
	pool := make([]quest.Quest, 0, size)
	usedTypes := make(map[quest.Type]bool)
	used := make(map[string]bool)
	var rest []candidate

	for _, c := range cands {
		if len(pool) >= size {
			break
		}
		if usedTypes[c.typ] {
			rest = append(rest, c)
			continue
		}
		pool = append(pool, g.synthesize(c, period, level, now))
		usedTypes[c.typ] = true
		used[pairKey(c)] = true
	}
	for _, c := range rest {
		if len(pool) >= size {
			break
		}
		if used[pairKey(c)] {
			continue
		}
		pool = append(pool, g.synthesize(c, period, level, now))
		used[pairKey(c)] = true
	}

	g.logger.Info("quest pool generated",
		zap.String("period", string(period)),
		zap.Int("level", level),
		zap.Int("size", len(pool)))
	return pool
}

func pairKey(c candidate) string { return string(c.typ) + "|" + c.target }

// candidates lists unlocked templates in a stable order so a seeded rng
// yields the same pool.
func (g *Generator) candidates(level int) []candidate {
	gen := g.cfg.Generation
	var out []candidate
	seen := make(map[string]bool)
	addTargets := func(typ quest.Type, m map[string]config.QuestTemplate) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tmpl := m[k]
			target := strings.ToLower(strings.TrimSpace(k))
			c := candidate{typ: typ, target: target, tmpl: tmpl}
			if target == "" || level < tmpl.MinLevel || seen[pairKey(c)] {
				continue
			}
			seen[pairKey(c)] = true
			out = append(out, c)
		}
	}
	addTargets(quest.TypeKillMob, gen.KillMobs)
	addTargets(quest.TypeMineOre, gen.MineOres)
	addTargets(quest.TypeChopWood, gen.ChopWood)
	addTargets(quest.TypeHarvestCrop, gen.HarvestCrops)
	if t := gen.EarnCoins; t != nil && level >= t.MinLevel {
		out = append(out, candidate{typ: quest.TypeEarnCoins, tmpl: *t})
	}
	if t := gen.GainXP; t != nil && level >= t.MinLevel {
		out = append(out, candidate{typ: quest.TypeGainXP, tmpl: *t})
	}
	return out
}

func (g *Generator) synthesize(c candidate, period quest.Period, level int, now time.Time) quest.Quest {
	lo, hi := c.tmpl.DailyMin, c.tmpl.DailyMax
	basePoints := g.cfg.Ranks.BasePointsDaily
	if period == quest.PeriodWeekly {
		lo, hi = c.tmpl.WeeklyMin, c.tmpl.WeeklyMax
		basePoints = g.cfg.Ranks.BasePointsWeekly
	}
	amount := ScaleAmount(g.randomRange(lo, hi), level, g.cfg.Generation.LevelScalingPer10)
	if amount < 1 {
		amount = 1
	}

	access, ok := quest.ParseAccessType(c.tmpl.AccessType)
	if !ok {
		g.logger.Warn("unknown access type, using individual",
			zap.String("type", string(c.typ)),
			zap.String("target", c.target),
			zap.String("access_type", c.tmpl.AccessType))
		access = quest.AccessIndividual
	}
	slots := 0
	switch access {
	case quest.AccessGlobalUnique:
		slots = 1
	case quest.AccessLimitedSlots:
		slots = max(c.tmpl.MaxSlots, 1)
	}
	points := c.tmpl.RankPoints
	if points <= 0 {
		points = basePoints
	}

	return quest.Quest{
		ID:              uuid.New(),
		Name:            questName(period, c),
		Description:     describe(c, amount),
		Period:          period,
		Objective:       quest.Objective{Type: c.typ, Target: c.target, RequiredAmount: float64(amount)},
		Reward:          g.reward(period, c.typ, float64(amount)),
		MinLevel:        c.tmpl.MinLevel,
		AccessType:      access,
		MaxSlots:        slots,
		DurationMinutes: max(c.tmpl.DurationMinutes, 0),
		RequiredRank:    strings.ToUpper(strings.TrimSpace(c.tmpl.RequiredRank)),
		RankPoints:      points,
		CreatedAt:       now,
		ExpiresAt:       g.expiry(period, now),
	}
}

func (g *Generator) randomRange(lo, hi int) int {
	if lo >= hi {
		return lo
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo + g.rng.Intn(hi-lo+1)
}

// ScaleAmount applies the per-10-levels bonus: round(amount * (1 + (level/10)*per10)).
func ScaleAmount(amount, level int, per10 float64) int {
	scale := 1.0 + float64(level/10)*per10
	return int(math.Round(float64(amount) * scale))
}

// DifficultyMultiplier normalizes amount by the type's divisor so quest types
// with large raw numbers do not earn disproportionate rewards.
func DifficultyMultiplier(r config.RewardsConfig, typ quest.Type, amount float64) float64 {
	unit := r.DifficultyUnits[string(typ)]
	if unit <= 0 {
		unit = defaultDifficultyUnit
	}
	m := 1.0 + (amount/unit)*r.DifficultyStep
	if r.MaxDifficultyMultiplier > 0 && m > r.MaxDifficultyMultiplier {
		m = r.MaxDifficultyMultiplier
	}
	if extra, ok := r.DifficultyMultipliers[string(typ)]; ok && extra > 0 {
		m *= extra
	}
	return m
}

func (g *Generator) reward(period quest.Period, typ quest.Type, amount float64) quest.Reward {
	r := g.cfg.Rewards
	coins, xp := r.BaseDailyCoins, r.BaseDailyXP
	if period == quest.PeriodWeekly {
		coins, xp = r.BaseWeeklyCoins, r.BaseWeeklyXP
	}
	m := DifficultyMultiplier(r, typ, amount)
	return quest.Reward{
		BaseCoins: math.Round(coins*m*100) / 100,
		BonusXP:   int(math.Round(float64(xp) * m)),
	}
}

// expiry is the next midnight for daily pools and the next configured reset
// weekday (strictly after today) at midnight for weekly pools.
func (g *Generator) expiry(period quest.Period, now time.Time) time.Time {
	y, m, d := now.Date()
	if period != quest.PeriodWeekly {
		return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	}
	reset := ParseWeekday(g.cfg.Limits.WeeklyResetDay)
	days := (int(reset) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return time.Date(y, m, d+days, 0, 0, 0, 0, now.Location())
}

// ParseWeekday accepts english day names; anything else is Monday.
func ParseWeekday(s string) time.Weekday {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == s {
			return d
		}
	}
	return time.Monday
}

func questName(period quest.Period, c candidate) string {
	target := c.target
	if target == "" {
		target = c.typ.Category()
	}
	return fmt.Sprintf("%s_%s_%s", period, c.typ, strings.ReplaceAll(target, " ", "_"))
}

func describe(c candidate, amount int) string {
	target := displayName(c.target)
	switch c.typ {
	case quest.TypeKillMob:
		return fmt.Sprintf("Kill %d %s", amount, target)
	case quest.TypeMineOre:
		return fmt.Sprintf("Mine %d %s ore", amount, target)
	case quest.TypeChopWood:
		return fmt.Sprintf("Chop %d %s wood", amount, target)
	case quest.TypeHarvestCrop:
		return fmt.Sprintf("Harvest %d %s", amount, target)
	case quest.TypeEarnCoins:
		return fmt.Sprintf("Earn %d coins", amount)
	case quest.TypeGainXP:
		return fmt.Sprintf("Gain %d XP", amount)
	}
	return fmt.Sprintf("%s %d", c.typ, amount)
}

func displayName(target string) string {
	target = strings.ReplaceAll(target, "_", " ")
	if target == "" {
		return target
	}
	return strings.ToUpper(target[:1]) + target[1:]
}

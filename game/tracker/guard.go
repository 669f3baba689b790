package tracker

import (
	"context"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/cache"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CooldownGuard rate-limits quest acceptance per user with TTL keys, so the
// limit holds across processes when the cache is Redis.
type CooldownGuard struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCooldownGuard returns a guard; a nil cache or non-positive ttl disables it.
func NewCooldownGuard(c cache.Cache, ttl time.Duration, logger *zap.Logger) *CooldownGuard {
	return &CooldownGuard{cache: c, ttl: ttl, logger: logger}
}

func cooldownKey(user uuid.UUID) string {
	return "quests:cooldown:accept:" + user.String()
}

func (g *CooldownGuard) enabled() bool {
	return g != nil && g.cache != nil && g.ttl > 0
}

// Allow reports whether the user is outside the cooldown. Cache errors allow.
func (g *CooldownGuard) Allow(ctx context.Context, user uuid.UUID) bool {
	if !g.enabled() {
		return true
	}
	held, err := g.cache.Exists(ctx, cooldownKey(user))
	if err != nil {
		g.logger.Warn("cooldown check failed", zap.String("user", user.String()), zap.Error(err))
		return true
	}
	return !held
}

// Record starts the cooldown after a successful acceptance.
func (g *CooldownGuard) Record(ctx context.Context, user uuid.UUID) {
	if !g.enabled() {
		return
	}
	if _, err := g.cache.SetNX(ctx, cooldownKey(user), "1", g.ttl); err != nil {
		g.logger.Warn("cooldown record failed", zap.String("user", user.String()), zap.Error(err))
	}
}

// Package reward computes quest payouts and credits them to the in-engine
// wallet ledger.
package reward

import (
	"math"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
)

// MinCoins is the smallest payout worth granting.
const MinCoins = 0.01

// Calculator scales a quest's base reward by user level and VIP multiplier.
type Calculator struct {
	cfg config.RewardsConfig
}

func NewCalculator(cfg config.RewardsConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Coins returns base coins x level multiplier x vip, rounded to cents.
// A non-positive vip counts as 1.
func (c *Calculator) Coins(q *quest.Quest, level int, vip float64) float64 {
	if vip <= 0 {
		vip = 1
	}
	return round2(q.Reward.BaseCoins * c.cfg.LevelMultiplier(level) * vip)
}

// BonusXP returns the quest's bonus XP scaled by the level multiplier.
func (c *Calculator) BonusXP(q *quest.Quest, level int) int {
	return int(math.Round(float64(q.Reward.BonusXP) * c.cfg.LevelMultiplier(level)))
}

// Grantable reports whether a payout clears MinCoins.
func Grantable(coins float64) bool {
	return coins >= MinCoins
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

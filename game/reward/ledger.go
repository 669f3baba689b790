package reward

import (
	"context"
	"errors"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerGranter credits rewards to model.Wallet and records a RewardGrant
// per payout, both in one transaction.
type LedgerGranter struct {
	db     *gorm.DB
	calc   *Calculator
	logger *zap.Logger
}

func NewLedgerGranter(db *gorm.DB, cfg config.RewardsConfig, logger *zap.Logger) *LedgerGranter {
	return &LedgerGranter{db: db, calc: NewCalculator(cfg), logger: logger}
}

// Calculator exposes the payout math used by GrantReward.
func (g *LedgerGranter) Calculator() *Calculator { return g.calc }

// ResolveVipMultiplier returns the wallet's multiplier and label, or (1, "")
// when the user has no wallet yet.
func (g *LedgerGranter) ResolveVipMultiplier(ctx context.Context, user uuid.UUID) (float64, string) {
	var w model.Wallet
	err := g.db.WithContext(ctx).Where("user_id = ?", user.String()).First(&w).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			g.logger.Warn("vip lookup failed", zap.String("user", user.String()), zap.Error(err))
		}
		return 1, ""
	}
	if w.VIPMultiplier <= 0 {
		return 1, w.VIPLabel
	}
	return w.VIPMultiplier, w.VIPLabel
}

// GrantReward credits the scaled payout. It returns false when the payout is
// too small or the ledger write fails; neither is fatal to the caller.
func (g *LedgerGranter) GrantReward(ctx context.Context, user uuid.UUID, q *quest.Quest, level int, vip float64) bool {
	coins := g.calc.Coins(q, level, vip)
	if !Grantable(coins) {
		g.logger.Warn("reward too small",
			zap.String("user", user.String()), zap.String("quest", q.ShortID()), zap.Float64("coins", coins))
		return false
	}
	xp := g.calc.BonusXP(q, level)

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w := model.Wallet{UserID: user.String(), Coins: coins, XP: int64(xp)}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"coins": gorm.Expr("? + ?", clause.Column{Table: clause.CurrentTable, Name: "coins"}, coins),
				"xp":    gorm.Expr("? + ?", clause.Column{Table: clause.CurrentTable, Name: "xp"}, xp),
			}),
		}).Create(&w).Error; err != nil {
			return err
		}
		return tx.Create(&model.RewardGrant{
			UserID:        user.String(),
			QuestID:       q.ID.String(),
			Coins:         coins,
			XP:            xp,
			Level:         level,
			VIPMultiplier: vip,
		}).Error
	})
	if err != nil {
		g.logger.Error("grant reward failed",
			zap.String("user", user.String()), zap.String("quest", q.ShortID()), zap.Error(err))
		return false
	}
	g.logger.Info("reward granted",
		zap.String("user", user.String()),
		zap.String("quest", q.ShortID()),
		zap.Float64("coins", coins),
		zap.Int("xp", xp))
	return true
}

// Balance returns the user's wallet, zero-valued when none exists.
func (g *LedgerGranter) Balance(ctx context.Context, user uuid.UUID) (model.Wallet, error) {
	var w model.Wallet
	err := g.db.WithContext(ctx).Where("user_id = ?", user.String()).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Wallet{UserID: user.String(), VIPMultiplier: 1}, nil
	}
	return w, err
}

// SetVip stores the user's VIP label and multiplier.
func (g *LedgerGranter) SetVip(ctx context.Context, user uuid.UUID, label string, mult float64) error {
	w := model.Wallet{UserID: user.String(), VIPLabel: label, VIPMultiplier: mult}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vip_label", "vip_multiplier"}),
	}).Create(&w).Error
}

package model

import "time"

// Wallet is the in-engine ledger balance credited by quest rewards.
type Wallet struct {
	UserID        string    `gorm:"primaryKey;size:36" json:"user_id"`
	Coins         float64   `gorm:"default:0" json:"coins"`
	XP            int64     `gorm:"default:0" json:"xp"`
	VIPLabel      string    `gorm:"size:32" json:"vip_label"`
	VIPMultiplier float64   `gorm:"default:1" json:"vip_multiplier"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RewardGrant records one payout.
type RewardGrant struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"index:idx_grant_user;size:36;not null" json:"user_id"`
	QuestID       string    `gorm:"size:36;not null" json:"quest_id"`
	Coins         float64   `json:"coins"`
	XP            int       `json:"xp"`
	Level         int       `json:"level"`
	VIPMultiplier float64   `json:"vip_multiplier"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

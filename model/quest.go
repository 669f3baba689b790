package model

import (
	"time"

	"gorm.io/datatypes"
)

// PoolQuest is one quest of a period's current pool.
type PoolQuest struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Period          string    `gorm:"index:idx_pool_period;size:16;not null" json:"period"`
	Position        int       `gorm:"not null" json:"position"`
	Name            string    `gorm:"size:96;not null" json:"name"`
	Description     string    `gorm:"size:255" json:"description"`
	ObjectiveType   string    `gorm:"size:32;not null" json:"objective_type"`
	Target          string    `gorm:"size:64" json:"target"`
	RequiredAmount  float64   `gorm:"not null" json:"required_amount"`
	BaseCoins       float64   `json:"base_coins"`
	BonusXP         int       `json:"bonus_xp"`
	MinLevel        int       `json:"min_level"`
	AccessType      string    `gorm:"size:16;default:individual" json:"access_type"`
	MaxSlots        int       `json:"max_slots"`
	DurationMinutes int       `json:"duration_minutes"`
	RequiredRank    string    `gorm:"size:8" json:"required_rank"`
	RankPoints      int       `json:"rank_points"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `gorm:"index" json:"expires_at"`
}

// QuestProgress is one user's record for one quest. Quest holds the JSON
// snapshot of the quest taken at acceptance.
type QuestProgress struct {
	UserID          string         `gorm:"primaryKey;size:36" json:"user_id"`
	QuestID         string         `gorm:"primaryKey;size:36" json:"quest_id"`
	Status          string         `gorm:"index:idx_progress_status;size:16;not null" json:"status"`
	CurrentProgress float64        `json:"current_progress"`
	AcceptedAt      time.Time      `json:"accepted_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	Quest           datatypes.JSON `json:"quest"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// RankData is per-user progression.
type RankData struct {
	UserID         string    `gorm:"primaryKey;size:36" json:"user_id"`
	RankPoints     int       `gorm:"index;default:0" json:"rank_points"`
	TotalCompleted int       `gorm:"default:0" json:"total_completed"`
	TotalFailed    int       `gorm:"default:0" json:"total_failed"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Assignment is a held slot or countdown. A nil ExpiresAt is untimed.
type Assignment struct {
	QuestID    string     `gorm:"primaryKey;size:36" json:"quest_id"`
	UserID     string     `gorm:"primaryKey;size:36" json:"user_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Shared     bool       `json:"shared"`
	Released   bool       `gorm:"index;default:false" json:"released"`
}

// AbandonCount is the number of abandons by one user on one calendar day.
type AbandonCount struct {
	UserID   string `gorm:"primaryKey;size:36" json:"user_id"`
	Day      string `gorm:"primaryKey;size:10" json:"day"` // 2006-01-02
	Abandons int    `gorm:"not null;default:0" json:"abandons"`
}

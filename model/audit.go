package model

import (
	"time"

	"gorm.io/datatypes"
)

// QuestJournal records one quest lifecycle event.
type QuestJournal struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_journal_trace;size:36" json:"trace_id"`
	UserID    string         `gorm:"index:idx_journal_user;size:36;not null" json:"user_id"`
	QuestID   string         `gorm:"size:36" json:"quest_id"`
	Event     string         `gorm:"size:32;not null" json:"event"`
	Result    string         `gorm:"size:32" json:"result"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_journal_created;autoCreateTime:milli" json:"created_at"`
}

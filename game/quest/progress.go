package quest

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one user's pursuit of one quest.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// ParseStatus is case-insensitive.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusActive, StatusCompleted, StatusExpired, StatusFailed, StatusAbandoned:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// UserQuestProgress is created on acceptance and mutated only while active.
// It carries a snapshot of the quest so progress survives pool rotation.
type UserQuestProgress struct {
	UserID          uuid.UUID  `json:"user_id"`
	QuestID         uuid.UUID  `json:"quest_id"`
	Status          Status     `json:"status"`
	CurrentProgress float64    `json:"current_progress"`
	AcceptedAt      time.Time  `json:"accepted_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Quest           Quest      `json:"quest"`
}

// NewProgress returns a fresh active record for q.
func NewProgress(user uuid.UUID, q Quest, now time.Time) *UserQuestProgress {
	return &UserQuestProgress{
		UserID:     user,
		QuestID:    q.ID,
		Status:     StatusActive,
		AcceptedAt: now,
		Quest:      q,
	}
}

// AddProgress accumulates amount while active. Reaching the required amount
// clamps progress to it and completes the record in the same step. It
// returns true only on the call that completes.
func (p *UserQuestProgress) AddProgress(amount float64, now time.Time) bool {
	if p.Status != StatusActive || amount <= 0 {
		return false
	}
	required := p.Quest.Objective.RequiredAmount
	p.CurrentProgress += amount
	if p.CurrentProgress >= required {
		p.CurrentProgress = required
		p.Status = StatusCompleted
		p.CompletedAt = &now
		return true
	}
	return false
}

// Percent is progress in [0,1].
func (p *UserQuestProgress) Percent() float64 {
	required := p.Quest.Objective.RequiredAmount
	if required <= 0 {
		return 1
	}
	if pct := p.CurrentProgress / required; pct < 1 {
		return pct
	}
	return 1
}

// Abandon moves an active record to abandoned.
func (p *UserQuestProgress) Abandon() bool {
	return p.finish(StatusAbandoned, nil)
}

// Expire moves an active record to expired (pool rotation).
func (p *UserQuestProgress) Expire() bool {
	return p.finish(StatusExpired, nil)
}

// Fail moves an active record to failed (countdown ran out).
func (p *UserQuestProgress) Fail(now time.Time) bool {
	return p.finish(StatusFailed, &now)
}

func (p *UserQuestProgress) finish(to Status, at *time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	p.Status = to
	if at != nil {
		p.CompletedAt = at
	}
	return true
}

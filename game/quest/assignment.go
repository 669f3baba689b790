package quest

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Assignment binds one user to one unit of a quest's capacity. A zero
// ExpiresAt means the assignment never times out.
//
// The released flag is read by the timer service without the availability
// manager's lock, so it is atomic; pass assignments by pointer.
type Assignment struct {
	QuestID    uuid.UUID
	UserID     uuid.UUID
	AssignedAt time.Time
	ExpiresAt  time.Time
	// Shared is true when the assignment holds capacity of a global-unique or
	// limited-slot quest. Individual timed quests carry unshared assignments
	// so their countdown survives restarts.
	Shared bool

	released atomic.Bool
}

// NewAssignment starts an assignment at now; durationMinutes <= 0 is untimed.
func NewAssignment(q *Quest, user uuid.UUID, now time.Time) *Assignment {
	a := &Assignment{
		QuestID:    q.ID,
		UserID:     user,
		AssignedAt: now,
		Shared:     q.AccessType.Shared(),
	}
	if q.DurationMinutes > 0 {
		a.ExpiresAt = now.Add(time.Duration(q.DurationMinutes) * time.Minute)
	}
	return a
}

// RestoreAssignment rebuilds a persisted assignment.
func RestoreAssignment(questID, user uuid.UUID, assignedAt, expiresAt time.Time, shared, released bool) *Assignment {
	a := &Assignment{
		QuestID:    questID,
		UserID:     user,
		AssignedAt: assignedAt,
		ExpiresAt:  expiresAt,
		Shared:     shared,
	}
	a.released.Store(released)
	return a
}

// Timed reports whether the assignment carries a countdown.
func (a *Assignment) Timed() bool {
	return !a.ExpiresAt.IsZero()
}

// TimerExpired reports whether a timed assignment's countdown has run out.
func (a *Assignment) TimerExpired(now time.Time) bool {
	return a.Timed() && now.After(a.ExpiresAt)
}

// Remaining is the time left, or math.MaxInt64 for untimed assignments.
func (a *Assignment) Remaining(now time.Time) time.Duration {
	if !a.Timed() {
		return time.Duration(math.MaxInt64)
	}
	if d := a.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Release marks the assignment released. It returns false if it already was.
func (a *Assignment) Release() bool {
	return a.released.CompareAndSwap(false, true)
}

// Released reports whether the assignment no longer holds capacity.
func (a *Assignment) Released() bool {
	return a.released.Load()
}

// Live reports whether the assignment still counts toward capacity.
func (a *Assignment) Live(now time.Time) bool {
	return !a.Released() && !a.TimerExpired(now)
}

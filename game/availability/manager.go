// Package availability brokers the shared capacity of global-unique and
// limited-slot quests across concurrently accepting users.
package availability

import (
	"context"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the assignment table. One RWMutex guards it: readers answer
// availability and occupancy, the writer runs check-and-reserve as a single
// critical section so concurrent acceptances never overfill a quest.
type Manager struct {
	store  quest.Store
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	byQuest map[uuid.UUID][]*quest.Assignment
}

// NewManager returns an empty manager. Call Initialize to rehydrate.
func NewManager(store quest.Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		logger:  logger,
		now:     time.Now,
		byQuest: make(map[uuid.UUID][]*quest.Assignment),
	}
}

// SetClock replaces the time source used for timer expiry checks.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Initialize replaces the table with the store's shared assignments,
// dropping any already released or timer-expired.
func (m *Manager) Initialize(ctx context.Context) error {
	loaded, err := m.store.LoadActiveAssignments(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byQuest = make(map[uuid.UUID][]*quest.Assignment)
	kept := 0
	for _, a := range loaded {
		if !a.Shared || !a.Live(now) {
			continue
		}
		m.byQuest[a.QuestID] = append(m.byQuest[a.QuestID], a)
		kept++
	}
	m.logger.Info("assignments restored", zap.Int("loaded", len(loaded)), zap.Int("kept", kept))
	return nil
}

// IsAvailable is a read-only check; individual quests are always available.
func (m *Manager) IsAvailable(q *quest.Quest, user uuid.UUID) bool {
	if !q.AccessType.Shared() {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableLocked(q, user, m.now())
}

// availableLocked must be called with mu held. A user who still holds an
// unreleased assignment, even a timer-expired one, cannot take another.
func (m *Manager) availableLocked(q *quest.Quest, user uuid.UUID, now time.Time) bool {
	live := 0
	for _, a := range m.byQuest[q.ID] {
		if a.Released() {
			continue
		}
		if a.UserID == user {
			return false
		}
		if !a.TimerExpired(now) {
			live++
		}
	}
	return live < capacity(q)
}

func capacity(q *quest.Quest) int {
	switch q.AccessType {
	case quest.AccessGlobalUnique:
		return 1
	case quest.AccessLimitedSlots:
		return max(q.MaxSlots, 1)
	}
	return 0
}

// TryAssign reserves a slot and returns the assignment, or nil when the quest
// is full or the user already holds it. Individual quests get an assignment
// that consumes no shared capacity and is not tracked here.
func (m *Manager) TryAssign(ctx context.Context, q *quest.Quest, user uuid.UUID) *quest.Assignment {
	now := m.now()
	if !q.AccessType.Shared() {
		return quest.NewAssignment(q, user, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.availableLocked(q, user, now) {
		metrics.SlotRejections.WithLabelValues(string(q.AccessType)).Inc()
		m.logger.Debug("slot unavailable",
			zap.String("quest", q.ShortID()), zap.String("user", user.String()))
		return nil
	}
	a := quest.NewAssignment(q, user, now)
	m.byQuest[q.ID] = append(m.byQuest[q.ID], a)
	if err := m.store.SaveAssignment(ctx, a); err != nil {
		m.logger.Error("save assignment failed",
			zap.String("quest", q.ShortID()), zap.String("user", user.String()), zap.Error(err))
	}
	m.logger.Info("slot assigned",
		zap.String("quest", q.ShortID()),
		zap.String("user", user.String()),
		zap.String("access", string(q.AccessType)))
	return a
}

// Release frees the user's slot on questID and prunes released entries.
// It is a no-op when the user holds none, and reports whether it freed one.
func (m *Manager) Release(ctx context.Context, questID, user uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.byQuest[questID]
	if !ok {
		return false
	}
	released := false
	for _, a := range list {
		if a.UserID == user && a.Release() {
			released = true
			if err := m.store.SaveAssignment(ctx, a); err != nil {
				m.logger.Error("save released assignment failed",
					zap.String("quest", questID.String()), zap.String("user", user.String()), zap.Error(err))
			}
			m.logger.Info("slot released", zap.String("quest", questID.String()), zap.String("user", user.String()))
			break
		}
	}
	m.pruneLocked(questID, func(a *quest.Assignment) bool { return a.Released() })
	return released
}

// pruneLocked must be called with mu held.
func (m *Manager) pruneLocked(questID uuid.UUID, drop func(*quest.Assignment) bool) int {
	list := m.byQuest[questID]
	kept := list[:0]
	for _, a := range list {
		if !drop(a) {
			kept = append(kept, a)
		}
	}
	dropped := len(list) - len(kept)
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	if len(kept) == 0 {
		delete(m.byQuest, questID)
	} else {
		m.byQuest[questID] = kept
	}
	return dropped
}

// GetOccupiedSlots counts assignments that are neither released nor timer-expired.
func (m *Manager) GetOccupiedSlots(questID uuid.UUID) int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.byQuest[questID] {
		if a.Live(now) {
			n++
		}
	}
	return n
}

// Occupancy returns GetOccupiedSlots for every tracked quest.
func (m *Manager) Occupancy() map[uuid.UUID]int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]int, len(m.byQuest))
	for id, list := range m.byQuest {
		for _, a := range list {
			if a.Live(now) {
				out[id]++
			}
		}
	}
	return out
}

// GetExpiredAssignments lists unreleased assignments whose countdown ran out.
func (m *Manager) GetExpiredAssignments() []*quest.Assignment {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*quest.Assignment
	for _, list := range m.byQuest {
		for _, a := range list {
			if !a.Released() && a.TimerExpired(now) {
				out = append(out, a)
			}
		}
	}
	return out
}

// GetAssignment returns the user's unreleased assignment on questID, or nil.
func (m *Manager) GetAssignment(questID, user uuid.UUID) *quest.Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byQuest[questID] {
		if a.UserID == user && !a.Released() {
			return a
		}
	}
	return nil
}

// Sweep physically removes released and timer-expired entries and returns
// how many it dropped.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.byQuest {
		n += m.pruneLocked(id, func(a *quest.Assignment) bool { return !a.Live(now) })
	}
	if n > 0 {
		m.logger.Debug("assignments swept", zap.Int("dropped", n))
	}
	return n
}

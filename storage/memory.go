package storage

import (
	"context"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/google/uuid"
)

type progressKey struct {
	user  uuid.UUID
	quest uuid.UUID
}

// MemoryStore is an in-process quest.Store. Every value crossing its
// boundary is copied, so callers never share records with it.
type MemoryStore struct {
	mu          sync.RWMutex
	pools       map[quest.Period][]quest.Quest
	progress    map[uuid.UUID]map[uuid.UUID]quest.UserQuestProgress
	ranks       map[uuid.UUID]quest.UserRankData
	assignments map[progressKey]*quest.Assignment
	abandons    map[uuid.UUID]map[string]int
	now         func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:       make(map[quest.Period][]quest.Quest),
		progress:    make(map[uuid.UUID]map[uuid.UUID]quest.UserQuestProgress),
		ranks:       make(map[uuid.UUID]quest.UserRankData),
		assignments: make(map[progressKey]*quest.Assignment),
		abandons:    make(map[uuid.UUID]map[string]int),
		now:         time.Now,
	}
}

// SetClock replaces the clock that decides which day abandons count toward.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) LoadQuestPool(_ context.Context, period quest.Period) ([]quest.Quest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]quest.Quest(nil), m.pools[period]...), nil
}

func (m *MemoryStore) SaveQuestPool(_ context.Context, period quest.Period, quests []quest.Quest) error {
	m.mu.Lock()
	m.pools[period] = append([]quest.Quest(nil), quests...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadUserProgress(_ context.Context, user uuid.UUID) ([]*quest.UserQuestProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*quest.UserQuestProgress, 0, len(m.progress[user]))
	for _, p := range m.progress[user] {
		out = append(out, cloneProgress(p))
	}
	return out, nil
}

func (m *MemoryStore) LoadActiveProgress(_ context.Context) ([]*quest.UserQuestProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*quest.UserQuestProgress
	for _, byQuest := range m.progress {
		for _, p := range byQuest {
			if p.Status == quest.StatusActive {
				out = append(out, cloneProgress(p))
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveUserProgress(_ context.Context, p *quest.UserQuestProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQuest, ok := m.progress[p.UserID]
	if !ok {
		byQuest = make(map[uuid.UUID]quest.UserQuestProgress)
		m.progress[p.UserID] = byQuest
	}
	byQuest[p.QuestID] = *cloneProgress(*p)
	return nil
}

func (m *MemoryStore) RemoveUserProgress(_ context.Context, user, questID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.progress[user], questID)
	return nil
}

func (m *MemoryStore) GetCompletedCount(_ context.Context, user uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.progress[user] {
		if p.Status == quest.StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetAbandonCountToday(_ context.Context, user uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.abandons[user][dayKey(m.now())], nil
}

func (m *MemoryStore) RecordAbandon(_ context.Context, user uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	days, ok := m.abandons[user]
	if !ok {
		days = make(map[string]int)
		m.abandons[user] = days
	}
	days[dayKey(m.now())]++
	return nil
}

func (m *MemoryStore) LoadRankData(_ context.Context, user uuid.UUID) (*quest.UserRankData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.ranks[user]
	if !ok {
		return nil, quest.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) SaveRankData(_ context.Context, data quest.UserRankData) error {
	m.mu.Lock()
	m.ranks[data.UserID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadActiveAssignments(_ context.Context) ([]*quest.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*quest.Assignment
	for _, a := range m.assignments {
		if !a.Released() {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveAssignment(_ context.Context, a *quest.Assignment) error {
	m.mu.Lock()
	m.assignments[progressKey{user: a.UserID, quest: a.QuestID}] = cloneAssignment(a)
	m.mu.Unlock()
	return nil
}

func cloneProgress(p quest.UserQuestProgress) *quest.UserQuestProgress {
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return &p
}

func cloneAssignment(a *quest.Assignment) *quest.Assignment {
	return quest.RestoreAssignment(a.QuestID, a.UserID, a.AssignedAt, a.ExpiresAt, a.Shared, a.Released())
}

// dayKey buckets abandon counters by local calendar day.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

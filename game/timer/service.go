// Package timer tracks countdowns of duration-limited quests and fails them
// once, after any reconnect grace window has passed.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExpiredFunc is invoked once per expired timer, outside the service lock.
type ExpiredFunc func(questID, user uuid.UUID)

type key struct {
	quest uuid.UUID
	user  uuid.UUID
}

// Service is driven by an external ticker calling Tick.
type Service struct {
	logger *zap.Logger
	grace  time.Duration
	now    func() time.Time

	mu        sync.Mutex
	timers    map[key]*quest.Assignment
	graceFrom map[uuid.UUID]time.Time
	onExpired ExpiredFunc
}

// NewService creates a timer service with the given reconnect grace period.
func NewService(grace time.Duration, logger *zap.Logger) *Service {
	return &Service{
		logger:    logger,
		grace:     grace,
		now:       time.Now,
		timers:    make(map[key]*quest.Assignment),
		graceFrom: make(map[uuid.UUID]time.Time),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// OnExpired sets the expiry callback. Tick does nothing until it is set.
func (s *Service) OnExpired(fn ExpiredFunc) {
	s.mu.Lock()
	s.onExpired = fn
	s.mu.Unlock()
}

// RegisterTimer starts tracking a timed assignment; untimed ones are ignored.
func (s *Service) RegisterTimer(a *quest.Assignment) {
	if !a.Timed() {
		return
	}
	s.mu.Lock()
	s.timers[key{a.QuestID, a.UserID}] = a
	n := len(s.timers)
	s.mu.Unlock()
	metrics.ActiveTimers.Set(float64(n))
	s.logger.Debug("timer registered",
		zap.String("quest", a.QuestID.String()),
		zap.String("user", a.UserID.String()),
		zap.Duration("remaining", a.Remaining(s.now())))
}

// RestoreTimers re-registers persisted assignments after a restart, skipping
// released, untimed and already-expired ones. It returns how many it kept.
func (s *Service) RestoreTimers(list []*quest.Assignment) int {
	now := s.now()
	restored := 0
	s.mu.Lock()
	for _, a := range list {
		if !a.Timed() || !a.Live(now) {
			continue
		}
		s.timers[key{a.QuestID, a.UserID}] = a
		restored++
	}
	n := len(s.timers)
	s.mu.Unlock()
	metrics.ActiveTimers.Set(float64(n))
	if restored > 0 {
		s.logger.Info("timers restored", zap.Int("count", restored))
	}
	return restored
}

// RemoveTimer stops tracking (questID, user). Missing timers are ignored.
func (s *Service) RemoveTimer(questID, user uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, key{questID, user})
	n := len(s.timers)
	s.mu.Unlock()
	metrics.ActiveTimers.Set(float64(n))
}

// Tick prunes released timers and fires the callback for every expired one
// whose user is not inside a grace window. Each timer fires at most once.
func (s *Service) Tick() {
	now := s.now()

	s.mu.Lock()
	fn := s.onExpired
	if fn == nil {
		s.mu.Unlock()
		return
	}
	var due []key
	for k, a := range s.timers {
		if a.Released() {
			delete(s.timers, k)
			continue
		}
		if !a.TimerExpired(now) {
			continue
		}
		if from, ok := s.graceFrom[k.user]; ok {
			if now.Sub(from) < s.grace {
				continue
			}
			delete(s.graceFrom, k.user)
		}
		delete(s.timers, k)
		due = append(due, k)
	}
	n := len(s.timers)
	s.mu.Unlock()
	metrics.ActiveTimers.Set(float64(n))

	for _, k := range due {
		s.logger.Info("timer expired", zap.String("quest", k.quest.String()), zap.String("user", k.user.String()))
		s.fire(fn, k)
	}
}

func (s *Service) fire(fn ExpiredFunc, k key) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer callback panicked",
				zap.String("quest", k.quest.String()),
				zap.String("user", k.user.String()),
				zap.Any("panic", r))
		}
	}()
	fn(k.quest, k.user)
}

// OnUserDisconnect opens a grace window if the user has a live timer.
func (s *Service) OnUserDisconnect(user uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, a := range s.timers {
		if k.user == user && !a.Released() {
			s.graceFrom[user] = s.now()
			s.logger.Debug("grace window started", zap.String("user", user.String()))
			return
		}
	}
}

// OnUserConnect closes the user's grace window.
func (s *Service) OnUserConnect(user uuid.UUID) {
	s.mu.Lock()
	delete(s.graceFrom, user)
	s.mu.Unlock()
}

// InGrace reports whether the user currently has an open grace window.
func (s *Service) InGrace(user uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.graceFrom[user]
	return ok
}

// GetRemainingSeconds returns whole seconds left, or -1 if no timer exists.
func (s *Service) GetRemainingSeconds(questID, user uuid.UUID) int64 {
	s.mu.Lock()
	a, ok := s.timers[key{questID, user}]
	s.mu.Unlock()
	if !ok || !a.Timed() {
		return -1
	}
	return int64(a.Remaining(s.now()) / time.Second)
}

// FormatRemaining renders the remaining time as m:ss, or --:-- without a timer.
func (s *Service) FormatRemaining(questID, user uuid.UUID) string {
	return FormatSeconds(s.GetRemainingSeconds(questID, user))
}

// FormatSeconds renders seconds as m:ss; negative values render as --:--.
func FormatSeconds(sec int64) string {
	if sec < 0 {
		return "--:--"
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// ActiveCount is the number of tracked timers.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown drops every timer and grace window.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.timers = make(map[key]*quest.Assignment)
	s.graceFrom = make(map[uuid.UUID]time.Time)
	s.mu.Unlock()
	metrics.ActiveTimers.Set(0)
}

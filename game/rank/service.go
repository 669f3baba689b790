// Package rank maintains per-user progression points and derives the
// user's tier from them.
package rank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/TheFokysnik/EcoTaleQuests/cache"
	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeaderboardKey is the cache sorted set mirroring rank points.
const LeaderboardKey = "quests:rank"

// Change describes a tier boundary crossing.
type Change struct {
	UserID uuid.UUID
	From   quest.RankTier
	To     quest.RankTier
	Points int
	Up     bool
}

// Listener receives tier changes after the new data is persisted.
type Listener func(ctx context.Context, c Change)

// Info is the rank view for one user.
type Info struct {
	quest.UserRankData
	Tier           quest.RankTier  `json:"tier"`
	Ordinal        int             `json:"ordinal"`
	Next           *quest.RankTier `json:"next,omitempty"`
	PointsToNext   int             `json:"points_to_next"`
	ProgressToNext float64         `json:"progress_to_next"`
}

// LeaderEntry is one leaderboard row.
type LeaderEntry struct {
	UserID uuid.UUID      `json:"user_id"`
	Points int            `json:"points"`
	Tier   quest.RankTier `json:"tier"`
}

type record struct {
	mu   sync.Mutex // serializes award / penalize for one user
	data quest.UserRankData
}

// Service is safe for concurrent use. Mutations for one user are serialized;
// different users proceed in parallel.
type Service struct {
	store  quest.Store
	cache  cache.Cache
	ladder *quest.Ladder
	cfg    config.RanksConfig
	logger *zap.Logger

	mu        sync.Mutex
	records   map[uuid.UUID]*record
	listeners []Listener
}

// NewService builds the ladder from cfg.Tiers. c may be nil, which disables
// the leaderboard.
func NewService(store quest.Store, c cache.Cache, cfg config.RanksConfig, logger *zap.Logger) *Service {
	tiers := make([]quest.RankTier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, quest.RankTier{ID: t.ID, Label: t.Label, Threshold: t.Threshold, Color: t.Color})
	}
	return &Service{
		store:   store,
		cache:   c,
		ladder:  quest.NewLadder(tiers),
		cfg:     cfg,
		logger:  logger,
		records: make(map[uuid.UUID]*record),
	}
}

// OnChange registers a listener for tier crossings.
func (s *Service) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Ladder returns the configured tier ladder.
func (s *Service) Ladder() *quest.Ladder { return s.ladder }

// record loads or lazily creates the user's rank data. The first access
// for an unknown user persists a zero record. A failed load is not cached,
// so the next access retries.
func (s *Service) record(ctx context.Context, user uuid.UUID) (*record, error) {
	s.mu.Lock()
	r, ok := s.records[user]
	s.mu.Unlock()
	if ok {
		return r, nil
	}

	data := quest.UserRankData{UserID: user}
	loaded, err := s.store.LoadRankData(ctx, user)
	created := false
	switch {
	case err == nil:
		data = *loaded
		data.UserID = user
	case errors.Is(err, quest.ErrNotFound):
		created = true
	default:
		return nil, fmt.Errorf("load rank data: %w", err)
	}

	s.mu.Lock()
	if r, ok := s.records[user]; ok {
		s.mu.Unlock()
		return r, nil
	}
	r = &record{data: data}
	// Held until the zero record is written so no mutation can be
	// overwritten by it.
	r.mu.Lock()
	s.records[user] = r
	s.mu.Unlock()
	if created {
		if err := s.store.SaveRankData(ctx, data); err != nil {
			s.logger.Error("save new rank data failed", zap.String("user", user.String()), zap.Error(err))
		}
	}
	r.mu.Unlock()
	return r, nil
}

func (s *Service) rankData(ctx context.Context, user uuid.UUID) (quest.UserRankData, error) {
	r, err := s.record(ctx, user)
	if err != nil {
		return quest.UserRankData{UserID: user}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

// GetRankData returns a copy of the user's data. A store failure yields an
// empty record that is not cached.
func (s *Service) GetRankData(ctx context.Context, user uuid.UUID) quest.UserRankData {
	data, err := s.rankData(ctx, user)
	if err != nil {
		s.logger.Error("rank data unavailable", zap.String("user", user.String()), zap.Error(err))
	}
	return data
}

// GetRank returns the user's current tier and its ordinal.
func (s *Service) GetRank(ctx context.Context, user uuid.UUID) (quest.RankTier, int) {
	return s.ladder.ForPoints(s.GetRankData(ctx, user).RankPoints)
}

// GetInfo adds next-tier progress to the user's data.
func (s *Service) GetInfo(ctx context.Context, user uuid.UUID) Info {
	data := s.GetRankData(ctx, user)
	tier, ord := s.ladder.ForPoints(data.RankPoints)
	info := Info{UserRankData: data, Tier: tier, Ordinal: ord, ProgressToNext: 1}
	if next, ok := s.ladder.Next(ord); ok {
		info.Next = &next
		info.PointsToNext = next.Threshold - data.RankPoints
		if span := next.Threshold - tier.Threshold; span > 0 {
			info.ProgressToNext = math.Min(1, float64(data.RankPoints-tier.Threshold)/float64(span))
		}
	}
	return info
}

// requiredOrdinal resolves q's gate. Quests naming an unknown tier are ungated.
func (s *Service) requiredOrdinal(q *quest.Quest) (int, bool) {
	if q.RequiredRank == "" {
		return 0, false
	}
	ord, ok := s.ladder.Ordinal(q.RequiredRank)
	if !ok {
		s.logger.Warn("quest requires unknown rank",
			zap.String("quest", q.ShortID()), zap.String("rank", q.RequiredRank))
	}
	return ord, ok
}

// CanAccept reports whether the user's tier reaches the quest's required tier.
func (s *Service) CanAccept(ctx context.Context, user uuid.UUID, q *quest.Quest) bool {
	need, gated := s.requiredOrdinal(q)
	if !gated {
		return true
	}
	data, err := s.rankData(ctx, user)
	if err != nil {
		s.logger.Warn("rank gate check failed", zap.String("user", user.String()), zap.Error(err))
		return false
	}
	_, have := s.ladder.ForPoints(data.RankPoints)
	return have >= need
}

// AwardPoints credits a completion. The quest's rank points are boosted by
// TierBonus per ordinal of its required tier. It returns the points added,
// or zero when the user's data could not be loaded.
func (s *Service) AwardPoints(ctx context.Context, user uuid.UUID, q *quest.Quest) int {
	points := q.RankPoints
	if ord, gated := s.requiredOrdinal(q); gated && ord > 0 {
		points = int(math.Round(float64(points) * (1 + float64(ord)*s.cfg.TierBonus)))
	}
	if points < 0 {
		points = 0
	}
	if !s.mutate(ctx, user, func(d *quest.UserRankData) {
		d.RankPoints += points
		d.TotalCompleted++
	}) {
		return 0
	}
	return points
}

// Penalize records a failure and subtracts points, clamped at zero.
func (s *Service) Penalize(ctx context.Context, user uuid.UUID, points int) {
	if points < 0 {
		points = 0
	}
	s.mutate(ctx, user, func(d *quest.UserRankData) {
		d.RankPoints = max(d.RankPoints-points, 0)
		d.TotalFailed++
	})
}

// mutate applies fn and persists the result. It reports false, changing
// nothing, when the user's data cannot be loaded.
func (s *Service) mutate(ctx context.Context, user uuid.UUID, fn func(*quest.UserRankData)) bool {
	r, err := s.record(ctx, user)
	if err != nil {
		s.logger.Error("rank update skipped", zap.String("user", user.String()), zap.Error(err))
		return false
	}

	r.mu.Lock()
	from, fromOrd := s.ladder.ForPoints(r.data.RankPoints)
	fn(&r.data)
	data := r.data
	if err := s.store.SaveRankData(ctx, data); err != nil {
		s.logger.Error("save rank data failed", zap.String("user", user.String()), zap.Error(err))
	}
	s.mirror(ctx, data)
	r.mu.Unlock()

	to, toOrd := s.ladder.ForPoints(data.RankPoints)
	if toOrd == fromOrd {
		return true
	}
	c := Change{UserID: user, From: from, To: to, Points: data.RankPoints, Up: toOrd > fromOrd}
	s.logger.Info("rank changed",
		zap.String("user", user.String()),
		zap.String("from", from.ID),
		zap.String("to", to.ID),
		zap.Int("points", data.RankPoints))
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(ctx, c)
	}
	return true
}

func (s *Service) mirror(ctx context.Context, data quest.UserRankData) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ZAdd(ctx, LeaderboardKey, float64(data.RankPoints), data.UserID.String()); err != nil {
		s.logger.Warn("leaderboard update failed", zap.String("user", data.UserID.String()), zap.Error(err))
	}
}

// Leaderboard returns the top n users by rank points.
func (s *Service) Leaderboard(ctx context.Context, n int) ([]LeaderEntry, error) {
	if s.cache == nil || n <= 0 {
		return nil, nil
	}
	members, err := s.cache.ZRevRange(ctx, LeaderboardKey, 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]LeaderEntry, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		score, err := s.cache.ZScore(ctx, LeaderboardKey, m)
		if err != nil {
			if cache.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		tier, _ := s.ladder.ForPoints(int(score))
		out = append(out, LeaderEntry{UserID: id, Points: int(score), Tier: tier})
	}
	return out, nil
}

// Invalidate drops the cached record so the next access reloads from the store.
func (s *Service) Invalidate(user uuid.UUID) {
	s.mu.Lock()
	delete(s.records, user)
	s.mu.Unlock()
}

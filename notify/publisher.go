// Package notify publishes per-user quest notifications on PubSub, where the
// SSE endpoint and any other subscriber pick them up.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/cache"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/game/rank"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification kinds.
const (
	KindProgress  = "quest_progress"
	KindCompleted = "quest_completed"
	KindFailed    = "quest_failed"
	KindExpired   = "quest_expired"
	KindRankUp    = "rank_up"
	KindRankDown  = "rank_down"
)

// Channel is the PubSub channel carrying one user's notifications.
func Channel(user uuid.UUID) string {
	return "quests:user:" + user.String()
}

// Event is the JSON payload of a notification.
type Event struct {
	Kind     string    `json:"kind"`
	UserID   uuid.UUID `json:"user_id"`
	QuestID  uuid.UUID `json:"quest_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Current  float64   `json:"current,omitempty"`
	Required float64   `json:"required,omitempty"`
	Percent  int       `json:"percent,omitempty"`
	Coins    float64   `json:"coins,omitempty"`
	XP       int       `json:"xp,omitempty"`
	Rewarded bool      `json:"rewarded,omitempty"`
	FromRank string    `json:"from_rank,omitempty"`
	ToRank   string    `json:"to_rank,omitempty"`
	Points   int       `json:"points,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher is best-effort: publish errors are logged, never returned.
type Publisher struct {
	ps     cache.PubSub
	logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(ps cache.PubSub, logger *zap.Logger) *Publisher {
	return &Publisher{ps: ps, logger: logger, now: time.Now}
}

func (p *Publisher) QuestProgress(ctx context.Context, rec *quest.UserQuestProgress) {
	p.publish(ctx, progressEvent(KindProgress, rec))
}

func (p *Publisher) QuestCompleted(ctx context.Context, rec *quest.UserQuestProgress, coins float64, xp int, rewarded bool) {
	ev := progressEvent(KindCompleted, rec)
	ev.Coins = coins
	ev.XP = xp
	ev.Rewarded = rewarded
	p.publish(ctx, ev)
}

func (p *Publisher) QuestFailed(ctx context.Context, rec *quest.UserQuestProgress) {
	p.publish(ctx, progressEvent(KindFailed, rec))
}

func (p *Publisher) QuestExpired(ctx context.Context, rec *quest.UserQuestProgress) {
	p.publish(ctx, progressEvent(KindExpired, rec))
}

// RankChanged is a rank.Listener.
func (p *Publisher) RankChanged(ctx context.Context, c rank.Change) {
	kind := KindRankDown
	if c.Up {
		kind = KindRankUp
	}
	p.publish(ctx, Event{
		Kind:     kind,
		UserID:   c.UserID,
		FromRank: c.From.ID,
		ToRank:   c.To.ID,
		Points:   c.Points,
	})
}

func progressEvent(kind string, rec *quest.UserQuestProgress) Event {
	return Event{
		Kind:     kind,
		UserID:   rec.UserID,
		QuestID:  rec.QuestID,
		Name:     rec.Quest.Name,
		Current:  rec.CurrentProgress,
		Required: rec.Quest.Objective.RequiredAmount,
		Percent:  int(rec.Percent() * 100),
	}
}

func (p *Publisher) publish(ctx context.Context, ev Event) {
	ev.At = p.now()
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("notification encode failed", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}
	if err := p.ps.Publish(ctx, Channel(ev.UserID), string(data)); err != nil {
		p.logger.Warn("notification publish failed",
			zap.String("kind", ev.Kind), zap.String("user", ev.UserID.String()), zap.Error(err))
	}
}

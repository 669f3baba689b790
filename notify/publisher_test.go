package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/game/rank"
	"github.com/TheFokysnik/EcoTaleQuests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func next(t *testing.T, sub <-chan string) Event {
	t.Helper()
	select {
	case payload := <-sub:
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
	return Event{}
}

func subscribe(t *testing.T, user uuid.UUID) (*Publisher, <-chan string) {
	t.Helper()
	_, ps := testutil.SetupTestCache(t)
	msgs, cancel, err := ps.Subscribe(context.Background(), Channel(user))
	require.NoError(t, err)
	t.Cleanup(cancel)

	out := make(chan string, 16)
	go func() {
		for m := range msgs {
			out <- m.Payload
		}
	}()
	return NewPublisher(ps, nop()), out
}

func record(user uuid.UUID) *quest.UserQuestProgress {
	q := quest.Quest{
		ID:        uuid.New(),
		Name:      "daily_kill_mob_zombie",
		Objective: quest.Objective{Type: quest.TypeKillMob, Target: "zombie", RequiredAmount: 10},
	}
	p := quest.NewProgress(user, q, time.Now())
	p.CurrentProgress = 5
	return p
}

func TestQuestProgress(t *testing.T) {
	user := uuid.New()
	p, sub := subscribe(t, user)
	rec := record(user)

	p.QuestProgress(context.Background(), rec)
	ev := next(t, sub)
	assert.Equal(t, KindProgress, ev.Kind)
	assert.Equal(t, user, ev.UserID)
	assert.Equal(t, rec.QuestID, ev.QuestID)
	assert.Equal(t, 50, ev.Percent)
	assert.Equal(t, 10.0, ev.Required)
}

func TestQuestCompleted(t *testing.T) {
	user := uuid.New()
	p, sub := subscribe(t, user)
	rec := record(user)
	rec.AddProgress(5, time.Now())

	p.QuestCompleted(context.Background(), rec, 60, 30, true)
	ev := next(t, sub)
	assert.Equal(t, KindCompleted, ev.Kind)
	assert.Equal(t, 100, ev.Percent)
	assert.Equal(t, 60.0, ev.Coins)
	assert.Equal(t, 30, ev.XP)
	assert.True(t, ev.Rewarded)
}

func TestRankChanged(t *testing.T) {
	user := uuid.New()
	p, sub := subscribe(t, user)

	p.RankChanged(context.Background(), rank.Change{
		UserID: user,
		From:   quest.RankTier{ID: "E"},
		To:     quest.RankTier{ID: "D"},
		Points: 100,
		Up:     true,
	})
	ev := next(t, sub)
	assert.Equal(t, KindRankUp, ev.Kind)
	assert.Equal(t, "E", ev.FromRank)
	assert.Equal(t, "D", ev.ToRank)
	assert.Equal(t, 100, ev.Points)
}

func TestOtherUsersChannelIsSilent(t *testing.T) {
	user := uuid.New()
	p, sub := subscribe(t, user)

	p.QuestFailed(context.Background(), record(uuid.New()))
	select {
	case <-sub:
		t.Fatal("unexpected notification")
	case <-time.After(100 * time.Millisecond):
	}
}

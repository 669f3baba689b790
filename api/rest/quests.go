package rest

import (
	"net/http"
	"strconv"

	"github.com/TheFokysnik/EcoTaleQuests/audit"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/game/tracker"
	mw "github.com/TheFokysnik/EcoTaleQuests/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuestHandler handles the player-facing quest endpoints.
type QuestHandler struct {
	tr      *tracker.Tracker
	journal *audit.Service
	logger  *zap.Logger
}

// NewQuestHandler creates a QuestHandler. journal may be nil, which
// disables the history endpoint.
func NewQuestHandler(tr *tracker.Tracker, journal *audit.Service, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{tr: tr, journal: journal, logger: logger}
}

// MyQuest is a progress record plus its countdown.
type MyQuest struct {
	quest.UserQuestProgress
	Percent          float64 `json:"percent"`
	RemainingSeconds int64   `json:"remaining_seconds"`
	Remaining        string  `json:"remaining"`
}

func questParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quest id"})
		return uuid.Nil, false
	}
	return id, true
}

// Board returns the quests the caller can still accept.
// GET /api/quests
func (h *QuestHandler) Board(c *gin.Context) {
	ctx := c.Request.Context()
	user := mw.GetUserID(c)
	c.JSON(http.StatusOK, gin.H{
		"daily":  h.tr.GetAvailableQuests(ctx, user, quest.PeriodDaily),
		"weekly": h.tr.GetAvailableQuests(ctx, user, quest.PeriodWeekly),
	})
}

// Pool returns a whole pool, expired quests included.
// GET /api/quests/pool/:period
func (h *QuestHandler) Pool(c *gin.Context) {
	period, ok := quest.ParsePeriod(c.Param("period"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
		return
	}
	pool := h.tr.GetPool(c.Request.Context(), period)
	c.JSON(http.StatusOK, gin.H{"period": period, "quests": pool, "count": len(pool)})
}

// Mine lists the caller's records. ?status=active limits to active ones.
// GET /api/quests/mine
func (h *QuestHandler) Mine(c *gin.Context) {
	ctx := c.Request.Context()
	user := mw.GetUserID(c)

	var recs []quest.UserQuestProgress
	if c.Query("status") == string(quest.StatusActive) {
		recs = h.tr.GetActiveQuests(ctx, user)
	} else {
		recs = h.tr.GetUserQuests(ctx, user)
	}
	out := make([]MyQuest, 0, len(recs))
	for i := range recs {
		sec, text := h.tr.Remaining(recs[i].QuestID, user)
		out = append(out, MyQuest{
			UserQuestProgress: recs[i],
			Percent:           recs[i].Percent(),
			RemainingSeconds:  sec,
			Remaining:         text,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"quests":    out,
		"completed": h.tr.GetCompletedCount(ctx, user),
	})
}

func acceptStatus(r tracker.AcceptResult) int {
	switch r {
	case tracker.AcceptSuccess:
		return http.StatusOK
	case tracker.AcceptQuestNotFound:
		return http.StatusNotFound
	case tracker.AcceptCooldown:
		return http.StatusTooManyRequests
	case tracker.AcceptRankTooLow:
		return http.StatusForbidden
	case tracker.AcceptUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusConflict
}

// Accept starts a quest.
// POST /api/quests/:id/accept
func (h *QuestHandler) Accept(c *gin.Context) {
	id, ok := questParam(c)
	if !ok {
		return
	}
	res := h.tr.AcceptQuest(c.Request.Context(), mw.GetUserID(c), id)
	c.JSON(acceptStatus(res), gin.H{"result": res})
}

// Abandon gives up an active quest.
// POST /api/quests/:id/abandon
func (h *QuestHandler) Abandon(c *gin.Context) {
	id, ok := questParam(c)
	if !ok {
		return
	}
	res := h.tr.AbandonQuest(c.Request.Context(), mw.GetUserID(c), id)
	status := http.StatusConflict
	switch res {
	case tracker.AbandonSuccess:
		status = http.StatusOK
	case tracker.AbandonNotFound:
		status = http.StatusNotFound
	case tracker.AbandonUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"result": res})
}

// History returns the caller's journal, newest first.
// GET /api/quests/history?limit=50
func (h *QuestHandler) History(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.journal.History(c.Request.Context(), mw.GetUserID(c), limit)
	if err != nil {
		h.logger.Error("journal history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows})
}

// Connect marks the caller online, ending any reconnect grace window.
// POST /api/session/connect
func (h *QuestHandler) Connect(c *gin.Context) {
	h.tr.OnUserConnect(mw.GetUserID(c))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Disconnect marks the caller offline; running timers get the grace period.
// POST /api/session/disconnect
func (h *QuestHandler) Disconnect(c *gin.Context) {
	h.tr.OnUserDisconnect(mw.GetUserID(c))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

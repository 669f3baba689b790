package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/TheFokysnik/EcoTaleQuests/game/availability"
	"github.com/TheFokysnik/EcoTaleQuests/game/reward"
	"github.com/TheFokysnik/EcoTaleQuests/game/timer"
	"github.com/TheFokysnik/EcoTaleQuests/game/tracker"
	mw "github.com/TheFokysnik/EcoTaleQuests/middleware"
	"github.com/TheFokysnik/EcoTaleQuests/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	tr     *tracker.Tracker
	slots  *availability.Manager
	timers *timer.Service
	ledger *reward.LedgerGranter
	sched  *scheduler.Scheduler
	sec    config.SecurityConfig
	level  int
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. level is the default generation
// level for forced refreshes.
func NewAdminHandler(
	tr *tracker.Tracker,
	slots *availability.Manager,
	timers *timer.Service,
	ledger *reward.LedgerGranter,
	sched *scheduler.Scheduler,
	sec config.SecurityConfig,
	level int,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		tr: tr, slots: slots, timers: timers, ledger: ledger,
		sched: sched, sec: sec, level: level, logger: logger,
	}
}

func userParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

// Status returns engine health counters.
// GET /api/admin/status
func (h *AdminHandler) Status(c *gin.Context) {
	occ := h.slots.Occupancy()
	held := 0
	for _, n := range occ {
		held += n
	}
	c.JSON(http.StatusOK, gin.H{
		"active_timers":   h.timers.ActiveCount(),
		"shared_quests":   len(occ),
		"slots_held":      held,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// RefreshPools regenerates both pools now.
// POST /api/admin/pools/refresh?level=10
func (h *AdminHandler) RefreshPools(c *gin.Context) {
	level := h.level
	if l, err := strconv.Atoi(c.Query("level")); err == nil && l >= 0 {
		level = l
	}
	h.tr.ForceRefresh(c.Request.Context(), level)
	h.logger.Info("admin forced pool refresh", zap.Int("level", level))
	c.JSON(http.StatusOK, gin.H{"ok": true, "level": level})
}

// ExpireNow runs the pool-expiry sweep immediately.
// POST /api/admin/expire
func (h *AdminHandler) ExpireNow(c *gin.Context) {
	n := h.tr.CheckExpiredQuests(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// Occupancy returns held slots per shared quest.
// GET /api/admin/slots
func (h *AdminHandler) Occupancy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"slots": h.slots.Occupancy()})
}

// UserQuests returns every record a user has.
// GET /api/admin/users/:user/quests
func (h *AdminHandler) UserQuests(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": h.tr.GetUserQuests(c.Request.Context(), user)})
}

// RemoveQuest purges one record of a user.
// DELETE /api/admin/users/:user/quests/:id
func (h *AdminHandler) RemoveQuest(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	id, ok := questParam(c)
	if !ok {
		return
	}
	if !h.tr.RemoveQuest(c.Request.Context(), user, id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetVip stores a user's reward multiplier.
// PUT /api/admin/users/:user/vip
func (h *AdminHandler) SetVip(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	var req struct {
		Label      string  `json:"label"`
		Multiplier float64 `json:"multiplier" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ledger.SetVip(c.Request.Context(), user, req.Label, req.Multiplier); err != nil {
		h.logger.Error("set vip failed", zap.String("user", user.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// IssueToken signs a player token for the host game.
// POST /api/admin/tokens
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	token, err := mw.GenerateToken(user, h.sec.JWTSecret, h.sec.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int64(h.sec.TokenTTL.Seconds())})
}

// ListJobs returns the scheduled maintenance jobs.
// GET /api/admin/jobs
func (h *AdminHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.sched.ListJobs()})
}

// RunJob triggers a job outside its schedule.
// POST /api/admin/jobs/:name/run
func (h *AdminHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.sched.RunNow(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("admin triggered job", zap.String("job", name))
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

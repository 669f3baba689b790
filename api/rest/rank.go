package rest

import (
	"net/http"
	"strconv"

	"github.com/TheFokysnik/EcoTaleQuests/game/rank"
	"github.com/TheFokysnik/EcoTaleQuests/game/reward"
	mw "github.com/TheFokysnik/EcoTaleQuests/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RankHandler handles rank and wallet REST endpoints.
type RankHandler struct {
	ranks  *rank.Service
	ledger *reward.LedgerGranter
	logger *zap.Logger
}

// NewRankHandler creates a RankHandler.
func NewRankHandler(ranks *rank.Service, ledger *reward.LedgerGranter, logger *zap.Logger) *RankHandler {
	return &RankHandler{ranks: ranks, ledger: ledger, logger: logger}
}

const leaderboardTop = 100

// Me returns the caller's tier and progress to the next one.
// GET /api/rank
func (h *RankHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, h.ranks.GetInfo(c.Request.Context(), mw.GetUserID(c)))
}

// Tiers returns the configured ladder.
// GET /api/rank/tiers
func (h *RankHandler) Tiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": h.ranks.Ladder().Tiers()})
}

// Leaderboard returns the top users by rank points.
// GET /api/rank/leaderboard?limit=10
func (h *RankHandler) Leaderboard(c *gin.Context) {
	limit := 10
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= leaderboardTop {
		limit = l
	}
	entries, err := h.ranks.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}

// Wallet returns the caller's accumulated quest rewards.
// GET /api/wallet
func (h *RankHandler) Wallet(c *gin.Context) {
	w, err := h.ledger.Balance(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.logger.Error("wallet lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, w)
}

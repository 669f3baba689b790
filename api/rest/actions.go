package rest

import (
	"net/http"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/ingest"
	mw "github.com/TheFokysnik/EcoTaleQuests/middleware"
	"github.com/gin-gonic/gin"
)

// ActionHandler accepts action signals over HTTP for hosts that do not
// publish to the PubSub channel.
type ActionHandler struct {
	disp *ingest.Dispatcher
}

func NewActionHandler(disp *ingest.Dispatcher) *ActionHandler {
	return &ActionHandler{disp: disp}
}

// Report queues one signal for the caller.
// POST /api/actions
func (h *ActionHandler) Report(c *gin.Context) {
	var req struct {
		Type   string  `json:"type" binding:"required"`
		Target string  `json:"target"`
		Amount float64 `json:"amount" binding:"required,gt=0"`
		Level  int     `json:"level" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	typ, ok := quest.ParseType(req.Type)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action type"})
		return
	}
	queued := h.disp.Submit(ingest.Signal{
		UserID: mw.GetUserID(c),
		Type:   typ,
		Target: req.Target,
		Amount: req.Amount,
		Level:  req.Level,
	})
	if !queued {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "action queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

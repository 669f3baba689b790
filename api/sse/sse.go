package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/cache"
	mw "github.com/TheFokysnik/EcoTaleQuests/middleware"
	"github.com/TheFokysnik/EcoTaleQuests/notify"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const announceChannel = "quests:announce"

// Presence is told when a stream opens and closes, so quest timers can
// apply the reconnect grace window. tracker.Tracker implements it.
type Presence interface {
	OnUserConnect(user uuid.UUID)
	OnUserDisconnect(user uuid.UUID)
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	presence  Presence
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler. presence may be nil.
func NewHandler(pubsub cache.PubSub, presence Presence, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, presence: presence, keepalive: 30 * time.Second, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>. Must run behind middleware.Auth.
// It streams the caller's quest notifications plus system announcements.
func (h *Handler) ServeSSE(c *gin.Context) {
	user := mw.GetUserID(c)
	if user == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	userChannel := notify.Channel(user)
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, userChannel, announceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("user", user.String()), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	if h.presence != nil {
		h.presence.OnUserConnect(user)
		defer h.presence.OnUserDisconnect(user)
	}

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"user_id\":%q}\n\n", user.String())
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			event := "quest"
			if msg.Channel == announceChannel {
				event = "announce"
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Announce publishes an announcement message to all SSE subscribers.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return h.pubsub.Publish(ctx, announceChannel, message)
}

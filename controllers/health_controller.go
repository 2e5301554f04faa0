package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/utils"
)

// HealthController reports process liveness and the state of optional backends.
type HealthController struct {
	hub   *notify.Hub
	redis redis.UniversalClient
}

// NewHealthController creates a HealthController. rc may be nil when Redis is not configured.
func NewHealthController(hub *notify.Hub, rc redis.UniversalClient) *HealthController {
	return &HealthController{hub: hub, redis: rc}
}

// Health stays 200 while Redis is down because every Redis-backed feature degrades.
func (h *HealthController) Health(ctx *gin.Context) {
	redisState := "disabled"
	if h.redis != nil {
		pctx, cancel := context.WithTimeout(ctx.Request.Context(), 500*time.Millisecond)
		defer cancel()
		if err := h.redis.Ping(pctx).Err(); err != nil {
			redisState = "down"
		} else {
			redisState = "up"
		}
	}

	payload := gin.H{"status": "ok", "redis": redisState}
	if h.hub != nil {
		payload["subscribers"] = h.hub.Subscribers()
		payload["dropped_events"] = h.hub.Dropped()
	}
	utils.Respond(ctx, http.StatusOK, 0, "success", payload)
}

package controllers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnato/forum/middleware"
	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/utils"
)

const keepAliveInterval = 25 * time.Second

// EventsController streams post changes to connected clients as server-sent events.
type EventsController struct {
	hub       *notify.Hub
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewEventsController(hub *notify.Hub, logger *zap.Logger) *EventsController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsController{hub: hub, keepAlive: keepAliveInterval, logger: logger}
}

// Stream accepts the token from the Authorization header or, for EventSource
// clients that cannot set headers, the token query parameter.
func (e *EventsController) Stream(ctx *gin.Context) {
	token, _ := middleware.BearerToken(ctx)
	if token == "" {
		token = ctx.Query("token")
	}
	sub, err := e.hub.Subscribe(token)
	switch {
	case errors.Is(err, notify.ErrEmptyToken), errors.Is(err, notify.ErrInvalidToken):
		utils.Error(ctx, http.StatusUnauthorized, 40120, "subscription rejected: "+err.Error())
		return
	case errors.Is(err, notify.ErrClosed):
		utils.Error(ctx, http.StatusServiceUnavailable, 50310, "server shutting down")
		return
	case err != nil:
		respondError(ctx, e.logger, err)
		return
	}
	defer sub.Close()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Writer.WriteHeader(http.StatusOK)
	ctx.Writer.Flush()

	ticker := time.NewTicker(e.keepAlive)
	defer ticker.Stop()
	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Request.Context().Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			ctx.SSEvent(string(ev.Kind), ev)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/learnato/forum/quota"
	"github.com/learnato/forum/services"
	"github.com/learnato/forum/utils"
)

// KeyFunc identifies the client a request is counted against.
type KeyFunc func(ctx *gin.Context) string

// ClientKey counts authenticated requests per user and anonymous ones per IP.
func ClientKey(ctx *gin.Context) string {
	if id, ok := UserID(ctx); ok {
		return "user:" + id
	}
	return "ip:" + ctx.ClientIP()
}

// RateLimit admits requests of class through the shared quota limiter.
// Denied requests never reach the handler.
func RateLimit(limiter *quota.Limiter, class quota.Class, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientKey
	}
	return func(ctx *gin.Context) {
		d, err := limiter.Admit(ctx.Request.Context(), class, key(ctx))
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50090, "rate limiter misconfigured")
			ctx.Abort()
			return
		}

		ctx.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
		ctx.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			qe := &services.QuotaExceededError{Class: string(class), RetryAfter: d.RetryAfter}
			utils.RetryAfter(ctx, d.RetryAfter)
			utils.Error(ctx, http.StatusTooManyRequests, 42901, qe.Error())
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

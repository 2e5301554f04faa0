package utils

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// RetryAfter sets the Retry-After header in whole seconds, never below one.
func RetryAfter(ctx *gin.Context, d time.Duration) {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	ctx.Header("Retry-After", strconv.Itoa(s))
}

package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnato/forum/services"
	"github.com/learnato/forum/utils"
)

// respondError maps service errors onto the response envelope.
func respondError(ctx *gin.Context, logger *zap.Logger, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		authzErr      *services.AuthorizationError
		quotaErr      *services.QuotaExceededError
		dependencyErr *services.DependencyError
		conflictErr   *services.ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		utils.Error(ctx, http.StatusBadRequest, 40001, validationErr.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.Error(ctx, http.StatusUnauthorized, 40106, err.Error())
	case errors.As(err, &authzErr):
		utils.Error(ctx, http.StatusForbidden, 40301, authzErr.Error())
	case errors.As(err, &notFoundErr):
		utils.Error(ctx, http.StatusNotFound, 40401, notFoundErr.Error())
	case errors.As(err, &conflictErr):
		utils.Error(ctx, http.StatusConflict, 40901, conflictErr.Error())
	case errors.As(err, &quotaErr):
		utils.RetryAfter(ctx, quotaErr.RetryAfter)
		utils.Error(ctx, http.StatusTooManyRequests, 42901, quotaErr.Error())
	case errors.As(err, &dependencyErr):
		logger.Warn("dependency unavailable", zap.String("dependency", dependencyErr.Dependency), zap.Error(err))
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, dependencyErr.Dependency+" unavailable")
	default:
		logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50001, "internal server error")
	}
}

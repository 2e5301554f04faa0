package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnato/forum/middleware"
	"github.com/learnato/forum/services"
	"github.com/learnato/forum/utils"
)

// AuthController handles registration, login and session endpoints.
type AuthController struct {
	auth      *services.AuthService
	blacklist *utils.TokenBlacklist
	logger    *zap.Logger
}

// NewAuthController creates a new AuthController. blacklist may be nil, in
// which case logout only acknowledges the request.
func NewAuthController(auth *services.AuthService, blacklist *utils.TokenBlacklist, logger *zap.Logger) *AuthController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthController{auth: auth, blacklist: blacklist, logger: logger}
}

// Register creates a new account and returns a session token.
func (ac *AuthController) Register(ctx *gin.Context) {
	var req services.RegisterInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40000, "invalid request payload")
		return
	}
	session, err := ac.auth.Register(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, ac.logger, err)
		return
	}
	utils.Respond(ctx, http.StatusCreated, 0, "success", session)
}

// Login authenticates by email and password.
func (ac *AuthController) Login(ctx *gin.Context) {
	var req services.LoginInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40000, "invalid request payload")
		return
	}
	session, err := ac.auth.Login(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, ac.logger, err)
		return
	}
	utils.Success(ctx, session)
}

// Logout revokes the caller's token until it would have expired anyway.
func (ac *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	if ac.blacklist != nil && token != "" {
		expiresAt := time.Now().Add(utils.DefaultTokenTTL)
		if claims, err := ac.auth.Verify(token); err == nil && claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
		if err := ac.blacklist.Revoke(ctx.Request.Context(), token, expiresAt); err != nil {
			ac.logger.Warn("token revoke failed", zap.Error(err))
			utils.Error(ctx, http.StatusServiceUnavailable, 50302, "logout unavailable")
			return
		}
	}
	utils.Success(ctx, gin.H{"logged_out": true})
}

// Me returns the authenticated user.
func (ac *AuthController) Me(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	user, err := ac.auth.Me(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, ac.logger, err)
		return
	}
	utils.Success(ctx, gin.H{"user": user})
}

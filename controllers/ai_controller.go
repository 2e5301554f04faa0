package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnato/forum/services"
	"github.com/learnato/forum/utils"
)

// AIController serves question suggestions and thread summaries.
type AIController struct {
	ai     *services.AIService
	logger *zap.Logger
}

func NewAIController(ai *services.AIService, logger *zap.Logger) *AIController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIController{ai: ai, logger: logger}
}

// Suggest returns up to three related questions for a draft title.
func (a *AIController) Suggest(ctx *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}
	suggestions, err := a.ai.Suggest(ctx.Request.Context(), req.Title)
	if err != nil {
		respondError(ctx, a.logger, err)
		return
	}
	utils.Success(ctx, gin.H{"suggestions": suggestions})
}

// Summarize condenses a discussion thread.
func (a *AIController) Summarize(ctx *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}
	summary, err := a.ai.Summarize(ctx.Request.Context(), req.Content)
	if err != nil {
		respondError(ctx, a.logger, err)
		return
	}
	utils.Success(ctx, gin.H{"summary": summary})
}

package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnato/forum/middleware"
	"github.com/learnato/forum/services"
	"github.com/learnato/forum/utils"
)

// PostController exposes the discussion endpoints.
type PostController struct {
	posts  *services.PostService
	logger *zap.Logger
}

// NewPostController creates a new PostController instance.
func NewPostController(posts *services.PostService, logger *zap.Logger) *PostController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostController{posts: posts, logger: logger}
}

// ListPosts returns one page of posts. The page snapshot is written as served by the service.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), firstNonEmpty(ctx.Query("pageSize"), ctx.Query("page_size"), ctx.Query("limit")))
	snap, err := p.posts.ListPosts(ctx.Request.Context(), services.ListQuery{
		Search:   ctx.Query("search"),
		AuthorID: ctx.Query("author"),
		Sort:     ctx.Query("sort"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(ctx, p.logger, err)
		return
	}
	utils.Success(ctx, json.RawMessage(snap))
}

// GetPost returns one post and counts a view.
func (p *PostController) GetPost(ctx *gin.Context) {
	snap, err := p.posts.GetPost(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, p.logger, err)
		return
	}
	utils.Success(ctx, json.RawMessage(snap))
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req services.CreatePostInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	req.AuthorID = userID

	post, err := p.posts.CreatePost(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, p.logger, err)
		return
	}
	utils.Respond(ctx, http.StatusCreated, 0, "success", gin.H{"post": post})
}

// AddReply appends a reply from the authenticated user.
func (p *PostController) AddReply(ctx *gin.Context) {
	var req services.ReplyInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	req.AuthorID = userID

	post, reply, err := p.posts.AddReply(ctx.Request.Context(), ctx.Param("id"), req)
	if err != nil {
		respondError(ctx, p.logger, err)
		return
	}
	utils.Respond(ctx, http.StatusCreated, 0, "success", gin.H{"post": post, "reply": reply})
}

// ToggleUpvote flips the caller's upvote on a post.
func (p *PostController) ToggleUpvote(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	res, err := p.posts.ToggleUpvote(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		respondError(ctx, p.logger, err)
		return
	}
	utils.Success(ctx, res)
}

// MarkAnswered accepts a reply as the answer. Instructors only.
func (p *PostController) MarkAnswered(ctx *gin.Context) {
	var req struct {
		ReplyID string `json:"replyId"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	post, err := p.posts.MarkAnswered(ctx.Request.Context(), ctx.Param("id"), req.ReplyID, middleware.Role(ctx))
	if err != nil {
		respondError(ctx, p.logger, err)
		return
	}
	utils.Success(ctx, gin.H{"post": post})
}

// parsePagination applies defaults only. Bounds are enforced by the service.
func parsePagination(pageStr, sizeStr string) (int, int) {
	page, err := strconv.Atoi(strings.TrimSpace(pageStr))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(strings.TrimSpace(sizeStr))
	if err != nil || size < 1 {
		size = services.DefaultPageSize
	}
	return page, size
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

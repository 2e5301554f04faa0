package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnato/forum/config"
	"github.com/learnato/forum/controllers"
	"github.com/learnato/forum/middleware"
	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/quota"
	"github.com/learnato/forum/services"
	"github.com/learnato/forum/utils"
)

// Deps carries everything the HTTP layer needs. Limiter, Blacklist and Redis may be nil.
type Deps struct {
	Config    config.AppConfig
	Posts     *services.PostService
	Auth      *services.AuthService
	AI        *services.AIService
	Hub       *notify.Hub
	Limiter   *quota.Limiter
	Blacklist *utils.TokenBlacklist
	Redis     redis.UniversalClient
	Logger    *zap.Logger
	// AccessLog overrides the rolling gin log file built from Config.GinPath.
	AccessLog *zap.Logger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	gl := d.AccessLog
	if gl == nil {
		var err error
		gl, err = utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			logger.Warn("gin access log disabled", zap.Error(err))
		}
	}
	if gl != nil {
		r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
		r.Use(ginzap.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "RateLimit-Limit", "RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	health := controllers.NewHealthController(d.Hub, d.Redis)
	r.GET("/health", health.Health)

	authController := controllers.NewAuthController(d.Auth, d.Blacklist, logger.Named("auth"))
	postController := controllers.NewPostController(d.Posts, logger.Named("posts"))
	aiController := controllers.NewAIController(d.AI, logger.Named("ai"))
	eventsController := controllers.NewEventsController(d.Hub, logger.Named("events"))

	authRequired := middleware.AuthRequired(d.Auth, d.Blacklist)
	limit := func(class quota.Class) gin.HandlerFunc {
		if d.Limiter == nil {
			return func(ctx *gin.Context) { ctx.Next() }
		}
		return middleware.RateLimit(d.Limiter, class, middleware.ClientKey)
	}
	authLimit := limit(quota.ClassAuth)
	postLimit := limit(quota.ClassPost)

	api := r.Group("/api/v1")
	api.Use(limit(quota.ClassAPI))
	api.GET("/health", health.Health)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", authLimit, authController.Register)
	authGroup.POST("/signup", authLimit, authController.Register)
	authGroup.POST("/login", authLimit, authController.Login)
	authGroup.POST("/logout", authRequired, authController.Logout)
	authGroup.GET("/logout", authRequired, authController.Logout)
	authGroup.GET("/me", authRequired, authController.Me)

	postsGroup := api.Group("/posts")
	postsGroup.GET("", postController.ListPosts)
	postsGroup.GET("/:id", postController.GetPost)
	postsGroup.POST("", authRequired, postLimit, postController.CreatePost)
	postsGroup.POST("/suggest", authRequired, postLimit, aiController.Suggest)
	postsGroup.POST("/:id/reply", authRequired, postLimit, postController.AddReply)
	postsGroup.POST("/:id/upvote", authRequired, postController.ToggleUpvote)
	postsGroup.POST("/:id/mark-answered", authRequired, postController.MarkAnswered)

	aiGroup := api.Group("/ai", authRequired, postLimit)
	aiGroup.POST("/suggest", aiController.Suggest)
	aiGroup.POST("/summarize", aiController.Summarize)

	api.GET("/events", eventsController.Stream)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
	})

	return r
}

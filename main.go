package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnato/forum/ai"
	"github.com/learnato/forum/cache"
	"github.com/learnato/forum/config"
	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/quota"
	"github.com/learnato/forum/routes"
	"github.com/learnato/forum/services"
	"github.com/learnato/forum/store"
	"github.com/learnato/forum/store/gormstore"
	"github.com/learnato/forum/store/memstore"
	"github.com/learnato/forum/store/mongostore"
	"github.com/learnato/forum/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync() //nolint:errcheck

	var rc *redis.Client
	if cfg.UsesRedis() {
		var err error
		rc, err = utils.NewRedisClient(cfg)
		if err != nil {
			// Every Redis consumer degrades, so a cold Redis is not fatal.
			utils.Logger.Warn("redis unavailable at startup", zap.Error(err))
		}
	}

	backend, err := openBackend(cfg)
	if err != nil {
		utils.Sugar.Fatalf("open %s store: %v", cfg.StoreDriver, err)
	}

	resultCache := newCache(cfg, rc)
	// Revocations must outlive the result cache TTL, so only Redis is shared.
	blacklistCache := resultCache
	if _, shared := resultCache.(*cache.Redis); !shared {
		blacklistCache = cache.NewMemory(cfg.CacheCapacity, cfg.TokenTTL)
	}

	auth := services.NewAuthService(backend.Users, services.AuthConfig{
		Secret:       []byte(cfg.JWTSecret),
		TokenTTL:     cfg.TokenTTL,
		StoreTimeout: cfg.StoreTimeout,
	}, utils.Named("auth"))

	hub := notify.NewHub(notify.HubOptions{
		Buffer: cfg.NotifyBuffer,
		Verify: func(token string) error {
			_, err := auth.Verify(token)
			return err
		},
	}, utils.Named("notify"))

	var publisher notify.Publisher = hub
	var relay *notify.Relay
	if cfg.NotifyDriver == "redis" && rc != nil {
		relay, err = notify.StartRelay(context.Background(), rc, cfg.NotifyChannel, hub, utils.Named("notify"))
		if err != nil {
			utils.Logger.Warn("notify relay not started, events stay on this instance", zap.Error(err))
		} else {
			publisher = notify.NewRedisPublisher(rc, cfg.NotifyChannel)
		}
	}

	posts := services.NewPostService(backend.Posts, resultCache, publisher, services.PostConfig{
		CacheTTL:      cfg.CacheTTL,
		StoreTimeout:  cfg.StoreTimeout,
		CacheTimeout:  cfg.CacheTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
	}, utils.Named("posts"))

	limiter, err := newLimiter(cfg, rc)
	if err != nil {
		utils.Sugar.Fatalf("quota: %v", err)
	}

	var completer ai.Completer
	if cfg.GroqAPIKey != "" {
		completer = ai.NewGroq(ai.GroqConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqModel,
			Timeout: cfg.AITimeout,
		})
	} else {
		utils.Logger.Info("groq api key not set, ai endpoints disabled")
	}

	deps := routes.Deps{
		Config:    cfg,
		Posts:     posts,
		Auth:      auth,
		AI:        services.NewAIService(completer, cfg.AITimeout, utils.Named("ai")),
		Hub:       hub,
		Limiter:   limiter,
		Blacklist: utils.NewTokenBlacklist(blacklistCache),
		Logger:    utils.Logger,
	}
	if rc != nil {
		deps.Redis = rc
	}
	r := routes.SetupRouter(deps)

	afterDrain := func() {
		if relay != nil {
			_ = relay.Close()
		}
		if rc != nil {
			_ = rc.Close()
		}
		if backend.Close != nil {
			if err := backend.Close(); err != nil {
				utils.Logger.Warn("close store", zap.Error(err))
			}
		}
	}

	utils.Sugar.Infof("Starting server on port %s (graceful, store=%s cache=%s quota=%s notify=%s)",
		cfg.AppPort, cfg.StoreDriver, cfg.CacheDriver, cfg.QuotaDriver, cfg.NotifyDriver)
	if err := utils.GraceServer(":"+cfg.AppPort, r, hub.Close, afterDrain); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

func openBackend(cfg config.AppConfig) (store.Backend, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memstore.New().Backend(), nil
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return store.Backend{}, err
		}
		return s.Backend(), nil
	case "mysql":
		db, err := config.OpenDatabase(cfg)
		if err != nil {
			return store.Backend{}, err
		}
		if err := gormstore.Migrate(db); err != nil {
			return store.Backend{}, fmt.Errorf("migrate: %w", err)
		}
		return gormstore.New(db).Backend(), nil
	}
	return store.Backend{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newCache(cfg config.AppConfig, rc *redis.Client) cache.Store {
	switch cfg.CacheDriver {
	case "redis":
		if rc != nil {
			return cache.NewRedis(rc, cfg.CacheTimeout)
		}
		utils.Logger.Warn("cache driver redis without a client, caching disabled")
	case "memory":
		return cache.NewMemory(cfg.CacheCapacity, cfg.CacheTTL)
	}
	return cache.Nop{}
}

func newLimiter(cfg config.AppConfig, rc *redis.Client) (*quota.Limiter, error) {
	policy, err := quota.ParseFailPolicy(cfg.QuotaFailPolicy)
	if err != nil {
		return nil, err
	}
	var qs quota.Store
	if cfg.QuotaDriver == "redis" && rc != nil {
		qs = quota.NewRedisStore(rc)
	} else {
		qs = quota.NewLocalStore()
	}
	return quota.NewLimiter(qs, quota.Options{
		Rules: map[quota.Class]quota.Rule{
			quota.ClassAPI:  {Max: cfg.QuotaAPIMax, Window: cfg.QuotaAPIWindow},
			quota.ClassAuth: {Max: cfg.QuotaAuthMax, Window: cfg.QuotaAuthWindow},
			quota.ClassPost: {Max: cfg.QuotaPostMax, Window: cfg.QuotaPostWindow},
		},
		FailPolicy: policy,
		Timeout:    cfg.QuotaTimeout,
	}, utils.Named("quota")), nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds configuration values. Precedence is built-in defaults, then
// config/config.json, then environment variables (dots become underscores, so
// redis.host is read from REDIS_HOST). Secrets have no defaults.
type AppConfig struct {
	AppPort        string
	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Document store: mysql, mongo or memory
	StoreDriver   string
	StoreTimeout  time.Duration
	DatabaseURI   string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	MongoURI      string
	MongoDatabase string
	// Cache: redis, memory or none
	CacheDriver   string
	CacheTTL      time.Duration
	CacheTimeout  time.Duration
	CacheCapacity int
	// Redis shared by cache, quota and notify
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Quotas: redis or local
	QuotaDriver     string
	QuotaFailPolicy string
	QuotaTimeout    time.Duration
	QuotaAPIMax     int
	QuotaAPIWindow  time.Duration
	QuotaAuthMax    int
	QuotaAuthWindow time.Duration
	QuotaPostMax    int
	QuotaPostWindow time.Duration
	// Notifications: redis or local
	NotifyDriver  string
	NotifyChannel string
	NotifyBuffer  int
	NotifyTimeout time.Duration
	// AI provider
	GroqAPIKey  string
	GroqModel   string
	GroqBaseURL string
	AITimeout   time.Duration
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var (
	cfg     AppConfig
	loaded  bool
	loadMu  sync.Mutex
	cfgPath = filepath.Join("config", "config.json")
)

var defaults = map[string]any{
	"app.port":             "8080",
	"jwt.ttl":              "168h",
	"cors.allowed_origins": "*",
	"gin.mode":             "release",
	"gin.path":             "logs/go_gin.log",
	"store.driver":         "mysql",
	"store.timeout":        "5s",
	"database.uri":         "",
	"db.host":              "127.0.0.1",
	"db.port":              "3306",
	"db.user":              "root",
	"db.password":          "",
	"db.name":              "forum",
	"mongo.uri":            "mongodb://127.0.0.1:27017",
	"mongo.database":       "forum",
	"cache.driver":         "redis",
	"cache.ttl":            "5m",
	"cache.timeout":        "500ms",
	"cache.capacity":       10000,
	"redis.host":           "127.0.0.1",
	"redis.port":           6379,
	"redis.db":             0,
	"redis.password":       "",
	"quota.driver":         "redis",
	"quota.fail_policy":    "open",
	"quota.timeout":        "300ms",
	"quota.api.max":        100,
	"quota.api.window":     "15m",
	"quota.auth.max":       5,
	"quota.auth.window":    "1h",
	"quota.post.max":       10,
	"quota.post.window":    "1h",
	"notify.driver":        "redis",
	"notify.channel":       "forum:events",
	"notify.buffer":        64,
	"notify.timeout":       "1s",
	"groq.api_key":         "",
	"groq.model":           "",
	"groq.base_url":        "",
	"ai.timeout":           "20s",
	"jwt.secret":           "",
	"log.level":            "info",
	"log.path":             "logs/app.log",
	"log.max_size_mb":      100,
	"log.max_backups":      3,
	"log.max_age_days":     7,
	"log.compress":         false,
}

// New builds a viper instance with defaults, the optional JSON file at path
// and environment overrides.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}
	return v, nil
}

// Parse maps a viper instance onto AppConfig and validates it.
func Parse(v *viper.Viper) (AppConfig, error) {
	c := AppConfig{
		AppPort:         v.GetString("app.port"),
		JWTSecret:       v.GetString("jwt.secret"),
		TokenTTL:        v.GetDuration("jwt.ttl"),
		AllowedOrigins:  splitAndTrim(v.GetString("cors.allowed_origins")),
		GinMode:         v.GetString("gin.mode"),
		GinPath:         v.GetString("gin.path"),
		StoreDriver:     strings.ToLower(v.GetString("store.driver")),
		StoreTimeout:    v.GetDuration("store.timeout"),
		DatabaseURI:     v.GetString("database.uri"),
		DBHost:          v.GetString("db.host"),
		DBPort:          v.GetString("db.port"),
		DBUser:          v.GetString("db.user"),
		DBPassword:      v.GetString("db.password"),
		DBName:          v.GetString("db.name"),
		MongoURI:        v.GetString("mongo.uri"),
		MongoDatabase:   v.GetString("mongo.database"),
		CacheDriver:     strings.ToLower(v.GetString("cache.driver")),
		CacheTTL:        v.GetDuration("cache.ttl"),
		CacheTimeout:    v.GetDuration("cache.timeout"),
		CacheCapacity:   v.GetInt("cache.capacity"),
		RedisHost:       v.GetString("redis.host"),
		RedisPort:       v.GetInt("redis.port"),
		RedisDB:         v.GetInt("redis.db"),
		RedisPassword:   v.GetString("redis.password"),
		QuotaDriver:     strings.ToLower(v.GetString("quota.driver")),
		QuotaFailPolicy: strings.ToLower(v.GetString("quota.fail_policy")),
		QuotaTimeout:    v.GetDuration("quota.timeout"),
		QuotaAPIMax:     v.GetInt("quota.api.max"),
		QuotaAPIWindow:  v.GetDuration("quota.api.window"),
		QuotaAuthMax:    v.GetInt("quota.auth.max"),
		QuotaAuthWindow: v.GetDuration("quota.auth.window"),
		QuotaPostMax:    v.GetInt("quota.post.max"),
		QuotaPostWindow: v.GetDuration("quota.post.window"),
		NotifyDriver:    strings.ToLower(v.GetString("notify.driver")),
		NotifyChannel:   v.GetString("notify.channel"),
		NotifyBuffer:    v.GetInt("notify.buffer"),
		NotifyTimeout:   v.GetDuration("notify.timeout"),
		GroqAPIKey:      v.GetString("groq.api_key"),
		GroqModel:       v.GetString("groq.model"),
		GroqBaseURL:     v.GetString("groq.base_url"),
		AITimeout:       v.GetDuration("ai.timeout"),
		LogLevel:        v.GetString("log.level"),
		LogPath:         v.GetString("log.path"),
		LogMaxSizeMB:    v.GetInt("log.max_size_mb"),
		LogMaxBackups:   v.GetInt("log.max_backups"),
		LogMaxAgeDays:   v.GetInt("log.max_age_days"),
		LogCompress:     v.GetBool("log.compress"),
	}
	return c, c.Validate()
}

// Validate checks values that have no safe fallback.
func (c AppConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set in environment variables")
	}
	if !oneOf(c.StoreDriver, "mysql", "mongo", "memory") {
		return fmt.Errorf("unknown store.driver %q", c.StoreDriver)
	}
	if !oneOf(c.CacheDriver, "redis", "memory", "none") {
		return fmt.Errorf("unknown cache.driver %q", c.CacheDriver)
	}
	if !oneOf(c.QuotaDriver, "redis", "local") {
		return fmt.Errorf("unknown quota.driver %q", c.QuotaDriver)
	}
	if !oneOf(c.QuotaFailPolicy, "open", "closed", "local") {
		return fmt.Errorf("unknown quota.fail_policy %q", c.QuotaFailPolicy)
	}
	if !oneOf(c.NotifyDriver, "redis", "local") {
		return fmt.Errorf("unknown notify.driver %q", c.NotifyDriver)
	}
	return nil
}

// UsesRedis reports whether any component is configured to use Redis.
func (c AppConfig) UsesRedis() bool {
	return c.CacheDriver == "redis" || c.QuotaDriver == "redis" || c.NotifyDriver == "redis"
}

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	loadMu.Lock()
	defer loadMu.Unlock()
	if loaded {
		return cfg
	}

	v, err := New(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	c, err := Parse(v)
	if err != nil {
		log.Fatal(err)
	}

	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	return Load()
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnato/forum/quota"
)

type stubQuota struct {
	decision quota.Decision
	err      error
	keys     []string
}

func (s *stubQuota) IncrementAndCheck(_ context.Context, key string, _ time.Duration, max int) (quota.Decision, error) {
	s.keys = append(s.keys, key)
	d := s.decision
	d.Limit = max
	return d, s.err
}

func newLimitedRouter(l *quota.Limiter, class quota.Class, reached *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/posts", RateLimit(l, class, nil), func(c *gin.Context) {
		*reached++
		c.Status(http.StatusCreated)
	})
	return r
}

func TestRateLimitDeniedNeverReachesHandler(t *testing.T) {
	store := &stubQuota{decision: quota.Decision{Allowed: false, RetryAfter: 90*time.Second + time.Millisecond}}
	reached := 0
	r := newLimitedRouter(quota.NewLimiter(store, quota.Options{}, nil), quota.ClassPost, &reached)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/posts", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if reached != 0 {
		t.Fatal("handler ran for a denied request")
	}
	if got := w.Header().Get("Retry-After"); got != "91" {
		t.Fatalf("Retry-After = %q, want 91", got)
	}
	if len(store.keys) != 1 || store.keys[0] != "rl:post:ip:203.0.113.7" {
		t.Fatalf("counted keys %q", store.keys)
	}
}

func TestRateLimitAllowedSetsHeaders(t *testing.T) {
	store := &stubQuota{decision: quota.Decision{Allowed: true, Remaining: 7}}
	reached := 0
	r := newLimitedRouter(quota.NewLimiter(store, quota.Options{}, nil), quota.ClassPost, &reached)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/posts", nil))

	if w.Code != http.StatusCreated || reached != 1 {
		t.Fatalf("status %d, reached %d", w.Code, reached)
	}
	if w.Header().Get("RateLimit-Limit") != "10" || w.Header().Get("RateLimit-Remaining") != "7" {
		t.Fatalf("headers %v", w.Header())
	}
}

func TestRateLimitStoreDownPolicies(t *testing.T) {
	tests := []struct {
		policy     quota.FailPolicy
		wantStatus int
	}{
		{quota.FailOpen, http.StatusCreated},
		{quota.FailClosed, http.StatusTooManyRequests},
		{quota.FailLocal, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			store := &stubQuota{err: errors.New("dial tcp: connection refused")}
			reached := 0
			r := newLimitedRouter(quota.NewLimiter(store, quota.Options{FailPolicy: tt.policy}, nil), quota.ClassAPI, &reached)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/posts", nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateLimitClassesAreIndependent(t *testing.T) {
	l := quota.NewLimiter(quota.NewLocalStore(), quota.Options{Rules: map[quota.Class]quota.Rule{
		quota.ClassAuth: {Max: 1, Window: time.Hour},
	}}, nil)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", RateLimit(l, quota.ClassAuth, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/posts", RateLimit(l, quota.ClassPost, nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w.Code
	}
	if do("/login") != http.StatusOK || do("/login") != http.StatusTooManyRequests {
		t.Fatal("auth class limit not enforced")
	}
	if do("/posts") != http.StatusOK {
		t.Fatal("exhausting the auth class affected the post class")
	}
}

func TestClientKeyPrefersUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "198.51.100.1:1234"
	if got := ClientKey(c); got != "ip:198.51.100.1" {
		t.Fatalf("anonymous key %q", got)
	}
	c.Set(ContextUserIDKey, "u42")
	if got := ClientKey(c); got != "user:u42" {
		t.Fatalf("user key %q", got)
	}
}

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clubsched/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Enabled:                 true,
		WindowDuration:          time.Minute,
		DefaultRequests:         5,
		PublicRequests:          5,
		BookingRequests:         3,
		BookingCriticalRequests: 2,
		AdminRequests:           4,
		HealthRequests:          10,
	}
}

func newTestLimiter(t *testing.T, cfg *Config) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimiter(client, cfg), mr
}

func TestIsAllowedEnforcesBudget(t *testing.T) {
	rl, _ := newTestLimiter(t, testConfig())
	ctx := context.Background()

	first, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 2, third.Limit)

	// Budgets are per client and per type.
	other, err := rl.IsAllowed(ctx, "10.0.0.2", RateLimitTypeBookingCritical)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	public, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypePublic)
	require.NoError(t, err)
	assert.True(t, public.Allowed)
}

func TestWindowSlides(t *testing.T) {
	rl, _ := newTestLimiter(t, testConfig())
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		res, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	now = now.Add(time.Minute + time.Second)
	res, err = rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestDisabledAndWhitelisted(t *testing.T) {
	cfg := testConfig()
	cfg.WhitelistedIPs = []string{"192.168.1.9"}
	rl, mr := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := rl.IsAllowed(ctx, "192.168.1.9", RateLimitTypeBookingCritical)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.Empty(t, mr.Keys())

	cfg.Enabled = false
	for i := 0; i < 5; i++ {
		res, err := rl.IsAllowed(ctx, "10.0.0.1", RateLimitTypeBookingCritical)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestGetRateLimitType(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   RateLimitType
	}{
		{http.MethodGet, "/health", RateLimitTypeHealth},
		{http.MethodGet, "/metrics", RateLimitTypeHealth},
		{http.MethodPost, "/api/v1/admin/waitlist/:id/promote", RateLimitTypeAdmin},
		{http.MethodPost, "/api/v1/sessions/:id/bookings", RateLimitTypeBookingCritical},
		{http.MethodPost, "/api/v1/waitlist/:id/accept", RateLimitTypeBookingCritical},
		{http.MethodDelete, "/api/v1/bookings/:id", RateLimitTypeBookingCritical},
		{http.MethodGet, "/api/v1/bookings/:id", RateLimitTypeBooking},
		{http.MethodGet, "/api/v1/sessions/:id/waitlist", RateLimitTypeBooking},
		{http.MethodGet, "/api/v1/sessions/:id", RateLimitTypePublic},
		{http.MethodPost, "/api/v1/sessions", RateLimitTypeDefault},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, getRateLimitType(tt.method, tt.path))
		})
	}
}

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, _ := newTestLimiter(t, testConfig())

	r := gin.New()
	r.Use(Middleware(rl, logger.Discard()))
	r.POST("/api/v1/sessions/:id/bookings", func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/abc/bookings", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, mr := newTestLimiter(t, testConfig())
	mr.Close()

	r := gin.New()
	r.Use(Middleware(rl, logger.Discard()))
	r.GET("/api/v1/bookings/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/bookings/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

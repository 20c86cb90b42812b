package intake

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(10*time.Second, 3)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "burst request %d", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "keys are limited independently")

	now = now.Add(10 * time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"), "one token refills per interval")
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(time.Second, 1)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	limiter.Allow("b")
	assert.Len(t, limiter.visitors, 2)

	now = now.Add(time.Minute)
	limiter.Allow("c")
	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "c")
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	assert.Equal(t, time.Minute, limiter.every)
	assert.Equal(t, 1, limiter.burst)
}

func TestRateLimiter_Handler(t *testing.T) {
	limiter := NewRateLimiter(1500*time.Millisecond, 1)

	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(NopLogger())})
	app.Post("/login", limiter.Handler(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/login", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/login", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(200*time.Millisecond))
	assert.Equal(t, "60", retryAfter(time.Minute))
}

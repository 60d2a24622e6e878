package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/middleware"
	redisClient "github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/redis"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/pkg/logger"
)

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	ctx := context.Background()

	// Start Redis container
	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	defer func() {
		if err = redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}()

	connectionString, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		URL:          connectionString,
		MaxRetries:   3,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	log := logger.New("info", "json", "stdout")
	store, err := redisClient.NewClient(cfg, log)
	require.NoError(t, err)
	defer store.Close()

	err = store.Ping(ctx)
	require.NoError(t, err)

	t.Run("RateLimiting", func(t *testing.T) {
		testRateLimiting(t, store)
	})

	t.Run("RateLimitHeaders", func(t *testing.T) {
		testRateLimitHeaders(t, store)
	})
}

func rateLimitConfig(rps int) *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			RateLimitRPS:   rps,
			RateLimitBurst: rps,
		},
	}
}

func testRateLimiting(t *testing.T, store *redisClient.Client) {
	log := logger.New("error", "json", "stdout")
	stack := middleware.NewStack(rateLimitConfig(2), store.Underlying(), nil, log)

	handler := stack.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	limited := 0
	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
		req.RemoteAddr = "203.0.113.10:43210"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	// The bucket holds two tokens, so a burst of ten must be throttled.
	assert.LessOrEqual(t, allowed, 3)
	assert.GreaterOrEqual(t, limited, 7)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	req.RemoteAddr = "203.0.113.99:43210"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func testRateLimitHeaders(t *testing.T, store *redisClient.Client) {
	log := logger.New("error", "json", "stdout")
	stack := middleware.NewStack(rateLimitConfig(100), store.Underlying(), nil, log)

	handler := stack.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	req.RemoteAddr = "203.0.113.20:43210"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Ratelimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-Ratelimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-Ratelimit-Reset"))
}

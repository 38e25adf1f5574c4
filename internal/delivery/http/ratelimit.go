package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/FilipeAphrody/farmhand-auth/internal/lib/sl"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
)

// NewMemoryLimiterStore allows requests per window for each client, with bursts up to requests.
// Idle clients are forgotten after expiresIn.
func NewMemoryLimiterStore(requests int, window, expiresIn time.Duration) middleware.RateLimiterStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(requests) / window.Seconds()),
		Burst:     requests,
		ExpiresIn: expiresIn,
	})
}

// RedisLimiterStore is a fixed-window counter shared by every API instance.
type RedisLimiterStore struct {
	client   redis.UniversalClient
	requests int
	window   time.Duration
	timeout  time.Duration
}

func NewRedisLimiterStore(client redis.UniversalClient, requests int, window time.Duration) *RedisLimiterStore {
	return &RedisLimiterStore{client: client, requests: requests, window: window, timeout: time.Second}
}

// Allow implements middleware.RateLimiterStore.
func (s *RedisLimiterStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := "auth:ratelimit:" + identifier

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(s.requests), nil
}

// RateLimit throttles by client IP. Store failures deny the request.
func RateLimit(store middleware.RateLimiterStore, rec *metrics.Recorder, log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "cannot identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if err != nil {
				log.Error("rate limiter store failed", slog.String("ip", identifier), sl.Err(err))
			}
			rec.RateLimited(c.Path())
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many requests, please slow down"})
		},
	})
}

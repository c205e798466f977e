package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"SocietyPortal/internal/config"
	"SocietyPortal/internal/ids"
	"SocietyPortal/internal/metrics"
	"SocietyPortal/pkg/response"
)

// LoginLimiter decides whether another login attempt from key may proceed.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// NewLoginLimiter uses Redis when a client is configured and a process-local
// token bucket otherwise.
func NewLoginLimiter(cfg *config.Config, client *redis.Client, logger *zap.Logger) LoginLimiter {
	perMinute := cfg.RateLimit.LoginPerMinute
	if client != nil {
		logger.Info("Login rate limit backed by redis", zap.Int("per_minute", perMinute))
		return NewRedisLimiter(client, perMinute, time.Minute)
	}
	logger.Info("Login rate limit backed by memory", zap.Int("per_minute", perMinute))
	return NewMemoryLimiter(perMinute, cfg.RateLimit.LoginBurst)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type MemoryLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

const visitorIdle = 10 * time.Minute

func NewMemoryLimiter(perMinute, burst int) *MemoryLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &MemoryLimiter{
		visitors: map[string]*visitor{},
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > visitorIdle {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// RedisLimiter is a sliding window log kept in a sorted set per key.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	redisKey := "ratelimit:login:" + key
	windowStart := now.Add(-l.window).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: ids.New()})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return count.Val() <= int64(l.limit), nil
}

// ClientIPExtractor decides what c.RealIP returns. X-Forwarded-For is only
// honoured when the peer is one of trustedProxies; with none configured the
// peer address is used directly.
func ClientIPExtractor(trustedProxies []string) (echo.IPExtractor, error) {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, raw := range trustedProxies {
		cidr := strings.TrimSpace(raw)
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

// RateLimit rejects requests over the limiter's budget with 429, keyed by
// c.RealIP. Limiter errors let the request through.
func RateLimit(limiter LoginLimiter, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				logger.Warn("Rate limiter unavailable", zap.Error(err))
			}
			if !allowed {
				metrics.RateLimited.Inc()
				c.Response().Header().Set("Retry-After", "60")
				return response.Fail(c, http.StatusTooManyRequests, "Too many login attempts, slow down")
			}
			return next(c)
		}
	}
}

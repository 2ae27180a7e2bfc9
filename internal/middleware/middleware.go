package middleware

import (
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/iamgideonidoko/geoshield/internal/config"
	"github.com/iamgideonidoko/geoshield/internal/metrics"
	"github.com/iamgideonidoko/geoshield/pkg/cache"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

// idleLimiterTTL is how long an unused in-process limiter is kept.
const idleLimiterTTL = 10 * time.Minute

// RateLimiter counts requests per client IP in Redis when a cache is
// configured, and in process otherwise.
type RateLimiter struct {
	cache  *cache.Cache
	config *config.RateLimitConfig

	mu        sync.Mutex
	local     map[string]*localLimiter
	lastSweep time.Time
}

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cache *cache.Cache, config *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cache:  cache,
		config: config,
		local:  make(map[string]*localLimiter),
	}
}

// LimitByIP rate limits requests by client IP. Redis errors let the request
// through.
func (rl *RateLimiter) LimitByIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := fmt.Sprintf("ip:%s", ClientIP(c))

		allowed := true
		if rl.cache != nil {
			ok, err := rl.cache.CheckRateLimit(c.UserContext(), identifier, rl.config.Requests, rl.config.Window)
			if err != nil {
				logger.Warn("Rate limit check failed", map[string]any{
					"error": err.Error(),
				})
			} else {
				allowed = ok
			}
		} else {
			allowed = rl.allowLocal(identifier, time.Now())
		}

		if !allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(rl.config.Window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"retry_after": rl.config.Window.Seconds(),
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allowLocal(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		for k, l := range rl.local {
			if now.Sub(l.lastSeen) > idleLimiterTTL {
				delete(rl.local, k)
			}
		}
		rl.lastSweep = now
	}

	l, ok := rl.local[key]
	if !ok {
		every := rl.config.Window / time.Duration(rl.config.Requests)
		l = &localLimiter{limiter: rate.NewLimiter(rate.Every(every), rl.config.Requests)}
		rl.local[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func CORS(origins []string) fiber.Handler {
	allowedOrigins := make(map[string]bool)
	for _, origin := range origins {
		allowedOrigins[origin] = true
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")

		if origin != "" && (allowedOrigins["*"] || allowedOrigins[origin]) {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Set("Access-Control-Allow-Headers", "Content-Type")
			c.Set("Access-Control-Max-Age", "3600")
			c.Set("Vary", "Origin")
		}

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(http.StatusNoContent)
		}

		return c.Next()
	}
}

// Logger writes one structured line per request and records request metrics.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())

		logger.Info("HTTP request", map[string]any{
			"method":      c.Method(),
			"path":        c.Path(),
			"route":       route,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"ip":          AnonymizeIP(ClientIP(c)),
		})

		return err
	}
}

func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic", map[string]any{
					"panic": fmt.Sprint(r),
					"path":  c.Path(),
				})
				err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Internal server error",
				})
			}
		}()
		return c.Next()
	}
}

// AnonymizeIP zeroes the host part of an address for logging: the last octet
// of IPv4, everything past /48 for IPv6.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	addr = addr.Unmap()
	bits := 24
	if addr.Is6() {
		bits = 48
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.Addr().String()
}

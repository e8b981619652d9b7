package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/metrics"
	"github.com/angelmondragon/kitforge-backend/pkg/redis"
	"github.com/angelmondragon/kitforge-backend/pkg/types"
)

type rateLimiterStore interface {
	SlidingWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration, now time.Time) (redis.SlidingWindowResult, error)
}

// RateLimitPolicy throttles one server action per caller.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int
}

func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:   strings.ToLower(strings.TrimSpace(name)),
		window: window,
		limit:  limit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "action"
	}
	return p.name
}

// scope keys authenticated callers by user and everyone else by client IP.
func (p RateLimitPolicy) scope(r *http.Request) string {
	if userID := UserIDFromContext(r.Context()); userID != "" {
		return p.normalizedName() + ":user:" + userID
	}
	return p.normalizedName() + ":ip:" + clientIP(r)
}

// RateLimit enforces a sliding window per caller. Limiter failures let the
// request through: an unavailable Redis must not take purchases down.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, m *metrics.BillingMetrics, logg *logger.Logger) func(http.Handler) http.Handler {
	return rateLimitWithClock(policy, store, m, logg, time.Now)
}

func rateLimitWithClock(policy RateLimitPolicy, store rateLimiterStore, m *metrics.BillingMetrics, logg *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			action := policy.normalizedName()

			result, err := store.SlidingWindowAllow(ctx, policy.scope(r), int64(policy.limit), policy.window, now())
			if err != nil {
				m.IncRateLimit(action, "skipped")
				if logg != nil {
					logg.Error(logg.WithField(ctx, "policy", action), "rate_limit.unavailable", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

			if !result.Allowed {
				m.IncRateLimit(action, "denied")
				retryAfter := int(result.Reset.Sub(now()).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":         action,
						"limit":          policy.limit,
						"window_seconds": int(policy.window.Seconds()),
					}), "rate_limit.blocked")
				}
				status := pkgerrors.MetadataFor(pkgerrors.CodeRateLimit).HTTPStatus
				responses.WriteJSON(w, status, types.ActionResult{Success: false, Error: "Too many requests. Please try again later."})
				return
			}

			m.IncRateLimit(action, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

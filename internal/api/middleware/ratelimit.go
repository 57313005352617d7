package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit caps each owner's requests per fixed one-minute window. All API
// keys of one owner share the budget. Counters live in the cache.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit counts the request against the owner set by Authenticate. Requests
// without an owner pass through uncounted, and cache failures fail open.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := GetOwnerID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		window := rl.now().Truncate(rateWindow)
		reset := window.Add(rateWindow)
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(ownerID, window), rateWindow)
		if err != nil {
			slog.Warn("rate limit counter unavailable", "owner_id", ownerID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			response.ErrorRetryAfter(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", reset.Sub(rl.now()), nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 600
	rateLimitMaxUser = 300
	// Ключи без запросов дольше idleEvict удаляются при следующей проверке.
	idleEvict = 10 * time.Minute
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// keyedLimiter: token bucket на ключ (IP или user_id); клиенты опрашивают сервер, поэтому лимит мягкий с запасом на всплеск.
type keyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newKeyedLimiter(perWindow int, window time.Duration) *keyedLimiter {
	return &keyedLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perWindow) / window.Seconds()),
		burst:    max(perWindow/10, 1),
	}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	if now.Sub(k.lastSweep) > idleEvict {
		for stale, e := range k.limiters {
			if now.Sub(e.seen) > idleEvict {
				delete(k.limiters, stale)
			}
		}
		k.lastSweep = now
	}
	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// RateLimit ограничивает запросы по IP и, после идентификации, по user_id. 429 при превышении.
func RateLimit(maxPerIP, maxPerUser int) func(http.Handler) http.Handler {
	byIP := newKeyedLimiter(maxPerIP, rateLimitWindow)
	byUser := newKeyedLimiter(maxPerUser, rateLimitWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				jsonError(w, http.StatusTooManyRequests, "too_many_requests")
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow("u:"+userID) {
				jsonError(w, http.StatusTooManyRequests, "too_many_requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitAPI: RateLimit с лимитами по умолчанию.
func RateLimitAPI(next http.Handler) http.Handler {
	return RateLimit(rateLimitMaxIP, rateLimitMaxUser)(next)
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if first, _, ok := strings.Cut(x, ","); ok {
			return strings.TrimSpace(first)
		}
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

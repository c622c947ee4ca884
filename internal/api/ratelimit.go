package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limitClass names an endpoint family with its own budget.
type limitClass string

const (
	classDefault    limitClass = "default"
	classProcessing limitClass = "processing"
	classImport     limitClass = "import"
)

const limitWindow = 60 * time.Second

// RateLimits carries requests-per-minute budgets per endpoint class.
type RateLimits struct {
	Default    int
	Processing int
	Import     int
}

// DefaultRateLimits match the documented budgets.
var DefaultRateLimits = RateLimits{Default: 100, Processing: 5, Import: 2}

func (rl RateLimits) budget(class limitClass) int {
	switch class {
	case classProcessing:
		return rl.Processing
	case classImport:
		return rl.Import
	default:
		return rl.Default
	}
}

// rateLimiter hands out one token bucket per (API key, class) pair.
// Buckets refill continuously at budget/60s and hold a full window of
// burst, which approximates a fixed 60-second window closely enough for
// abuse protection.
type rateLimiter struct {
	limits RateLimits

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newRateLimiter(limits RateLimits) *rateLimiter {
	if limits.Default <= 0 {
		limits.Default = DefaultRateLimits.Default
	}
	if limits.Processing <= 0 {
		limits.Processing = DefaultRateLimits.Processing
	}
	if limits.Import <= 0 {
		limits.Import = DefaultRateLimits.Import
	}
	return &rateLimiter{
		limits:  limits,
		buckets: make(map[string]*rate.Limiter),
	}
}

// maxBuckets bounds limiter memory; when hit, the table is reset and
// every caller starts a fresh window.
const maxBuckets = 10000

func (l *rateLimiter) allow(key string, class limitClass) bool {
	budget := l.limits.budget(class)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > maxBuckets {
		l.buckets = make(map[string]*rate.Limiter)
	}

	bucketKey := key + "|" + string(class)
	bucket, ok := l.buckets[bucketKey]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(budget)/limitWindow.Seconds()), budget)
		l.buckets[bucketKey] = bucket
	}
	return bucket.Allow()
}

// middleware enforces the class budget per caller key.
func (l *rateLimiter) middleware(class limitClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(callerKey(r), class) {
				writeRateLimited(w, int(limitWindow.Seconds()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey identifies the caller: the bearer token when present,
// otherwise the remote address (already unwrapped by the RealIP
// middleware).
func callerKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

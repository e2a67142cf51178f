package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// ClientIP keys a request by its RemoteAddr without the port. chi's RealIP
// rewrites RemoteAddr first when proxy headers are trusted. Without it,
// every request relayed by a reverse proxy lands in the proxy's bucket.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limits is a token bucket shape plus how long idle buckets are kept.
type Limits struct {
	PerSecond rate.Limit
	Burst     int
	// IdleTTL is how long a bucket may go unused before it is dropped.
	IdleTTL time.Duration
	// SweepEvery is the interval between idle-bucket sweeps.
	SweepEvery time.Duration
}

// VoiceLimits covers the webhook legs. A call makes two requests and the
// provider sends them from a handful of egress addresses.
func VoiceLimits() Limits {
	return Limits{PerSecond: 2, Burst: 10, IdleTTL: 10 * time.Minute, SweepEvery: 5 * time.Minute}
}

// DashboardLimits covers the operator pages.
func DashboardLimits() Limits {
	return Limits{PerSecond: 1, Burst: 5, IdleTTL: 10 * time.Minute, SweepEvery: 5 * time.Minute}
}

type bucket struct {
	tokens   *rate.Limiter
	lastUsed time.Time
}

// KeyedLimiter holds one token bucket per key and sweeps idle buckets in
// the background until Stop is called.
type KeyedLimiter struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

// NewKeyedLimiter starts a limiter with the given limits.
func NewKeyedLimiter(limits Limits) *KeyedLimiter {
	l := &KeyedLimiter{
		limits:  limits,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow takes one token from key's bucket, creating the bucket on first use.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: rate.NewLimiter(l.limits.PerSecond, l.limits.Burst)}
		l.buckets[key] = b
	}
	b.lastUsed = l.now()
	l.mu.Unlock()

	return b.tokens.Allow()
}

// Len reports how many buckets are live.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the sweep goroutine. Later calls do nothing.
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *KeyedLimiter) sweepLoop() {
	t := time.NewTicker(l.limits.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

// sweep drops buckets unused for longer than IdleTTL and returns how many
// it removed.
func (l *KeyedLimiter) sweep() int {
	cutoff := l.now().Add(-l.limits.IdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if !b.lastUsed.After(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// RateLimit counts each request against the bucket chosen by key and
// answers 429 in plain text, with Retry-After, once it is empty.
func RateLimit(l *KeyedLimiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("subsystem", "ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if l.Allow(k) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("rate limit exceeded", "key", k, "method", r.Method, "path", r.URL.Path)
			h := w.Header()
			h.Set("Retry-After", "1")
			h.Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("rate limit exceeded")) //nolint:errcheck
		})
	}
}

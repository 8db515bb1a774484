package httpmiddleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Defaults to 100.
	Max int
	// Window defaults to one minute.
	Window time.Duration
	// KeyFunc extracts the client key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// SkipPaths are never limited, e.g. health probes.
	SkipPaths []string
}

// counter holds the counts of the current fixed window and the one before
// it. The sliding estimate weights the previous count by the part of it
// still inside the sliding window.
type counter struct {
	index int64
	prev  int
	curr  int
}

type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type limiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string
	skip   map[string]struct{}
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:      cfg.Max,
		window:   cfg.Window,
		key:      cfg.KeyFunc,
		skip:     make(map[string]struct{}, len(cfg.SkipPaths)),
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	if l.max <= 0 {
		l.max = 100
	}
	if l.window <= 0 {
		l.window = time.Minute
	}
	if l.key == nil {
		l.key = ClientIP
	}
	for _, p := range cfg.SkipPaths {
		l.skip[p] = struct{}{}
	}
	return l
}

func (l *limiter) take(key string) decision {
	now := l.now()
	index := now.UnixNano() / int64(l.window)
	start := time.Unix(0, index*int64(l.window))
	elapsed := float64(now.Sub(start)) / float64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	switch {
	case !ok:
		c = &counter{index: index}
		l.counters[key] = c
	case c.index == index-1:
		c.index, c.prev, c.curr = index, c.curr, 0
	case c.index < index-1:
		c.index, c.prev, c.curr = index, 0, 0
	}

	d := decision{reset: start.Add(l.window)}
	estimate := float64(c.prev)*(1-elapsed) + float64(c.curr)
	if estimate >= float64(l.max) {
		return d
	}
	c.curr++
	d.allowed = true
	d.remaining = max(0, int(float64(l.max)-estimate-1))
	return d
}

// evict drops counters that cannot influence any future decision.
func (l *limiter) evict() {
	index := l.now().UnixNano() / int64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if c.index < index-1 {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(l.max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := l.skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		d := l.take(l.key(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
		if !d.allowed {
			wait := max(0, d.reset.Sub(l.now()).Seconds())
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit limits requests per client key and answers 429 with the
// standard error body once the limit is reached. Every limited path gets
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle clients
// every window until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		t := time.NewTicker(l.window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.evict()
			}
		}
	}()
	return l.middleware
}

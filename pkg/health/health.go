// Package health serves liveness, readiness and summary endpoints.
//
// Each check runs in its own goroutine at a fixed interval. A check turns
// unhealthy after failureThreshold consecutive failures and healthy again
// after successThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind tells whether a check gates liveness or readiness.
type Kind string

const (
	KindLiveness  Kind = "liveness"
	KindReadiness Kind = "readiness"
)

// probe is one registered check.
//
// run is only called from the probe goroutine, so the counters are
// unsynchronized. healthy and lastErr are read by handlers.
type probe struct {
	name             string
	kind             Kind
	timeout          time.Duration
	check            CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	consecutiveFails int
	consecutiveOK    int
}

func (p *probe) isHealthy() bool {
	return p.healthy.Load()
}

func (p *probe) lastError() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

func (p *probe) failure() string {
	if err := p.lastError(); err != nil {
		return err.Error()
	}
	return "check is unhealthy"
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.consecutiveOK = 0
		p.consecutiveFails++
		if p.consecutiveFails >= p.failureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.consecutiveFails = 0
	p.consecutiveOK++
	if p.consecutiveOK >= p.successThreshold {
		p.healthy.Store(true)
	}
}

// Health tracks the checks and the manual readiness flag of the service.
type Health struct {
	ready   atomic.Bool
	started time.Time
	now     func() time.Time

	// mu guards probes and cancel. Handlers copy the slice under RLock.
	mu     sync.RWMutex
	probes []*probe
	info   map[string]func() string
	cancel context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{started: time.Now(), now: time.Now, info: map[string]func() string{}}
}

// AddLivenessCheck registers a check that reports whether the process works
// at all.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(KindLiveness, name, timeout, check)
}

// AddReadinessCheck registers a check that reports whether the service can
// take traffic, e.g. whether the catalog loads.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(KindReadiness, name, timeout, check)
}

// AddInfo adds a value shown by SummaryEndpoint.
func (h *Health) AddInfo(name string, fn func() string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[name] = fn
}

func (h *Health) add(kind Kind, name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &probe{
		name:             name,
		kind:             kind,
		timeout:          timeout,
		check:            check,
		failureThreshold: 3,
		successThreshold: 1,
	}
	p.healthy.Store(true)
	h.probes = append(h.probes, p)
}

// Start runs every registered check at interval until ctx is done or Stop
// is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append([]*probe(nil), h.probes...)
	h.mu.Unlock()

	for _, p := range probes {
		go runProbe(ctx, p, interval)
	}
}

func runProbe(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

// SetReady sets the manual readiness flag, false during shutdown drain.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(failures(h.snapshot(), KindReadiness)) == 0
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) snapshot() []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*probe(nil), h.probes...)
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} or 503 with the failing
// liveness checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(), KindLiveness))
}

// ReadyEndpoint serves /readyz. It fails while the service is not marked
// ready or any readiness check fails.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(), KindReadiness)
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, failed)
}

// SummaryEndpoint serves /health: every check with its state, the uptime
// and the info values. It answers 503 only when a liveness check fails.
func (h *Health) SummaryEndpoint(w http.ResponseWriter, _ *http.Request) {
	probes := h.snapshot()
	h.mu.RLock()
	info := make(map[string]string, len(h.info))
	for k, fn := range h.info {
		info[k] = fn()
	}
	h.mu.RUnlock()

	status, code := "ok", http.StatusOK
	switch {
	case len(failures(probes, KindLiveness)) > 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case !h.IsReady():
		status = "degraded"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		e.Field("ready", func(e *jx.Encoder) { e.Bool(h.IsReady()) })
		e.Field("uptime_seconds", func(e *jx.Encoder) {
			e.Int64(int64(h.now().Sub(h.started).Seconds()))
		})
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, p := range probes {
					e.Field(p.name, func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("kind", func(e *jx.Encoder) { e.Str(string(p.kind)) })
							e.Field("healthy", func(e *jx.Encoder) { e.Bool(p.isHealthy()) })
							if !p.isHealthy() {
								e.Field("error", func(e *jx.Encoder) { e.Str(p.failure()) })
							}
						})
					})
				}
			})
		})
		if len(info) > 0 {
			e.Field("info", func(e *jx.Encoder) { encodeStrings(e, info) })
		}
	})
	write(w, code, e.Bytes())
}

// failures maps the name of every unhealthy probe of kind to its last error.
// It reads stored results and never runs the checks.
func failures(probes []*probe, kind Kind) map[string]string {
	out := make(map[string]string)
	for _, p := range probes {
		if p.kind == kind && !p.isHealthy() {
			out[p.name] = p.failure()
		}
	}
	return out
}

func writeStatus(w http.ResponseWriter, failed map[string]string) {
	var e jx.Encoder
	code := http.StatusOK
	e.Obj(func(e *jx.Encoder) {
		if len(failed) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		code = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) { encodeStrings(e, failed) })
	})
	write(w, code, e.Bytes())
}

func encodeStrings(e *jx.Encoder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.Obj(func(e *jx.Encoder) {
		for _, k := range keys {
			e.Field(k, func(e *jx.Encoder) { e.Str(m[k]) })
		}
	})
}

func write(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// The status is already sent; a write error means the client left.
	_, _ = w.Write(body)
}

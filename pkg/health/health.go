// Package health serves /livez and /readyz from periodically evaluated
// checks.
//
// Every check runs in its own goroutine. A check flips to unhealthy after
// FailureThreshold consecutive failures and back after SuccessThreshold
// consecutive successes, so a single slow probe does not flap the status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Check describes a registered probe.
type Check struct {
	Name string
	Kind Kind
	Fn   CheckFunc
	// Timeout bounds a single evaluation. Defaults to one second.
	Timeout time.Duration
	// FailureThreshold defaults to 3, SuccessThreshold to 1.
	FailureThreshold int
	SuccessThreshold int
}

// probe is the runtime state of a Check. fails and oks are owned by the
// single goroutine evaluating the probe; healthy and lastErr are read by
// HTTP handlers.
type probe struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (p *probe) eval(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Fn(ctx)
	p.lastErr.Store(&err)
	if err != nil {
		p.oks = 0
		if p.fails++; p.fails >= p.FailureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	if p.oks++; p.oks >= p.SuccessThreshold {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "check is unhealthy", true
}

// Health aggregates probes.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Register adds a check. Checks are assumed healthy until evaluated.
func (h *Health) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	p := &probe{Check: c}
	p.healthy.Store(true)

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// Start evaluates every registered check now and then every interval, until
// Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append([]*probe(nil), h.probes...)
	h.mu.Unlock()

	for _, p := range probes {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				p.eval(ctx)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		}()
	}
}

// Stop halts evaluation. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness gate, used around startup and
// shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range h.probes {
		if p.Kind != kind {
			continue
		}
		if msg, failed := p.failure(); failed {
			out[p.Name] = msg
		}
	}
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	respond(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	respond(w, failures)
}

func respond(w http.ResponseWriter, failures map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

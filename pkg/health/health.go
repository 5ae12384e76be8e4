// Package health serves liveness and readiness probes.
//
// Checks run in the background on a shared ticker. A check turns unhealthy
// only after a run of consecutive failures and healthy again after a run of
// consecutive successes, so a single slow database ping does not pull the
// instance out of the load balancer.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckFunc reports whether a component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects which endpoint a check contributes to.
type Probe uint8

const (
	// Liveness checks failing means the process should be restarted.
	Liveness Probe = iota
	// Readiness checks failing means the instance should not get traffic.
	Readiness
)

func (p Probe) String() string {
	if p == Readiness {
		return "readiness"
	}
	return "liveness"
}

const (
	defaultTimeout          = time.Second
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// Option configures a registered check.
type Option func(*check)

// WithTimeout bounds a single run of the check.
func WithTimeout(d time.Duration) Option {
	return func(c *check) { c.timeout = d }
}

// WithThresholds sets how many consecutive failures mark the check unhealthy
// and how many consecutive successes mark it healthy again.
func WithThresholds(failures, successes int) Option {
	return func(c *check) {
		c.failureThreshold = max(failures, 1)
		c.successThreshold = max(successes, 1)
	}
}

type check struct {
	probe            Probe
	name             string
	fn               CheckFunc
	timeout          time.Duration
	failureThreshold int
	successThreshold int

	mu      sync.Mutex
	healthy bool
	lastErr error
	fails   int
	passes  int
}

// status returns the error to report, or nil while the check is healthy.
func (c *check) status() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthy {
		return nil
	}
	if c.lastErr == nil {
		return errUnhealthy
	}
	return c.lastErr
}

// run executes the check once. It returns true when the health state flipped.
func (c *check) run(ctx context.Context) (flipped bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = err
	was := c.healthy
	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy = false
		}
	} else {
		c.fails = 0
		c.passes++
		if c.passes >= c.successThreshold {
			c.healthy = true
		}
	}
	return was != c.healthy
}

var errUnhealthy = errors.New("check is unhealthy")

// Health owns the registered checks and the manual readiness switch.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Health that is not ready until SetReady(true) is called.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Register adds a check to the given probe. Checks start healthy.
func (h *Health) Register(p Probe, name string, fn CheckFunc, opts ...Option) {
	c := &check{
		probe:            p,
		name:             name,
		fn:               fn,
		timeout:          defaultTimeout,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		healthy:          true,
	}
	for _, o := range opts {
		o(c)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// Start runs every check immediately and then once per interval until Stop
// is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.cancel, h.done = cancel, done
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			h.runAll(ctx, checks)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// runAll runs one round of checks concurrently so a hanging check does not
// delay the others beyond its own timeout.
func (h *Health) runAll(ctx context.Context, checks []*check) {
	var g errgroup.Group
	for _, c := range checks {
		g.Go(func() error {
			if !c.run(ctx) {
				return nil
			}
			if err := c.status(); err != nil {
				h.lg.Warn("Health check failing",
					zap.String("probe", c.probe.String()),
					zap.String("check", c.name),
					zap.Error(err),
				)
			} else {
				h.lg.Info("Health check recovered",
					zap.String("probe", c.probe.String()),
					zap.String("check", c.name),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stop halts background checks and waits for the current round to finish.
// It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SetReady flips the manual readiness switch. The server sets it after
// startup and clears it when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// failures maps the name of every unhealthy check of p to its last error.
func (h *Health) failures(p Probe) map[string]string {
	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range checks {
		if c.probe != p {
			continue
		}
		if err := c.status(); err != nil {
			out[c.name] = err.Error()
		}
	}
	return out
}

// Handler serves a probe endpoint. It answers 200 {"status":"ok"} or 503
// with the failing checks. A readiness probe with the manual switch off
// answers 503 {"status":"draining"}.
func (h *Health) Handler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		failures := h.failures(p)
		status := "ok"
		switch {
		case len(failures) > 0:
			status = "unhealthy"
		case p == Readiness && !h.ready.Load():
			status = "draining"
		}
		writeStatus(w, status, failures)
	}
}

func writeStatus(w http.ResponseWriter, status string, failures map[string]string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failures) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range slices.Sorted(maps.Keys(failures)) {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

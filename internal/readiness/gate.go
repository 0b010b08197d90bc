// Package readiness decides when a running resource is ready to serve.
package readiness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"apphost/internal/errors"
	"apphost/internal/logger"
	"apphost/internal/resource"
)

// Prober performs a single health probe. The context carries the per-attempt
// timeout.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, url string) error

func (f ProberFunc) Probe(ctx context.Context, url string) error { return f(ctx, url) }

// Probers maps an endpoint scheme to its prober.
type Probers map[string]Prober

// For returns the prober registered for scheme.
func (p Probers) For(scheme string) (Prober, error) {
	prober, ok := p[scheme]
	if !ok {
		return nil, fmt.Errorf("no health prober for scheme %q", scheme)
	}
	return prober, nil
}

// Status is the state of a gate.
type Status string

const (
	NotChecked Status = "NotChecked"
	Probing    Status = "Probing"
	Ready      Status = "Ready"
	Unhealthy  Status = "Unhealthy"
)

// URL joins a binding and a health path.
func URL(b resource.Binding, path string) string {
	if path == "" {
		return b.URL()
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return b.URL() + path
}

// Gate polls one resource's health probe until it passes, the failure
// threshold is reached, or the startup timeout expires.
type Gate struct {
	resource string
	check    *resource.HealthCheck
	url      string
	prober   Prober

	mu       sync.Mutex
	status   Status
	attempts int
	lastErr  error
}

// NewGate creates a gate. A nil check yields a gate that is Ready at once.
func NewGate(name string, check *resource.HealthCheck, url string, prober Prober) *Gate {
	g := &Gate{resource: name, url: url, prober: prober, status: NotChecked}
	if check != nil {
		c := check.WithDefaults()
		g.check = &c
	}
	return g
}

// Status returns the current gate status.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Attempts returns the number of probes made so far.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

func (g *Gate) set(status Status) {
	g.mu.Lock()
	g.status = status
	g.mu.Unlock()
}

// Run blocks until the gate settles. It returns nil on Ready and a
// *errors.HealthCheckError on Unhealthy. Cancellation of ctx returns ctx.Err()
// without settling the gate.
func (g *Gate) Run(ctx context.Context) error {
	if g.check == nil {
		g.set(Ready)
		return nil
	}
	g.set(Probing)

	probeCtx := ctx
	if g.check.StartupTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, g.check.StartupTimeout)
		defer cancel()
	}

	log := logger.ForResource(g.resource).WithField("url", g.url)
	consecutive := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-probeCtx.Done():
			return g.stopped(ctx)
		}

		err := g.attempt(probeCtx)
		if err == nil {
			g.set(Ready)
			log.WithField("attempts", g.Attempts()).Debug("Health check passed")
			return nil
		}
		if probeCtx.Err() != nil {
			return g.stopped(ctx)
		}

		consecutive++
		log.WithError(err).WithField("attempt", consecutive).Debug("Health check failed")
		if consecutive >= g.check.FailureThreshold {
			g.set(Unhealthy)
			return &errors.HealthCheckError{
				Resource: g.resource,
				URL:      g.url,
				Kind:     errors.HealthUnhealthy,
				Attempts: g.Attempts(),
				Cause:    err,
			}
		}
		timer.Reset(g.check.Interval)
	}
}

func (g *Gate) attempt(ctx context.Context) error {
	attemptCtx, cancel := context.WithTimeout(ctx, g.check.Timeout)
	defer cancel()

	err := g.prober.Probe(attemptCtx, g.url)
	g.mu.Lock()
	g.attempts++
	g.lastErr = err
	g.mu.Unlock()
	return err
}

// stopped distinguishes the startup timeout from caller cancellation.
func (g *Gate) stopped(parent context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	g.set(Unhealthy)
	g.mu.Lock()
	defer g.mu.Unlock()
	return &errors.HealthCheckError{
		Resource: g.resource,
		URL:      g.url,
		Kind:     errors.HealthTimeout,
		Attempts: g.attempts,
		Cause:    g.lastErr,
	}
}

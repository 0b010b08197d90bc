package readiness

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"apphost/internal/errors"
	"apphost/internal/resource"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastCheck(threshold int) *resource.HealthCheck {
	return &resource.HealthCheck{
		Endpoint:         "http",
		Path:             "/health",
		Interval:         time.Millisecond,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: threshold,
	}
}

func TestGate_NoCheckIsImmediatelyReady(t *testing.T) {
	var calls int32
	prober := ProberFunc(func(ctx context.Context, url string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	g := NewGate("web", nil, "", prober)
	assert.Equal(t, NotChecked, g.Status())

	start := time.Now()
	require.NoError(t, g.Run(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, Ready, g.Status())
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestGate_ReadyAfterFailures(t *testing.T) {
	var calls int32
	prober := ProberFunc(func(ctx context.Context, url string) error {
		assert.Equal(t, "http://localhost:8080/health", url)
		if atomic.AddInt32(&calls, 1) < 3 {
			return fmt.Errorf("connection refused")
		}
		return nil
	})

	g := NewGate("api", fastCheck(5), "http://localhost:8080/health", prober)
	require.NoError(t, g.Run(context.Background()))
	assert.Equal(t, Ready, g.Status())
	assert.Equal(t, 3, g.Attempts())
}

func TestGate_UnhealthyAtThreshold(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, url string) error {
		return fmt.Errorf("503 Service Unavailable")
	})

	g := NewGate("api", fastCheck(4), "http://localhost:8080/health", prober)
	err := g.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Unhealthy, g.Status())

	var hc *errors.HealthCheckError
	require.ErrorAs(t, err, &hc)
	assert.Equal(t, errors.HealthUnhealthy, hc.Kind)
	assert.Equal(t, 4, hc.Attempts)
	assert.Equal(t, "api", hc.Resource)
	assert.Equal(t, errors.ErrUnhealthy, errors.GetCode(err))
	assert.Contains(t, err.Error(), "503")
}

func TestGate_AttemptTimeout(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, url string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	check := fastCheck(2)
	check.Timeout = 5 * time.Millisecond

	g := NewGate("api", check, "http://localhost:1", prober)
	err := g.Run(context.Background())

	var hc *errors.HealthCheckError
	require.ErrorAs(t, err, &hc)
	assert.Equal(t, errors.HealthUnhealthy, hc.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_StartupTimeout(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, url string) error {
		return fmt.Errorf("not yet")
	})
	check := fastCheck(1000)
	check.Interval = 5 * time.Millisecond
	check.StartupTimeout = 30 * time.Millisecond

	g := NewGate("api", check, "http://localhost:1", prober)
	err := g.Run(context.Background())

	var hc *errors.HealthCheckError
	require.ErrorAs(t, err, &hc)
	assert.Equal(t, errors.HealthTimeout, hc.Kind)
	assert.Equal(t, errors.ErrHealthCheckTimeout, errors.GetCode(err))
	assert.Equal(t, Unhealthy, g.Status())
	assert.Greater(t, hc.Attempts, 0)
}

func TestGate_CancelledByCaller(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, url string) error {
		return fmt.Errorf("down")
	})
	check := fastCheck(1000)
	check.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	g := NewGate("api", check, "http://localhost:1", prober)
	err := g.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Probing, g.Status())
}

func TestProbers_For(t *testing.T) {
	p := Probers{"http": ProberFunc(func(context.Context, string) error { return nil })}
	_, err := p.For("http")
	assert.NoError(t, err)
	_, err = p.For("tcp")
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	b := resource.Binding{Scheme: "https", Host: "localhost", Port: 7001}
	assert.Equal(t, "https://localhost:7001/health", URL(b, "/health"))
	assert.Equal(t, "https://localhost:7001/health", URL(b, "health"))
	assert.Equal(t, "https://localhost:7001", URL(b, ""))
}

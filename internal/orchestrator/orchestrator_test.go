package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"apphost/internal/errors"
	"apphost/internal/launcher"
	"apphost/internal/readiness"
	"apphost/internal/resource"
	"apphost/internal/runstate"
	"apphost/internal/supervisor"
	"apphost/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) []resource.Resource {
	t.Helper()
	b := resource.NewBuilder()
	api := b.AddProcess("api", "api-server").
		WithHTTPSEndpoint(7001, "PORT").
		WithHealthCheck(resource.HealthCheck{Endpoint: "https", Path: "/health", Interval: 5 * time.Millisecond, FailureThreshold: 3})
	b.AddProcess("web", "npm", "start").
		WithHTTPEndpoint(0, "PORT").
		WithReference(api).
		WaitFor(api)
	b.AddProcess("worker", "worker")
	resources, err := b.Build()
	require.NoError(t, err)
	return resources
}

func options(fake *testutil.FakeLauncher, prober readiness.Prober) Options {
	return Options{
		RunID:        "run-1",
		Launchers:    launcher.Registry{resource.KindProcess: fake, resource.KindContainer: fake},
		Probers:      readiness.Probers{"http": prober, "https": prober},
		GracePeriod:  time.Second,
		AbortTimeout: 100 * time.Millisecond,
	}
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}

var healthy = readiness.ProberFunc(func(context.Context, string) error { return nil })

func TestNew_RejectsCycle(t *testing.T) {
	a := resource.Resource{Name: "a", Kind: resource.KindProcess, Command: "a", WaitFor: []string{"b"}}
	b := resource.Resource{Name: "b", Kind: resource.KindProcess, Command: "b", WaitFor: []string{"a"}}

	_, err := New([]resource.Resource{a, b}, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCyclicDependency, errors.GetCode(err))
}

func TestNew_GeneratesRunID(t *testing.T) {
	o, err := New(sample(t), Options{Launchers: launcher.Registry{}})
	require.NoError(t, err)
	assert.NotEmpty(t, o.RunID())
	order := o.Graph().TopoOrder()
	assert.ElementsMatch(t, []string{"api", "web", "worker"}, order)
	assert.Less(t, indexOf(order, "api"), indexOf(order, "web"))
}

func TestStart_AllReady(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	fake.Ports["web.http"] = 45001

	var mu sync.Mutex
	var seen []runstate.Event
	opts := options(fake, healthy)
	opts.Observers = []runstate.Observer{runstate.ObserverFunc(func(e runstate.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	})}

	o, err := New(sample(t), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx))

	for _, rec := range o.Snapshot() {
		assert.Equal(t, runstate.Ready, rec.State, rec.Name)
	}
	assert.ElementsMatch(t, []string{"api", "web", "worker"}, o.Running())
	assert.Equal(t, 45001, o.Bindings("web")["http"].Port)

	mu.Lock()
	assert.Len(t, seen, 9, "three transitions for each resource")
	mu.Unlock()

	require.NoError(t, o.Shutdown(ctx))
	for _, rec := range o.Snapshot() {
		assert.Equal(t, runstate.Stopped, rec.State, rec.Name)
	}
	assert.Empty(t, o.Running())
	stopped := fake.Stopped()
	require.Len(t, stopped, 3)
	assert.Less(t, indexOf(stopped, "web"), indexOf(stopped, "api"), "producers stop after consumers")
}

func TestRun_StopsOnCancel(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	o, err := New(sample(t), options(fake, healthy))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, o.Tracker().WaitReady(waitCtx, "web"))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for _, rec := range o.Snapshot() {
		assert.Equal(t, runstate.Stopped, rec.State, rec.Name)
	}
}

func TestRun_CallsOnStarted(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	opts := options(fake, healthy)
	started := make(chan error, 1)
	opts.OnStarted = func(err error) { started <- err }
	o, err := New(sample(t), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case err := <-started:
		assert.NoError(t, err)
		assert.Equal(t, runstate.Ready, o.Tracker().State("web"))
	case <-time.After(5 * time.Second):
		t.Fatal("OnStarted was not called")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRun_PartialFailureKeepsHealthyResources(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	fake.StartErr["api"] = fmt.Errorf("exec: api-server: not found")
	o, err := New(sample(t), options(fake, healthy))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, o.Tracker().WaitReady(waitCtx, "worker"))
	state, err := o.Tracker().WaitTerminal(waitCtx, "web")
	require.NoError(t, err)
	assert.Equal(t, runstate.Failed, state)

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, runstate.Stopped, o.Tracker().State("worker"))
}

func TestRun_ReturnsStartupFailureWhenNothingRuns(t *testing.T) {
	b := resource.NewBuilder()
	api := b.AddProcess("api", "api-server")
	b.AddProcess("web", "web").WaitFor(api)
	resources, err := b.Build()
	require.NoError(t, err)

	fake := testutil.NewFakeLauncher()
	fake.StartErr["api"] = fmt.Errorf("boom")
	o, err := New(resources, options(fake, healthy))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = o.Run(ctx)

	var failure *errors.StartupFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "api", failure.Root)
	assert.Equal(t, []string{"web"}, failure.Blocked)
	assert.Equal(t, []string{"api"}, fake.Started())
}

func TestRun_UnhealthyProducer(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	prober := &testutil.MockProber{}
	prober.On("Probe", mock.Anything, "https://localhost:7001/health").Return(fmt.Errorf("connection refused"))

	o, err := New(sample(t), options(fake, prober))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = o.Start(ctx)

	var failure *errors.StartupFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "api", failure.Root)
	assert.Equal(t, []string{"web"}, failure.Blocked)
	assert.Equal(t, []string{"worker"}, o.Running())
	require.NoError(t, o.Shutdown(ctx))
}

// referenceOnly declares web referencing api without waiting for it. The api
// health check fails only once web is Ready, so web is already running when
// api fails.
func referenceOnly(t *testing.T) []resource.Resource {
	t.Helper()
	b := resource.NewBuilder()
	api := b.AddProcess("api", "api-server").
		WithHTTPSEndpoint(7001, "PORT").
		WithHealthCheck(resource.HealthCheck{Endpoint: "https", Path: "/health", Interval: 5 * time.Millisecond, FailureThreshold: 2})
	b.AddProcess("web", "npm", "start").WithReference(api)
	b.AddProcess("worker", "worker")
	resources, err := b.Build()
	require.NoError(t, err)
	return resources
}

func unhealthyOnceReady(o **Orchestrator, name string) readiness.Prober {
	return readiness.ProberFunc(func(ctx context.Context, _ string) error {
		if err := (*o).Tracker().WaitReady(ctx, name); err != nil {
			return err
		}
		return fmt.Errorf("connection refused")
	})
}

func TestStart_CascadeFailsReferenceConsumers(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	var o *Orchestrator
	opts := options(fake, unhealthyOnceReady(&o, "web"))
	opts.Cascade = supervisor.CascadeDependents
	o, err := New(referenceOnly(t), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = o.Start(ctx)

	var failure *errors.StartupFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "api", failure.Root)
	assert.Empty(t, failure.Blocked)
	assert.Equal(t, []string{"web"}, failure.Affected)

	rec, _ := o.Tracker().Get("web")
	assert.Equal(t, runstate.Failed, rec.State)
	var depErr *errors.DependencyFailedError
	require.ErrorAs(t, rec.Err, &depErr)
	assert.Equal(t, "api", depErr.Root)
	assert.Contains(t, fake.Stopped(), "web")
	assert.Equal(t, []string{"worker"}, o.Running())
	require.NoError(t, o.Shutdown(ctx))
}

func TestStart_CascadeNoneReportsReferenceConsumers(t *testing.T) {
	fake := testutil.NewFakeLauncher()
	var o *Orchestrator
	o, err := New(referenceOnly(t), options(fake, unhealthyOnceReady(&o, "web")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = o.Start(ctx)

	var failure *errors.StartupFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []string{"web"}, failure.Affected)
	assert.Contains(t, err.Error(), "affected: web")
	assert.Equal(t, runstate.Ready, o.Tracker().State("web"))
	assert.ElementsMatch(t, []string{"web", "worker"}, o.Running())
	require.NoError(t, o.Shutdown(ctx))
}

func TestRun_StopOnFailureShutsDownHealthyResources(t *testing.T) {
	b := resource.NewBuilder()
	b.AddProcess("worker", "worker")
	b.AddProcess("api", "api-server")
	resources, err := b.Build()
	require.NoError(t, err)

	fake := testutil.NewFakeLauncher()
	fake.StartErr["api"] = fmt.Errorf("exec: api-server: not found")
	opts := options(fake, healthy)
	opts.StopOnFailure = true
	o, err := New(resources, opts)
	require.NoError(t, err)
	fake.BeforeStart = func(ctx context.Context, spec launcher.Spec) error {
		if spec.Resource.Name == "api" {
			return o.Tracker().WaitReady(ctx, "worker")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case err := <-done:
		var failure *errors.StartupFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "api", failure.Root)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept running after a startup failure")
	}
	assert.Equal(t, runstate.Stopped, o.Tracker().State("worker"))
	assert.Contains(t, fake.Stopped(), "worker")
	assert.Empty(t, o.Running())
}

func TestStart_ReadyDuringShutdownIsStopped(t *testing.T) {
	b := resource.NewBuilder()
	b.AddProcess("worker", "worker")
	resources, err := b.Build()
	require.NoError(t, err)

	fake := testutil.NewFakeLauncher()
	o, err := New(resources, options(fake, healthy))
	require.NoError(t, err)
	fake.BeforeStart = func(ctx context.Context, _ launcher.Spec) error {
		return o.Shutdown(ctx)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx))

	assert.Equal(t, runstate.Stopped, o.Tracker().State("worker"))
	assert.Equal(t, []string{"worker"}, fake.Stopped())
	assert.Empty(t, o.Running())
}

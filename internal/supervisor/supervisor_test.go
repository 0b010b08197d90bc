package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"apphost/internal/errors"
	"apphost/internal/graph"
	"apphost/internal/launcher"
	"apphost/internal/resource"
	"apphost/internal/runstate"
	"apphost/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	graph    *graph.Graph
	tracker  *runstate.Tracker
	launcher *testutil.FakeLauncher
}

// chain declares web -> proxy -> api plus an unrelated worker.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := resource.NewBuilder()
	api := b.AddProcess("api", "api")
	proxy := b.AddContainer("proxy", "dev-proxy").WaitFor(api)
	b.AddProcess("web", "web").WaitFor(proxy).WithReference(api)
	b.AddProcess("worker", "worker")
	resources, err := b.Build()
	require.NoError(t, err)
	g, err := graph.Build(resources)
	require.NoError(t, err)
	return &fixture{graph: g, tracker: runstate.NewTracker(g.Names()), launcher: testutil.NewFakeLauncher()}
}

func (f *fixture) supervisor(cascade Cascade) *Supervisor {
	return New(Config{
		Graph:       f.graph,
		Tracker:     f.tracker,
		Launchers:   launcher.Registry{resource.KindProcess: f.launcher, resource.KindContainer: f.launcher},
		Cascade:     cascade,
		GracePeriod: time.Second,
	})
}

// adoptAll starts every resource on the fake launcher, marks it Ready and
// hands it to s.
func (f *fixture) adoptAll(t *testing.T, s *Supervisor) {
	t.Helper()
	for _, res := range f.graph.Resources() {
		h, err := f.launcher.Start(context.Background(), launcher.Spec{Resource: res})
		require.NoError(t, err)
		for _, state := range []runstate.State{runstate.Starting, runstate.Running, runstate.Ready} {
			require.NoError(t, f.tracker.Transition(res.Name, state, nil))
		}
		require.NoError(t, s.Adopt(res.Name, h))
	}
}

func (f *fixture) waitState(t *testing.T, name string, want runstate.State) runstate.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.tracker.Wait(ctx, name, func(s runstate.State) bool { return s == want })
	require.NoError(t, err, "%s never reached %s", name, want)
	rec, _ := f.tracker.Get(name)
	return rec
}

func TestParseCascade(t *testing.T) {
	c, err := ParseCascade("")
	require.NoError(t, err)
	assert.Equal(t, CascadeNone, c)

	c, err = ParseCascade("dependents")
	require.NoError(t, err)
	assert.Equal(t, CascadeDependents, c)

	_, err = ParseCascade("everything")
	assert.Equal(t, errors.ErrConfigValidation, errors.GetCode(err))
}

func TestSupervisor_CleanExitIsExited(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	f.launcher.Handle("worker").Exit(0, nil)
	rec := f.waitState(t, "worker", runstate.Exited)
	assert.NoError(t, rec.Err)
	assert.NotContains(t, s.Running(), "worker")
}

func TestSupervisor_NonZeroExitIsFailed(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	f.launcher.Handle("api").Exit(2, nil)
	rec := f.waitState(t, "api", runstate.Failed)

	var exitErr *errors.ExitError
	require.ErrorAs(t, rec.Err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, errors.ErrResourceExited, errors.GetCode(rec.Err))
}

func TestSupervisor_CascadeNoneLeavesDependentsRunning(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	f.launcher.Handle("api").Exit(1, nil)
	f.waitState(t, "api", runstate.Failed)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, runstate.Ready, f.tracker.State("proxy"))
	assert.Equal(t, runstate.Ready, f.tracker.State("web"))
	assert.Empty(t, f.launcher.Stopped())
	assert.Equal(t, []string{"proxy", "web", "worker"}, s.Running())
}

func TestSupervisor_CascadeDependentsStopsDependents(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeDependents)
	f.adoptAll(t, s)

	f.launcher.Handle("api").Exit(1, nil)
	f.waitState(t, "api", runstate.Failed)
	f.waitState(t, "proxy", runstate.Stopped)
	f.waitState(t, "web", runstate.Stopped)

	assert.Equal(t, []string{"web", "proxy"}, f.launcher.Stopped())
	assert.Equal(t, runstate.Ready, f.tracker.State("worker"))
}

func TestSupervisor_ShutdownReverseOrder(t *testing.T) {
	f := newFixture(t)
	f.launcher.StopDelay = 20 * time.Millisecond
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	require.NoError(t, s.Shutdown(context.Background()))

	stopped := f.launcher.Stopped()
	require.Len(t, stopped, 4)
	index := make(map[string]int)
	for i, name := range stopped {
		index[name] = i
	}
	assert.Less(t, index["web"], index["proxy"])
	assert.Less(t, index["proxy"], index["api"])

	for _, rec := range f.tracker.Snapshot() {
		assert.Equal(t, runstate.Stopped, rec.State, rec.Name)
	}
	assert.Empty(t, s.Running())
}

func TestSupervisor_ShutdownStopsIndependentResourcesConcurrently(t *testing.T) {
	b := resource.NewBuilder()
	for i := 0; i < 4; i++ {
		b.AddProcess(fmt.Sprintf("svc%d", i), "svc")
	}
	resources, err := b.Build()
	require.NoError(t, err)
	g, err := graph.Build(resources)
	require.NoError(t, err)
	f := &fixture{graph: g, tracker: runstate.NewTracker(g.Names()), launcher: testutil.NewFakeLauncher()}
	f.launcher.StopDelay = 150 * time.Millisecond
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	start := time.Now()
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 450*time.Millisecond)
	assert.Len(t, f.launcher.Stopped(), 4)
}

func TestSupervisor_RequestedStopIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	f.launcher.StopCode = 137
	s := f.supervisor(CascadeDependents)
	f.adoptAll(t, s)

	require.NoError(t, s.Stop(context.Background(), "worker"))
	rec := f.waitState(t, "worker", runstate.Stopped)
	assert.NoError(t, rec.Err)
}

func TestSupervisor_FailRecordsCause(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Fail(ctx, map[string]error{
		"proxy": &errors.DependencyFailedError{Resource: "proxy", Root: "api"},
		"web":   &errors.DependencyFailedError{Resource: "web", Root: "api"},
		"ghost": fmt.Errorf("not supervised"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"web", "proxy"}, f.launcher.Stopped())
	for _, name := range []string{"proxy", "web"} {
		rec, _ := f.tracker.Get(name)
		assert.Equal(t, runstate.Failed, rec.State, name)
		var depErr *errors.DependencyFailedError
		require.ErrorAs(t, rec.Err, &depErr, name)
		assert.Equal(t, "api", depErr.Root)
	}
	assert.Equal(t, []string{"api", "worker"}, s.Running())
}

func TestSupervisor_AdoptAfterShutdown(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	require.NoError(t, s.Shutdown(context.Background()))

	err := s.Adopt("api", testutil.NewFakeHandle("api", nil))
	assert.Equal(t, errors.ErrShuttingDown, errors.GetCode(err))
}

func TestSupervisor_AdoptUnknown(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	err := s.Adopt("ghost", testutil.NewFakeHandle("ghost", nil))
	assert.Equal(t, errors.ErrResourceNotFound, errors.GetCode(err))
}

func TestSupervisor_ShutdownAfterExit(t *testing.T) {
	f := newFixture(t)
	s := f.supervisor(CascadeNone)
	f.adoptAll(t, s)

	f.launcher.Handle("worker").Exit(0, nil)
	f.waitState(t, "worker", runstate.Exited)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, runstate.Exited, f.tracker.State("worker"))
	assert.NotContains(t, f.launcher.Stopped(), "worker")
}

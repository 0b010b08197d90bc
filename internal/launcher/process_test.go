package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"apphost/internal/errors"
	"apphost/internal/logger"
	"apphost/internal/resource"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use /bin/sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shellSpec(name, script string, endpoints ...resource.Endpoint) Spec {
	return Spec{
		RunID: "run-1",
		Resource: resource.Resource{
			Name:      name,
			Kind:      resource.KindProcess,
			Command:   "sh",
			Endpoints: endpoints,
		},
		Args: []string{"-c", script},
	}
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestProcessLauncher_ExitCode(t *testing.T) {
	requireShell(t)
	l := NewProcessLauncher()

	h, err := l.Start(context.Background(), shellSpec("ok", "exit 0"))
	require.NoError(t, err)
	waitDone(t, h)
	code, err := h.ExitStatus()
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ok", h.Resource())
	assert.NotEmpty(t, h.ID())

	h, err = l.Start(context.Background(), shellSpec("bad", "exit 3"))
	require.NoError(t, err)
	waitDone(t, h)
	code, err = h.ExitStatus()
	assert.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestProcessLauncher_LogsOutputLines(t *testing.T) {
	requireShell(t)
	hook := test.NewLocal(logger.Logger)
	defer hook.Reset()

	l := NewProcessLauncher()
	h, err := l.Start(context.Background(), shellSpec("chatty", "echo hello; echo world; printf oops >&2"))
	require.NoError(t, err)
	waitDone(t, h)

	find := func(msg string) *logrus.Entry {
		for _, e := range hook.AllEntries() {
			if e.Message == msg && e.Data["resource"] == "chatty" {
				return e
			}
		}
		return nil
	}
	require.Eventually(t, func() bool {
		return find("hello") != nil && find("world") != nil && find("oops") != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, logrus.InfoLevel, find("hello").Level)
	assert.Equal(t, "stdout", find("hello").Data["stream"])
	assert.Equal(t, logrus.WarnLevel, find("oops").Level, "partial last line is flushed on exit")
	assert.Equal(t, "stderr", find("oops").Data["stream"])
}

func TestProcessLauncher_ExitStatusWhileRunning(t *testing.T) {
	requireShell(t)
	l := NewProcessLauncher()
	h, err := l.Start(context.Background(), shellSpec("sleeper", "sleep 5"))
	require.NoError(t, err)
	defer func() { _ = l.Stop(context.Background(), h, 0) }()

	_, err = h.ExitStatus()
	assert.Error(t, err)
}

func TestProcessLauncher_EphemeralPortAndEnv(t *testing.T) {
	requireShell(t)
	l := NewProcessLauncher().WithPortAllocator(func() (int, error) { return 45678, nil })

	spec := shellSpec("web", `test "$PORT" = 45678 && test "$GREETING" = hello`,
		resource.Endpoint{Name: "http", Scheme: "http", Env: "PORT"},
		resource.Endpoint{Name: "admin", Scheme: "http", Port: 9001, TargetPort: 9001},
	)
	spec.Env = []string{"GREETING=hello"}

	h, err := l.Start(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, map[string]resource.Binding{
		"http":  {Scheme: "http", Host: "localhost", Port: 45678},
		"admin": {Scheme: "http", Host: "localhost", Port: 9001},
	}, h.Bindings())

	waitDone(t, h)
	code, _ := h.ExitStatus()
	assert.Equal(t, 0, code, "process should see its port and environment")
}

func TestProcessLauncher_PortAllocationFailure(t *testing.T) {
	l := NewProcessLauncher().WithPortAllocator(func() (int, error) { return 0, fmt.Errorf("no ports") })
	_, err := l.Start(context.Background(), shellSpec("web", "true", resource.Endpoint{Name: "http", Scheme: "http"}))

	var launchErr *errors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "web", launchErr.Resource)
	assert.Contains(t, err.Error(), "no ports")
}

func TestProcessLauncher_CommandNotFound(t *testing.T) {
	l := NewProcessLauncher()
	spec := Spec{Resource: resource.Resource{Name: "api", Kind: resource.KindProcess, Command: "apphost-no-such-binary"}}

	_, err := l.Start(context.Background(), spec)
	var launchErr *errors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, errors.ErrLaunchFailed, errors.GetCode(err))
}

func TestProcessLauncher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProcessLauncher().Start(ctx, shellSpec("api", "true"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessLauncher_StopGraceful(t *testing.T) {
	requireShell(t)
	l := NewProcessLauncher()
	h, err := l.Start(context.Background(), shellSpec("api", "trap 'exit 0' TERM; while true; do sleep 0.05; done"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, l.Stop(context.Background(), h, 2*time.Second))
	code, _ := h.ExitStatus()
	assert.Equal(t, 0, code)
}

func TestProcessLauncher_StopForcesAfterGrace(t *testing.T) {
	requireShell(t)
	l := NewProcessLauncher()
	h, err := l.Start(context.Background(), shellSpec("stubborn", "trap '' TERM; while true; do sleep 0.05; done"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Stop(context.Background(), h, 100*time.Millisecond))
	assert.Less(t, time.Since(start), 4*time.Second)
	code, _ := h.ExitStatus()
	assert.NotEqual(t, 0, code)
}

func TestProcessLauncher_StopExited(t *testing.T) {
	requireShell(t)
	l := NewProcessLauncher()
	h, err := l.Start(context.Background(), shellSpec("done", "true"))
	require.NoError(t, err)
	waitDone(t, h)
	assert.NoError(t, l.Stop(context.Background(), h, time.Second))
}

func TestRegistry_For(t *testing.T) {
	p := NewProcessLauncher()
	r := Registry{resource.KindProcess: p}

	l, err := r.For(resource.KindProcess)
	require.NoError(t, err)
	assert.Same(t, p, l)

	_, err = r.For(resource.KindContainer)
	assert.Error(t, err)
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

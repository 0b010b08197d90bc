package launcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"apphost/internal/errors"
	"apphost/internal/logger"
	"apphost/internal/resource"

	"github.com/sirupsen/logrus"
)

// CommandExecutor builds commands (allows substitution in tests)
type CommandExecutor interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// DefaultCommandExecutor implements CommandExecutor using standard exec
type DefaultCommandExecutor struct{}

func (e *DefaultCommandExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// PortAllocator returns a free local port.
type PortAllocator func() (int, error)

// FreePort asks the OS for an ephemeral TCP port on the loopback interface.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// ProcessLauncher runs resources as local child processes. Output is streamed
// to the logger line by line.
type ProcessLauncher struct {
	executor CommandExecutor
	ports    PortAllocator
}

// NewProcessLauncher creates a process launcher.
func NewProcessLauncher() *ProcessLauncher {
	return &ProcessLauncher{executor: &DefaultCommandExecutor{}, ports: FreePort}
}

// WithExecutor replaces the command executor.
func (l *ProcessLauncher) WithExecutor(e CommandExecutor) *ProcessLauncher {
	l.executor = e
	return l
}

// WithPortAllocator replaces the ephemeral port source.
func (l *ProcessLauncher) WithPortAllocator(p PortAllocator) *ProcessLauncher {
	l.ports = p
	return l
}

type processHandle struct {
	*exit
	name     string
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	bindings map[string]resource.Binding
}

func (h *processHandle) Resource() string { return h.name }

func (h *processHandle) ID() string { return strconv.Itoa(h.cmd.Process.Pid) }

func (h *processHandle) Bindings() map[string]resource.Binding { return copyBindings(h.bindings) }

func (l *ProcessLauncher) Start(ctx context.Context, spec Spec) (Handle, error) {
	res := spec.Resource
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := append(os.Environ(), spec.Env...)
	bindings := make(map[string]resource.Binding, len(res.Endpoints))
	for _, ep := range res.Endpoints {
		port := ep.Port
		if port == 0 {
			port = ep.TargetPort
		}
		if port == 0 {
			p, err := l.ports()
			if err != nil {
				return nil, &errors.LaunchError{Resource: res.Name, Kind: string(res.Kind), Cause: fmt.Errorf("reserve port for %s: %w", ep.Name, err)}
			}
			port = p
			if ep.Env != "" {
				env = append(env, ep.Env+"="+strconv.Itoa(port))
			}
		}
		bindings[ep.Name] = resource.Binding{Scheme: ep.Scheme, Host: resource.DefaultHost, Port: port}
	}

	// The process outlives the launch context; Stop owns its termination.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := l.executor.CommandContext(procCtx, res.Command, spec.Args...)
	cmd.Env = env
	cmd.Dir = res.WorkingDir
	cmd.WaitDelay = 2 * time.Second

	log := logger.ForResource(res.Name)
	stdout := log.WithField("stream", "stdout").WriterLevel(logrus.InfoLevel)
	stderr := log.WithField("stream", "stderr").WriterLevel(logrus.WarnLevel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		stdout.Close()
		stderr.Close()
		return nil, &errors.LaunchError{Resource: res.Name, Kind: string(res.Kind), Cause: err}
	}

	h := &processHandle{exit: newExit(), name: res.Name, cmd: cmd, cancel: cancel, bindings: bindings}
	log.WithFields(logger.Fields{"pid": cmd.Process.Pid, "command": res.Command}).Debug("Process started")

	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		cancel()
		code := cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
		log.WithField("exit_code", code).Debug("Process exited")
		h.finish(code, err)
	}()
	return h, nil
}

func (l *ProcessLauncher) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	ph, ok := h.(*processHandle)
	if !ok {
		return errors.StopFailed(h.Resource(), fmt.Errorf("not a process handle"))
	}
	select {
	case <-ph.Done():
		return nil
	default:
	}

	if err := ph.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		ph.cancel()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-ph.Done():
		return nil
	case <-timer.C:
		logger.ForResource(ph.name).Warn("Grace period expired, killing process")
	case <-ctx.Done():
	}

	ph.cancel()
	select {
	case <-ph.Done():
		return nil
	case <-time.After(5 * time.Second):
		return errors.StopFailed(ph.name, fmt.Errorf("process %s did not exit after kill", ph.ID()))
	}
}

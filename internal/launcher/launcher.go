// Package launcher starts and stops the processes and containers behind
// resources and reports their effective network bindings.
package launcher

import (
	"context"
	"fmt"
	"time"

	"apphost/internal/resource"
)

// Spec is everything a launcher needs to start one resource. Args and Env are
// fully resolved.
type Spec struct {
	RunID    string
	Resource resource.Resource
	Args     []string
	Env      []string
}

// Handle is a started process or container.
type Handle interface {
	// Resource is the name of the resource this handle runs.
	Resource() string
	// ID is the pid or container id.
	ID() string
	// Bindings are the effective endpoint bindings keyed by endpoint name.
	Bindings() map[string]resource.Binding
	// Done is closed when the process or container has exited.
	Done() <-chan struct{}
	// ExitStatus is valid once Done is closed.
	ExitStatus() (int, error)
}

// Launcher starts and stops one kind of resource.
type Launcher interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
	// Stop asks the handle to exit and forces termination after grace.
	Stop(ctx context.Context, h Handle, grace time.Duration) error
}

// Registry maps a resource kind to its launcher.
type Registry map[resource.Kind]Launcher

// For returns the launcher for kind.
func (r Registry) For(kind resource.Kind) (Launcher, error) {
	l, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no launcher registered for kind %q", kind)
	}
	return l, nil
}

// exit is the shared exit bookkeeping of process and container handles.
type exit struct {
	done chan struct{}
	code int
	err  error
}

func newExit() *exit {
	return &exit{done: make(chan struct{})}
}

func (e *exit) finish(code int, err error) {
	e.code = code
	e.err = err
	close(e.done)
}

func (e *exit) Done() <-chan struct{} { return e.done }

func (e *exit) ExitStatus() (int, error) {
	select {
	case <-e.done:
		return e.code, e.err
	default:
		return -1, fmt.Errorf("still running")
	}
}

func copyBindings(in map[string]resource.Binding) map[string]resource.Binding {
	out := make(map[string]resource.Binding, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

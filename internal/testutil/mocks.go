package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apphost/internal/launcher"
	"apphost/internal/resource"

	"github.com/stretchr/testify/mock"
)

// FakeHandle is an in-memory launcher.Handle. It stays running until Exit is
// called.
type FakeHandle struct {
	Spec launcher.Spec

	name     string
	id       string
	bindings map[string]resource.Binding
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	code     int
	err      error
}

// NewFakeHandle creates a running handle.
func NewFakeHandle(name string, bindings map[string]resource.Binding) *FakeHandle {
	return &FakeHandle{
		name:     name,
		id:       "fake-" + name,
		bindings: bindings,
		done:     make(chan struct{}),
	}
}

func (h *FakeHandle) Resource() string { return h.name }

func (h *FakeHandle) ID() string { return h.id }

func (h *FakeHandle) Bindings() map[string]resource.Binding {
	out := make(map[string]resource.Binding, len(h.bindings))
	for k, v := range h.bindings {
		out[k] = v
	}
	return out
}

func (h *FakeHandle) Done() <-chan struct{} { return h.done }

func (h *FakeHandle) ExitStatus() (int, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.code, h.err
	default:
		return -1, fmt.Errorf("still running")
	}
}

// Exit simulates the process exiting. Only the first call has an effect.
func (h *FakeHandle) Exit(code int, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.code, h.err = code, err
		h.mu.Unlock()
		close(h.done)
	})
}

// Exited reports whether Exit has been called.
func (h *FakeHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// FakeLauncher is a launcher.Launcher that starts FakeHandles. Ephemeral
// endpoints are assigned ports from Ports ("resource.endpoint") or from a
// counter starting at 40000.
type FakeLauncher struct {
	// Ports pins the port assigned to an ephemeral endpoint.
	Ports map[string]int
	// StartErr makes Start fail for the named resources.
	StartErr map[string]error
	// BeforeStart runs at the beginning of every Start. A non-nil error fails
	// the launch.
	BeforeStart func(ctx context.Context, spec launcher.Spec) error
	// StopCode is the exit code reported by handles stopped through Stop.
	StopCode int
	// StopDelay holds Stop before the handle exits.
	StopDelay time.Duration

	mu       sync.Mutex
	nextPort int
	started  []string
	stopped  []string
	handles  map[string]*FakeHandle
}

// NewFakeLauncher creates a fake launcher.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{
		Ports:    make(map[string]int),
		StartErr: make(map[string]error),
		StopCode: 143,
		nextPort: 40000,
		handles:  make(map[string]*FakeHandle),
	}
}

func (f *FakeLauncher) Start(ctx context.Context, spec launcher.Spec) (launcher.Handle, error) {
	if f.BeforeStart != nil {
		if err := f.BeforeStart(ctx, spec); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	name := spec.Resource.Name
	f.started = append(f.started, name)
	if err := f.StartErr[name]; err != nil {
		return nil, err
	}

	bindings := make(map[string]resource.Binding, len(spec.Resource.Endpoints))
	for _, ep := range spec.Resource.Endpoints {
		port := ep.Port
		if port == 0 {
			port = f.Ports[name+"."+ep.Name]
		}
		if port == 0 {
			port = f.nextPort
			f.nextPort++
		}
		bindings[ep.Name] = resource.Binding{Scheme: ep.Scheme, Host: resource.DefaultHost, Port: port}
	}
	h := NewFakeHandle(name, bindings)
	h.Spec = spec
	f.handles[name] = h
	return h, nil
}

func (f *FakeLauncher) Stop(ctx context.Context, h launcher.Handle, grace time.Duration) error {
	fh, ok := h.(*FakeHandle)
	if !ok {
		return fmt.Errorf("not a fake handle")
	}
	if f.StopDelay > 0 {
		select {
		case <-time.After(f.StopDelay):
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.stopped = append(f.stopped, fh.name)
	code := f.StopCode
	f.mu.Unlock()
	fh.Exit(code, nil)
	return nil
}

// Started returns the resources passed to Start, in call order.
func (f *FakeLauncher) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// Stopped returns the resources passed to Stop, in call order.
func (f *FakeLauncher) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

// Handle returns the handle started for name.
func (f *FakeLauncher) Handle(name string) *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[name]
}

// MockProber is a testify mock of readiness.Prober.
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

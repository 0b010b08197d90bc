package launcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"apphost/internal/errors"
	"apphost/internal/lazy"
	"apphost/internal/resource"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker records calls and returns configured responses.
type fakeDocker struct {
	client.APIClient

	mu        sync.Mutex
	calls     []string
	createCfg *container.Config
	hostCfg   *container.HostConfig
	name      string
	stopOpts  container.StopOptions

	createErr  error
	startErr   error
	inspect    container.InspectResponse
	inspectErr error
	exit       chan container.WaitResponse
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{exit: make(chan container.WaitResponse, 1)}
}

func (f *fakeDocker) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDocker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.record("Create")
	f.createCfg, f.hostCfg, f.name = cfg, host, name
	return container.CreateResponse{ID: "c0ffee"}, f.createErr
}

func (f *fakeDocker) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	f.record("Start")
	return f.startErr
}

func (f *fakeDocker) ContainerInspect(_ context.Context, _ string) (container.InspectResponse, error) {
	f.record("Inspect")
	return f.inspect, f.inspectErr
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return f.exit, errCh
}

func (f *fakeDocker) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, _ string, opts container.StopOptions) error {
	f.record("Stop")
	f.stopOpts = opts
	f.exit <- container.WaitResponse{StatusCode: 143}
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, _ string, _ container.RemoveOptions) error {
	f.record("Remove")
	return nil
}

func inspectWithPort(containerPort, hostPort string) container.InspectResponse {
	var info container.InspectResponse
	info.NetworkSettings = &container.NetworkSettings{}
	info.NetworkSettings.Ports = nat.PortMap{
		nat.Port(containerPort): []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}},
	}
	return info
}

func proxySpec() Spec {
	return Spec{
		RunID: "0123456789abcdef",
		Resource: resource.Resource{
			Name:  "devproxy",
			Kind:  resource.KindContainer,
			Image: "ghcr.io/dotnet/dev-proxy:latest",
			Endpoints: []resource.Endpoint{
				{Name: "http", Scheme: "http", TargetPort: 8000, Env: "PROXY_PORT"},
			},
			Mounts: []resource.Mount{{Source: "/tmp/devproxy", Target: "/config", ReadOnly: true}},
		},
		Args: []string{"--urls-to-watch", "https://localhost:7001/*"},
		Env:  []string{"A=1"},
	}
}

func TestContainerLauncher_StartPublishesBindings(t *testing.T) {
	fake := newFakeDocker()
	fake.inspect = inspectWithPort("8000/tcp", "49153")
	l := NewContainerLauncher(lazy.Of[client.APIClient](fake))

	h, err := l.Start(context.Background(), proxySpec())
	require.NoError(t, err)

	assert.Equal(t, []string{"Create", "Start", "Inspect"}, fake.Calls())
	assert.Equal(t, "apphost-devproxy-01234567", fake.name)
	assert.Equal(t, "ghcr.io/dotnet/dev-proxy:latest", fake.createCfg.Image)
	assert.Equal(t, []string{"--urls-to-watch", "https://localhost:7001/*"}, []string(fake.createCfg.Cmd))
	assert.Equal(t, []string{"A=1", "PROXY_PORT=8000"}, fake.createCfg.Env)
	assert.Equal(t, "devproxy", fake.createCfg.Labels[LabelResource])
	assert.Contains(t, fake.createCfg.ExposedPorts, nat.Port("8000/tcp"))
	assert.Equal(t, "", fake.hostCfg.PortBindings[nat.Port("8000/tcp")][0].HostPort)
	require.Len(t, fake.hostCfg.Mounts, 1)
	assert.Equal(t, "/config", fake.hostCfg.Mounts[0].Target)
	assert.True(t, fake.hostCfg.Mounts[0].ReadOnly)

	assert.Equal(t, "c0ffee", h.ID())
	assert.Equal(t, map[string]resource.Binding{
		"http": {Scheme: "http", Host: "localhost", Port: 49153},
	}, h.Bindings())

	require.NoError(t, l.Stop(context.Background(), h, 3*time.Second))
	require.NotNil(t, fake.stopOpts.Timeout)
	assert.Equal(t, 3, *fake.stopOpts.Timeout)
	assert.Equal(t, []string{"Create", "Start", "Inspect", "Stop", "Remove"}, fake.Calls())

	code, _ := h.ExitStatus()
	assert.Equal(t, 143, code)
}

func TestContainerLauncher_StaticHostPort(t *testing.T) {
	fake := newFakeDocker()
	fake.inspect = inspectWithPort("8000/tcp", "8080")
	l := NewContainerLauncher(lazy.Of[client.APIClient](fake))

	spec := proxySpec()
	spec.Resource.Endpoints[0].Port = 8080
	h, err := l.Start(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "8080", fake.hostCfg.PortBindings[nat.Port("8000/tcp")][0].HostPort)
	assert.Equal(t, 8080, h.Bindings()["http"].Port)
}

func TestContainerLauncher_ExitIsObserved(t *testing.T) {
	fake := newFakeDocker()
	fake.inspect = inspectWithPort("8000/tcp", "49153")
	l := NewContainerLauncher(lazy.Of[client.APIClient](fake))

	h, err := l.Start(context.Background(), proxySpec())
	require.NoError(t, err)
	fake.exit <- container.WaitResponse{StatusCode: 1, Error: &container.WaitExitError{Message: "oom"}}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("exit not observed")
	}
	code, err := h.ExitStatus()
	assert.Equal(t, 1, code)
	assert.EqualError(t, err, "oom")
}

func TestContainerLauncher_ImageMissing(t *testing.T) {
	fake := newFakeDocker()
	fake.createErr = fmt.Errorf("no such image: %w", errdefs.ErrNotFound)
	l := NewContainerLauncher(lazy.Of[client.APIClient](fake))

	_, err := l.Start(context.Background(), proxySpec())
	var launchErr *errors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Contains(t, err.Error(), "not available locally")
	assert.Equal(t, []string{"Create"}, fake.Calls())
}

func TestContainerLauncher_StartFailureRemovesContainer(t *testing.T) {
	fake := newFakeDocker()
	fake.startErr = fmt.Errorf("port is already allocated")
	l := NewContainerLauncher(lazy.Of[client.APIClient](fake))

	_, err := l.Start(context.Background(), proxySpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Equal(t, []string{"Create", "Start", "Remove"}, fake.Calls())
}

func TestContainerLauncher_UnpublishedPort(t *testing.T) {
	fake := newFakeDocker()
	fake.inspect = inspectWithPort("9999/tcp", "1")
	l := NewContainerLauncher(lazy.Of[client.APIClient](fake))

	_, err := l.Start(context.Background(), proxySpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was not published")
	assert.Equal(t, []string{"Create", "Start", "Inspect", "Remove"}, fake.Calls())
}

func TestContainerLauncher_DockerUnavailable(t *testing.T) {
	l := NewContainerLauncher(lazy.New(func(ctx context.Context) (client.APIClient, error) {
		return nil, fmt.Errorf("cannot connect to the Docker daemon")
	}))

	_, err := l.Start(context.Background(), proxySpec())
	var launchErr *errors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "container", launchErr.Kind)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "apphost-web", ContainerName("", "web"))
	assert.Equal(t, "apphost-web-abc", ContainerName("abc", "web"))
}

func TestContainerLauncher_CloseWithoutClient(t *testing.T) {
	dialed := false
	l := NewContainerLauncher(lazy.New(func(ctx context.Context) (client.APIClient, error) {
		dialed = true
		return nil, fmt.Errorf("unreachable")
	}))
	assert.NoError(t, l.Close())
	assert.False(t, dialed, "Close must not dial docker")
}

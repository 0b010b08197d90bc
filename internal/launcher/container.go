package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"apphost/internal/errors"
	"apphost/internal/lazy"
	"apphost/internal/logger"
	"apphost/internal/resource"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

// Container labels.
const (
	LabelRun      = "apphost.run"
	LabelResource = "apphost.resource"
)

// NewDockerClient connects to the Docker Engine configured in the environment.
func NewDockerClient(ctx context.Context) (client.APIClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// ContainerLauncher runs resources as Docker containers. Images must already
// be present locally.
type ContainerLauncher struct {
	docker *lazy.Lazy[client.APIClient]
}

// NewContainerLauncher creates a launcher that dials Docker on first use.
func NewContainerLauncher(docker *lazy.Lazy[client.APIClient]) *ContainerLauncher {
	return &ContainerLauncher{docker: docker}
}

type containerHandle struct {
	*exit
	name     string
	id       string
	bindings map[string]resource.Binding
	cancel   context.CancelFunc
}

func (h *containerHandle) Resource() string { return h.name }

func (h *containerHandle) ID() string { return h.id }

func (h *containerHandle) Bindings() map[string]resource.Binding { return copyBindings(h.bindings) }

// ContainerName is the Docker container name used for a resource in a run.
func ContainerName(runID, resourceName string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		return "apphost-" + resourceName
	}
	return "apphost-" + resourceName + "-" + short
}

func containerPort(ep resource.Endpoint) nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", ep.TargetPort))
}

func (l *ContainerLauncher) Start(ctx context.Context, spec Spec) (Handle, error) {
	res := spec.Resource
	launchErr := func(err error) error {
		return &errors.LaunchError{Resource: res.Name, Kind: string(res.Kind), Cause: err}
	}

	docker, err := l.docker.Get(ctx)
	if err != nil {
		return nil, launchErr(err)
	}

	env := append([]string(nil), spec.Env...)
	exposed := make(nat.PortSet, len(res.Endpoints))
	portBindings := make(nat.PortMap, len(res.Endpoints))
	for _, ep := range res.Endpoints {
		port := containerPort(ep)
		exposed[port] = struct{}{}
		hostPort := ""
		if ep.Port != 0 {
			hostPort = strconv.Itoa(ep.Port)
		}
		portBindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}}
		if ep.Env != "" {
			env = append(env, ep.Env+"="+strconv.Itoa(ep.TargetPort))
		}
	}

	mounts := make([]mount.Mount, 0, len(res.Mounts))
	for _, m := range res.Mounts {
		source, err := filepath.Abs(m.Source)
		if err != nil {
			return nil, launchErr(fmt.Errorf("resolve mount source %s: %w", m.Source, err))
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	containerCfg := &container.Config{
		Image:        res.Image,
		Cmd:          spec.Args,
		Env:          env,
		ExposedPorts: exposed,
		Labels: map[string]string{
			LabelRun:      spec.RunID,
			LabelResource: res.Name,
		},
	}
	if res.WorkingDir != "" {
		containerCfg.WorkingDir = res.WorkingDir
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		Mounts:       mounts,
	}

	name := ContainerName(spec.RunID, res.Name)
	created, err := docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, (*ocispec.Platform)(nil), name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, launchErr(fmt.Errorf("image %s is not available locally: %w", res.Image, err))
		}
		return nil, launchErr(fmt.Errorf("create container: %w", err))
	}

	cleanup := func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = docker.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}

	if err := docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		cleanup()
		return nil, launchErr(fmt.Errorf("start container: %w", err))
	}

	info, err := docker.ContainerInspect(ctx, created.ID)
	if err != nil {
		cleanup()
		return nil, launchErr(fmt.Errorf("inspect container: %w", err))
	}
	bindings, err := publishedBindings(res, info)
	if err != nil {
		cleanup()
		return nil, launchErr(err)
	}

	// Log streaming and exit watching outlive the launch context.
	watchCtx, cancel := context.WithCancel(context.Background())
	h := &containerHandle{exit: newExit(), name: res.Name, id: created.ID, bindings: bindings, cancel: cancel}
	log := logger.ForResource(res.Name).WithField("container", name)
	log.WithField("image", res.Image).Debug("Container started")

	go l.streamLogs(watchCtx, docker, created.ID, log)
	go func() {
		waitCh, errCh := docker.ContainerWait(watchCtx, created.ID, container.WaitConditionNotRunning)
		select {
		case resp := <-waitCh:
			var exitErr error
			if resp.Error != nil && resp.Error.Message != "" {
				exitErr = fmt.Errorf("%s", resp.Error.Message)
			}
			log.WithField("exit_code", resp.StatusCode).Debug("Container exited")
			h.finish(int(resp.StatusCode), exitErr)
		case err := <-errCh:
			h.finish(-1, err)
		}
	}()
	return h, nil
}

func publishedBindings(res resource.Resource, info container.InspectResponse) (map[string]resource.Binding, error) {
	bindings := make(map[string]resource.Binding, len(res.Endpoints))
	if len(res.Endpoints) == 0 {
		return bindings, nil
	}
	if info.NetworkSettings == nil {
		return nil, fmt.Errorf("container reported no network settings")
	}
	for _, ep := range res.Endpoints {
		published := info.NetworkSettings.Ports[containerPort(ep)]
		if len(published) == 0 {
			return nil, fmt.Errorf("port %d of endpoint %s was not published", ep.TargetPort, ep.Name)
		}
		port, err := strconv.Atoi(published[0].HostPort)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: invalid host port %q", ep.Name, published[0].HostPort)
		}
		bindings[ep.Name] = resource.Binding{Scheme: ep.Scheme, Host: resource.DefaultHost, Port: port}
	}
	return bindings, nil
}

func (l *ContainerLauncher) streamLogs(ctx context.Context, docker client.APIClient, id string, log *logrus.Entry) {
	rc, err := docker.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		log.WithError(err).Debug("Container logs unavailable")
		return
	}
	defer rc.Close()

	stdout := log.WithField("stream", "stdout").WriterLevel(logrus.InfoLevel)
	stderr := log.WithField("stream", "stderr").WriterLevel(logrus.WarnLevel)
	defer stdout.Close()
	defer stderr.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		log.WithError(err).Debug("Container log stream ended")
	}
}

func (l *ContainerLauncher) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	ch, ok := h.(*containerHandle)
	if !ok {
		return errors.StopFailed(h.Resource(), fmt.Errorf("not a container handle"))
	}
	docker, err := l.docker.Get(ctx)
	if err != nil {
		return errors.StopFailed(ch.name, err)
	}
	defer ch.cancel()

	secs := int(grace.Round(time.Second) / time.Second)
	if err := docker.ContainerStop(ctx, ch.id, container.StopOptions{Timeout: &secs}); err != nil && !errdefs.IsNotFound(err) {
		return errors.StopFailed(ch.name, err)
	}
	select {
	case <-ch.Done():
	case <-ctx.Done():
	}
	if err := docker.ContainerRemove(ctx, ch.id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return errors.StopFailed(ch.name, err)
	}
	return nil
}

// Close releases the Docker client if one was created.
func (l *ContainerLauncher) Close() error {
	if docker, ok := l.docker.IfLoaded(); ok {
		return docker.Close()
	}
	return nil
}

// Package orchestrator runs one application: it builds the dependency graph,
// starts every resource through the scheduler, hands Ready resources to the
// supervisor and shuts everything down in reverse order.
package orchestrator

import (
	"context"
	"io"
	"time"

	"apphost/internal/constants"
	"apphost/internal/errors"
	"apphost/internal/events"
	"apphost/internal/graph"
	"apphost/internal/launcher"
	"apphost/internal/lazy"
	"apphost/internal/logger"
	"apphost/internal/probe"
	"apphost/internal/readiness"
	"apphost/internal/resolver"
	"apphost/internal/resource"
	"apphost/internal/runstate"
	"apphost/internal/scheduler"
	"apphost/internal/supervisor"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a run. Zero values select the defaults.
type Options struct {
	RunID         string
	Launchers     launcher.Registry
	Probers       readiness.Probers
	Cascade       supervisor.Cascade
	GracePeriod   time.Duration
	AbortTimeout  time.Duration
	StopOnFailure bool
	Observers     []runstate.Observer
	Tracer        trace.Tracer
	// OnStarted is called by Run once startup has finished, with the
	// startup error if any, before Run decides whether to keep running.
	OnStarted func(startErr error)
}

// DefaultLaunchers returns the process launcher and a container launcher that
// connects to Docker on first use.
func DefaultLaunchers() launcher.Registry {
	return launcher.Registry{
		resource.KindProcess:   launcher.NewProcessLauncher(),
		resource.KindContainer: launcher.NewContainerLauncher(lazy.New(launcher.NewDockerClient)),
	}
}

// Orchestrator owns every collaborator of one run.
type Orchestrator struct {
	runID      string
	opts       Options
	graph      *graph.Graph
	resolver   *resolver.Resolver
	tracker    *runstate.Tracker
	scheduler  *scheduler.Scheduler
	supervisor *supervisor.Supervisor
}

// New validates resources and prepares a run. Build errors are returned
// before anything is started.
func New(resources []resource.Resource, opts Options) (*Orchestrator, error) {
	g, err := graph.Build(resources)
	if err != nil {
		return nil, err
	}

	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Launchers == nil {
		opts.Launchers = DefaultLaunchers()
	}
	if opts.Probers == nil {
		opts.Probers = probe.Defaults()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = constants.DefaultGracePeriod
	}

	var trackerOpts []runstate.Option
	if len(opts.Observers) > 0 {
		trackerOpts = append(trackerOpts, runstate.WithObserver(events.Multi(opts.Observers)))
	}

	o := &Orchestrator{
		runID:    opts.RunID,
		opts:     opts,
		graph:    g,
		resolver: resolver.New(g),
		tracker:  runstate.NewTracker(g.Names(), trackerOpts...),
	}
	o.supervisor = supervisor.New(supervisor.Config{
		Graph:       g,
		Tracker:     o.tracker,
		Launchers:   opts.Launchers,
		Cascade:     opts.Cascade,
		GracePeriod: opts.GracePeriod,
	})
	o.scheduler = scheduler.New(scheduler.Config{
		RunID:         opts.RunID,
		Graph:         g,
		Resolver:      o.resolver,
		Tracker:       o.tracker,
		Launchers:     opts.Launchers,
		Probers:       opts.Probers,
		AbortTimeout:  opts.AbortTimeout,
		StopOnFailure: opts.StopOnFailure,
		OnReady:       o.adopt,
		Tracer:        opts.Tracer,
	})
	return o, nil
}

func (o *Orchestrator) adopt(name string, h launcher.Handle) {
	if err := o.supervisor.Adopt(name, h); err != nil {
		logger.ForResource(name).WithError(err).Warn("Could not supervise resource, stopping it")
		if l, lerr := o.opts.Launchers.For(o.kind(name)); lerr == nil {
			ctx, cancel := context.WithTimeout(context.Background(), o.opts.GracePeriod+5*time.Second)
			defer cancel()
			_ = l.Stop(ctx, h, o.opts.GracePeriod)
		}
		if terr := o.tracker.Transition(name, runstate.Stopped, nil); terr != nil {
			logger.ForResource(name).WithError(terr).Debug("Transition skipped")
		}
	}
}

func (o *Orchestrator) kind(name string) resource.Kind {
	res, _ := o.graph.Resource(name)
	return res.Kind
}

// RunID identifies this run.
func (o *Orchestrator) RunID() string { return o.runID }

// Graph returns the validated dependency graph.
func (o *Orchestrator) Graph() *graph.Graph { return o.graph }

// Tracker returns the run state of every resource.
func (o *Orchestrator) Tracker() *runstate.Tracker { return o.tracker }

// Snapshot returns the current record of every resource.
func (o *Orchestrator) Snapshot() []runstate.Record { return o.tracker.Snapshot() }

// Bindings returns the endpoints of name that are resolved so far.
func (o *Orchestrator) Bindings(name string) map[string]resource.Binding {
	return o.resolver.Resolved(name)
}

// Running returns the supervised resources that are still running.
func (o *Orchestrator) Running() []string { return o.supervisor.Running() }

// Start launches every resource and returns once each is Ready or has
// failed. It returns a *errors.StartupFailure when any resource failed.
// With the dependents cascade, Ready resources that reference a failed
// resource are stopped and recorded as Failed before Start returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	logger.WithFields(logger.Fields{"run_id": o.runID, "resources": o.graph.Len()}).Info("Starting application")
	err := o.scheduler.Run(ctx)

	var failure *errors.StartupFailure
	if errors.As(err, &failure) && len(failure.Affected) > 0 && o.opts.Cascade == supervisor.CascadeDependents {
		o.failAffected(failure.Affected)
	}
	return err
}

func (o *Orchestrator) failAffected(affected []string) {
	causes := make(map[string]error, len(affected))
	for name, root := range o.scheduler.Affected() {
		causes[name] = &errors.DependencyFailedError{Resource: name, Root: root}
	}
	logger.WithField("affected", affected).Warn("Stopping dependents of failed resources")

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.GracePeriod+10*time.Second)
	defer cancel()
	if err := o.supervisor.Fail(ctx, causes); err != nil {
		logger.WithError(err).Warn("Failed to stop dependents")
	}
}

// Run starts the application and keeps it running until ctx is cancelled,
// then shuts it down. A startup failure is returned when nothing is left
// running or StopOnFailure is set; otherwise it is logged and the healthy
// part keeps running.
func (o *Orchestrator) Run(ctx context.Context) error {
	startErr := o.Start(ctx)
	if o.opts.OnStarted != nil {
		o.opts.OnStarted(startErr)
	}

	var failure *errors.StartupFailure
	switch {
	case startErr == nil:
		logger.WithField("run_id", o.runID).Info("All resources ready")
	case errors.As(startErr, &failure) && len(o.Running()) > 0 && !o.opts.StopOnFailure:
		logger.WithError(startErr).WithField("running", o.Running()).Warn("Startup partially failed")
	default:
		if err := o.shutdown(); err != nil {
			logger.WithError(err).Warn("Shutdown incomplete")
		}
		return startErr
	}

	<-ctx.Done()
	return o.shutdown()
}

func (o *Orchestrator) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.GracePeriod+10*time.Second)
	defer cancel()
	return o.Shutdown(ctx)
}

// Shutdown stops every running resource in reverse dependency order, fails
// unresolved endpoints and releases launcher resources.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	logger.WithField("run_id", o.runID).Info("Shutting down")
	err := o.supervisor.Shutdown(ctx)
	o.resolver.Close()
	for _, l := range o.opts.Launchers {
		if closer, ok := l.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				logger.WithError(cerr).Debug("Failed to close launcher")
			}
		}
	}
	return err
}

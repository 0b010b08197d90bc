// Package scheduler starts the resources of a graph in dependency order.
//
// Every resource runs on its own goroutine. A resource waits for its WaitFor
// producers to become Ready, resolves the values it references, and only then
// transitions to Starting and is launched. A launch error or a failed
// readiness gate fails the resource and every not-yet-started resource that
// transitively depends on it.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"apphost/internal/constants"
	"apphost/internal/errors"
	"apphost/internal/graph"
	"apphost/internal/launcher"
	"apphost/internal/logger"
	"apphost/internal/readiness"
	"apphost/internal/resolver"
	"apphost/internal/resource"
	"apphost/internal/runstate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config wires a scheduler to the collaborators of one run.
type Config struct {
	RunID     string
	Graph     *graph.Graph
	Resolver  *resolver.Resolver
	Tracker   *runstate.Tracker
	Launchers launcher.Registry
	Probers   readiness.Probers

	// AbortTimeout bounds how long a resource that must be torn down during
	// startup is given before it is killed.
	AbortTimeout time.Duration
	// StopOnFailure cancels every not-yet-started resource, not only the
	// dependents, when a startup failure occurs.
	StopOnFailure bool
	// OnReady receives the handle of each resource that reached Ready.
	OnReady func(name string, h launcher.Handle)
	Tracer  trace.Tracer
}

// Scheduler drives one startup.
type Scheduler struct {
	cfg    Config
	tracer trace.Tracer
	cancel context.CancelFunc

	mu        sync.Mutex
	roots     map[string]error
	rootOrder []string
	blocked   map[string]string
	handles   map[string]launcher.Handle
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = constants.DefaultAbortTimeout
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("apphost/scheduler")
	}
	return &Scheduler{
		cfg:     cfg,
		tracer:  tracer,
		roots:   make(map[string]error),
		blocked: make(map[string]string),
		handles: make(map[string]launcher.Handle),
	}
}

// Run starts every resource and returns once each has reached Ready or a
// terminal state. It returns nil when all are Ready, a *errors.StartupFailure
// when any failed, and ctx.Err() when cancelled without failures.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	var wg sync.WaitGroup
	for _, name := range s.cfg.Graph.TopoOrder() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.start(ctx, name)
		}(name)
	}
	wg.Wait()

	if failure := s.failure(); failure != nil {
		return failure
	}
	if err := ctx.Err(); err != nil {
		for _, name := range s.cfg.Graph.TopoOrder() {
			if s.cfg.Tracker.State(name) != runstate.Ready {
				return err
			}
		}
	}
	return nil
}

// Handles returns the handles of every resource that reached Ready.
func (s *Scheduler) Handles() map[string]launcher.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]launcher.Handle, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out
}

func (s *Scheduler) start(ctx context.Context, name string) {
	res, _ := s.cfg.Graph.Resource(name)
	log := logger.ForResource(name)

	ctx, span := s.tracer.Start(ctx, "resource.start", trace.WithAttributes(
		attribute.String("apphost.run_id", s.cfg.RunID),
		attribute.String("apphost.resource", name),
		attribute.String("apphost.kind", string(res.Kind)),
	))
	defer span.End()

	for _, producer := range s.cfg.Graph.WaitForProducers(name) {
		if err := s.cfg.Tracker.WaitReady(ctx, producer); err != nil {
			if ctx.Err() != nil {
				s.stopPending(name)
			} else {
				s.block(name, s.rootOf(producer))
			}
			span.SetStatus(codes.Error, "dependency not ready")
			return
		}
	}
	span.AddEvent("dependencies ready")

	spec, err := s.resolve(ctx, res)
	if err != nil {
		var unresolved *errors.EndpointUnresolvedError
		switch {
		case ctx.Err() != nil:
			s.stopPending(name)
		case errors.As(err, &unresolved):
			s.block(name, s.rootOf(unresolved.Producer))
		default:
			s.fail(name, err)
		}
		span.SetStatus(codes.Error, "references unresolved")
		return
	}

	if !s.cfg.Tracker.CompareAndTransition(name, runstate.Pending, runstate.Starting, nil) {
		// failed by an upstream resource or stopped while resolving
		return
	}

	l, err := s.cfg.Launchers.For(res.Kind)
	if err != nil {
		s.fail(name, &errors.LaunchError{Resource: name, Kind: string(res.Kind), Cause: err})
		recordSpanError(span, err)
		return
	}

	h, err := l.Start(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			s.transition(name, runstate.Stopped, nil)
			return
		}
		var coded errors.Coded
		if !errors.As(err, &coded) {
			err = &errors.LaunchError{Resource: name, Kind: string(res.Kind), Cause: err}
		}
		s.fail(name, err)
		recordSpanError(span, err)
		return
	}
	span.AddEvent("launched", trace.WithAttributes(attribute.String("apphost.handle", h.ID())))

	s.transition(name, runstate.Running, nil)
	if err := s.cfg.Resolver.Bind(name, h.Bindings()); err != nil {
		s.abort(l, h)
		s.fail(name, err)
		recordSpanError(span, err)
		return
	}

	if err := s.gate(ctx, res, h); err != nil {
		s.abort(l, h)
		if ctx.Err() != nil {
			s.transition(name, runstate.Stopped, nil)
			return
		}
		s.fail(name, err)
		recordSpanError(span, err)
		return
	}

	s.mu.Lock()
	s.handles[name] = h
	s.mu.Unlock()
	s.transition(name, runstate.Ready, nil)
	log.WithField("id", h.ID()).Info("Resource ready")
	span.AddEvent("ready")

	if s.cfg.OnReady != nil {
		s.cfg.OnReady(name, h)
	}
}

func (s *Scheduler) resolve(ctx context.Context, res resource.Resource) (launcher.Spec, error) {
	env, err := s.cfg.Resolver.Environment(ctx, res)
	if err != nil {
		return launcher.Spec{}, err
	}
	args, err := s.cfg.Resolver.ExpandAll(ctx, res.Name, res.Args)
	if err != nil {
		return launcher.Spec{}, err
	}
	return launcher.Spec{RunID: s.cfg.RunID, Resource: res, Args: args, Env: env}, nil
}

// gate runs the readiness gate, failing early if the handle exits first.
func (s *Scheduler) gate(ctx context.Context, res resource.Resource, h launcher.Handle) error {
	if !res.HasHealthCheck() {
		return nil
	}

	binding, ok := h.Bindings()[res.Health.Endpoint]
	if !ok {
		return &errors.HealthCheckError{Resource: res.Name, Kind: errors.HealthUnhealthy, Cause: fmt.Errorf("endpoint %s has no binding", res.Health.Endpoint)}
	}
	prober, err := s.cfg.Probers.For(binding.Scheme)
	if err != nil {
		return &errors.HealthCheckError{Resource: res.Name, Kind: errors.HealthUnhealthy, Cause: err}
	}

	gateCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exited := make(chan struct{})
	go func() {
		select {
		case <-h.Done():
			close(exited)
			cancel()
		case <-gateCtx.Done():
		}
	}()

	g := readiness.NewGate(res.Name, res.Health, readiness.URL(binding, res.Health.Path), prober)
	err = g.Run(gateCtx)
	select {
	case <-exited:
		code, _ := h.ExitStatus()
		return &errors.LaunchError{Resource: res.Name, Kind: string(res.Kind), Cause: fmt.Errorf("exited with code %d before becoming ready", code)}
	default:
	}
	return err
}

func (s *Scheduler) abort(l launcher.Launcher, h launcher.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AbortTimeout+5*time.Second)
	defer cancel()
	if err := l.Stop(ctx, h, s.cfg.AbortTimeout); err != nil {
		logger.ForResource(h.Resource()).WithError(err).Warn("Failed to stop resource after startup error")
	}
}

func (s *Scheduler) transition(name string, to runstate.State, cause error) {
	if err := s.cfg.Tracker.Transition(name, to, cause); err != nil {
		logger.ForResource(name).WithError(err).Debug("Transition skipped")
	}
}

func (s *Scheduler) stopPending(name string) {
	s.cfg.Tracker.CompareAndTransition(name, runstate.Pending, runstate.Stopped, nil)
}

// fail records name as a root failure and blocks its dependents.
func (s *Scheduler) fail(name string, cause error) {
	s.mu.Lock()
	if _, ok := s.roots[name]; !ok {
		s.roots[name] = cause
		s.rootOrder = append(s.rootOrder, name)
	}
	s.mu.Unlock()

	logger.ForResource(name).WithError(cause).Error("Resource failed to start")
	s.transition(name, runstate.Failed, cause)
	s.cfg.Resolver.Fail(name, cause)

	for _, dependent := range s.cfg.Graph.Dependents(name) {
		s.block(dependent, name)
	}
	if s.cfg.StopOnFailure && s.cancel != nil {
		s.cancel()
	}
}

// block fails a resource that has not started because root failed.
func (s *Scheduler) block(name, root string) {
	cause := &errors.BlockedError{Resource: name, Root: root}
	s.mu.Lock()
	ok := s.cfg.Tracker.CompareAndTransition(name, runstate.Pending, runstate.Failed, cause)
	if ok {
		s.blocked[name] = root
	}
	s.mu.Unlock()
	if ok {
		s.cfg.Resolver.Fail(name, cause)
		logger.ForResource(name).WithField("root", root).Warn("Resource blocked by failed dependency")
	}
}

// rootOf finds the root failure behind a failed producer.
func (s *Scheduler) rootOf(producer string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[producer]; ok {
		return producer
	}
	if root, ok := s.blocked[producer]; ok {
		return root
	}
	// ended outside the scheduler, e.g. exited after Ready
	rec, _ := s.cfg.Tracker.Get(producer)
	cause := rec.Err
	if cause == nil {
		cause = fmt.Errorf("resource %q is %s", producer, rec.State)
	}
	s.roots[producer] = cause
	s.rootOrder = append(s.rootOrder, producer)
	return producer
}

func (s *Scheduler) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rootOrder) == 0 {
		return nil
	}

	root := s.rootOrder[0]
	roots := make(map[string]error, len(s.roots))
	for k, v := range s.roots {
		roots[k] = v
	}
	blocked := make([]string, 0, len(s.blocked))
	for name := range s.blocked {
		blocked = append(blocked, name)
	}
	order := make(map[string]int)
	for i, name := range s.cfg.Graph.TopoOrder() {
		order[name] = i
	}
	sort.Slice(blocked, func(i, j int) bool { return order[blocked[i]] < order[blocked[j]] })

	affected := make([]string, 0)
	for name := range s.affectedLocked() {
		affected = append(affected, name)
	}
	sort.Slice(affected, func(i, j int) bool { return order[affected[i]] < order[affected[j]] })

	return &errors.StartupFailure{Root: root, Cause: s.roots[root], Roots: roots, Blocked: blocked, Affected: affected}
}

// Affected maps each dependent that reached Ready although a transitive
// dependency failed to the first failed dependency it sits behind. Only
// reference edges reach such dependents; WaitFor edges block them.
func (s *Scheduler) Affected() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.affectedLocked()
}

func (s *Scheduler) affectedLocked() map[string]string {
	out := make(map[string]string)
	for _, root := range s.rootOrder {
		for _, name := range s.cfg.Graph.Dependents(root) {
			if _, ok := out[name]; ok {
				continue
			}
			if _, ok := s.roots[name]; ok {
				continue
			}
			if _, ok := s.blocked[name]; ok {
				continue
			}
			if s.cfg.Tracker.State(name) == runstate.Ready {
				out[name] = root
			}
		}
	}
	return out
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

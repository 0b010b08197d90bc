// Package supervisor owns resources after they become Ready: it records
// unexpected exits, optionally stops the dependents of a resource that went
// away, and tears everything down in reverse dependency order.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apphost/internal/constants"
	"apphost/internal/errors"
	"apphost/internal/graph"
	"apphost/internal/launcher"
	"apphost/internal/logger"
	"apphost/internal/runstate"

	"golang.org/x/sync/errgroup"
)

// Cascade selects what happens to dependents when a Ready resource exits.
type Cascade string

const (
	// CascadeNone leaves dependents running.
	CascadeNone Cascade = "none"
	// CascadeDependents stops every running transitive dependent.
	CascadeDependents Cascade = "dependents"
)

// ParseCascade validates a cascade policy name. The empty string is CascadeNone.
func ParseCascade(s string) (Cascade, error) {
	switch Cascade(s) {
	case "", CascadeNone:
		return CascadeNone, nil
	case CascadeDependents:
		return CascadeDependents, nil
	default:
		return "", errors.ConfigValidationError("cascade", fmt.Sprintf("unknown policy %q (want none or dependents)", s))
	}
}

// Config wires a supervisor to one run.
type Config struct {
	Graph       *graph.Graph
	Tracker     *runstate.Tracker
	Launchers   launcher.Registry
	Cascade     Cascade
	GracePeriod time.Duration
}

type member struct {
	handle   launcher.Handle
	launcher launcher.Launcher
	stopping bool
	// cause, when set before a requested stop, is recorded as Failed.
	cause error
}

// Supervisor watches adopted handles.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	members  map[string]*member
	shutdown bool
	watchers sync.WaitGroup
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = constants.DefaultGracePeriod
	}
	if cfg.Cascade == "" {
		cfg.Cascade = CascadeNone
	}
	return &Supervisor{cfg: cfg, members: make(map[string]*member)}
}

// Adopt takes ownership of the handle of a Ready resource.
func (s *Supervisor) Adopt(name string, h launcher.Handle) error {
	res, ok := s.cfg.Graph.Resource(name)
	if !ok {
		return errors.ResourceNotFound(name)
	}
	l, err := s.cfg.Launchers.For(res.Kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return errors.ShuttingDown()
	}
	if _, exists := s.members[name]; exists {
		return fmt.Errorf("resource %q is already supervised", name)
	}
	m := &member{handle: h, launcher: l}
	s.members[name] = m
	s.watchers.Add(1)
	go s.watch(name, m)
	return nil
}

// Running returns the supervised resources whose handle has not exited, in
// topological order.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, name := range s.cfg.Graph.TopoOrder() {
		m, ok := s.members[name]
		if !ok {
			continue
		}
		select {
		case <-m.handle.Done():
		default:
			out = append(out, name)
		}
	}
	return out
}

func (s *Supervisor) watch(name string, m *member) {
	defer s.watchers.Done()
	<-m.handle.Done()

	s.mu.Lock()
	requested, failCause := m.stopping, m.cause
	s.mu.Unlock()

	log := logger.ForResource(name)
	code, exitErr := m.handle.ExitStatus()
	switch {
	case requested && failCause != nil:
		s.transition(name, runstate.Failed, failCause)
		log.WithError(failCause).Warn("Resource stopped")
		return
	case requested:
		s.transition(name, runstate.Stopped, nil)
		log.WithField("exit_code", code).Info("Resource stopped")
		return
	case code == 0 && exitErr == nil:
		s.transition(name, runstate.Exited, nil)
		log.Info("Resource exited")
	default:
		cause := &errors.ExitError{Resource: name, Code: code, Cause: exitErr}
		s.transition(name, runstate.Failed, cause)
		log.WithField("exit_code", code).Error("Resource exited unexpectedly")
	}

	if s.cfg.Cascade == CascadeDependents {
		dependents := s.cfg.Graph.Dependents(name)
		if len(dependents) == 0 {
			return
		}
		log.WithField("dependents", dependents).Warn("Stopping dependents")
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod+5*time.Second)
		defer cancel()
		if err := s.stopAll(ctx, dependents); err != nil {
			log.WithError(err).Warn("Failed to stop dependents")
		}
	}
}

func (s *Supervisor) transition(name string, to runstate.State, cause error) {
	if err := s.cfg.Tracker.Transition(name, to, cause); err != nil {
		logger.ForResource(name).WithError(err).Debug("Transition skipped")
	}
}

// Stop stops one supervised resource. It is a no-op for resources that are
// not supervised or already stopping.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	m, ok := s.members[name]
	if !ok || m.stopping {
		s.mu.Unlock()
		return nil
	}
	m.stopping = true
	s.mu.Unlock()

	select {
	case <-m.handle.Done():
		return nil
	default:
	}

	logger.ForResource(name).WithField("grace", s.cfg.GracePeriod).Info("Stopping resource")
	if err := m.launcher.Stop(ctx, m.handle, s.cfg.GracePeriod); err != nil {
		return err
	}
	return nil
}

// Fail stops the supervised resources in causes in reverse dependency order
// and records each as Failed with its cause. It returns once every exit has
// been recorded.
func (s *Supervisor) Fail(ctx context.Context, causes map[string]error) error {
	var names []string
	s.mu.Lock()
	for _, name := range s.cfg.Graph.TopoOrder() {
		cause, ok := causes[name]
		if !ok {
			continue
		}
		m, ok := s.members[name]
		if !ok || m.stopping {
			continue
		}
		m.cause = cause
		names = append(names, name)
	}
	s.mu.Unlock()

	err := s.stopAll(ctx, names)
	for _, name := range names {
		if _, werr := s.cfg.Tracker.WaitTerminal(ctx, name); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}

// stopAll stops names so that no resource is stopped before every consumer of
// it in the set has stopped. Unrelated resources stop concurrently.
func (s *Supervisor) stopAll(ctx context.Context, names []string) error {
	done := make(map[string]chan struct{}, len(names))
	for _, name := range names {
		done[name] = make(chan struct{})
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		g.Go(func() error {
			defer close(done[name])
			for _, consumer := range s.cfg.Graph.Consumers(name) {
				ch, inSet := done[consumer]
				if !inSet {
					continue
				}
				select {
				case <-ch:
				case <-ctx.Done():
				}
			}
			if err := s.Stop(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Shutdown stops every supervised resource in reverse dependency order and
// waits for their exits to be recorded. Adopt fails afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	err := s.stopAll(ctx, s.cfg.Graph.TopoOrder())

	recorded := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(recorded)
	}()
	select {
	case <-recorded:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

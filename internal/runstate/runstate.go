// Package runstate tracks the lifecycle state of every resource in a run.
package runstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apphost/internal/errors"
)

// State is the lifecycle state of a resource.
type State string

const (
	Pending  State = "Pending"
	Starting State = "Starting"
	Running  State = "Running"
	Ready    State = "Ready"
	Exited   State = "Exited"
	Failed   State = "Failed"
	Stopped  State = "Stopped"
)

var transitions = map[State][]State{
	Pending:  {Starting, Failed, Stopped},
	Starting: {Running, Failed, Stopped},
	Running:  {Ready, Exited, Failed, Stopped},
	Ready:    {Exited, Failed, Stopped},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Exited || s == Failed || s == Stopped
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Event is delivered to observers for every transition.
type Event struct {
	Resource string    `json:"resource"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Observer receives transition events. It is called while the resource's
// state is locked, so it must not call back into the tracker for the same
// resource.
type Observer interface {
	OnTransition(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnTransition(e Event) { f(e) }

// Record is a point-in-time view of one resource.
type Record struct {
	Name    string       `json:"name"`
	State   State        `json:"state"`
	Since   time.Time    `json:"since"`
	Err     error        `json:"-"`
	Error   string       `json:"error,omitempty"`
	History []Transition `json:"history"`
}

// At returns the time of the first transition into state, if any.
func (r Record) At(state State) (time.Time, bool) {
	for _, t := range r.History {
		if t.To == state {
			return t.At, true
		}
	}
	return time.Time{}, false
}

type entry struct {
	mu      sync.Mutex
	record  Record
	changed chan struct{}
}

// Tracker holds the state of a fixed set of resources. Each resource has its
// own lock; there is no lock over the whole set.
type Tracker struct {
	order    []string
	entries  map[string]*entry
	observer Observer
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver sets the transition sink.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker with every name in Pending.
func NewTracker(names []string, opts ...Option) *Tracker {
	t := &Tracker{
		order:   append([]string(nil), names...),
		entries: make(map[string]*entry, len(names)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	at := t.now()
	for _, name := range names {
		t.entries[name] = &entry{
			record:  Record{Name: name, State: Pending, Since: at},
			changed: make(chan struct{}),
		}
	}
	return t
}

// Transition moves name to the given state. cause is attached to Failed and
// Exited transitions.
func (t *Tracker) Transition(name string, to State, cause error) error {
	e, ok := t.entries[name]
	if !ok {
		return errors.ResourceNotFound(name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return t.apply(e, to, cause)
}

// CompareAndTransition moves name to the given state only when it is
// currently in from. It reports whether the transition happened.
func (t *Tracker) CompareAndTransition(name string, from, to State, cause error) bool {
	e, ok := t.entries[name]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.State != from {
		return false
	}
	return t.apply(e, to, cause) == nil
}

func (t *Tracker) apply(e *entry, to State, cause error) error {
	from := e.record.State
	if !CanTransition(from, to) {
		return errors.InvalidTransition(e.record.Name, string(from), string(to))
	}

	at := t.now()
	tr := Transition{From: from, To: to, At: at}
	if cause != nil {
		tr.Error = cause.Error()
	}
	e.record.State = to
	e.record.Since = at
	e.record.Err = cause
	e.record.Error = tr.Error
	e.record.History = append(e.record.History, tr)

	close(e.changed)
	e.changed = make(chan struct{})

	if t.observer != nil {
		t.observer.OnTransition(Event{Resource: e.record.Name, From: from, To: to, At: at, Error: tr.Error})
	}
	return nil
}

// Get returns the current record of name.
func (t *Tracker) Get(name string) (Record, bool) {
	e, ok := t.entries[name]
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRecord(e.record), true
}

// State returns the current state of name, or "" when unknown.
func (t *Tracker) State(name string) State {
	r, _ := t.Get(name)
	return r.State
}

// Snapshot returns every record in declaration order.
func (t *Tracker) Snapshot() []Record {
	out := make([]Record, 0, len(t.order))
	for _, name := range t.order {
		r, _ := t.Get(name)
		out = append(out, r)
	}
	return out
}

// Wait blocks until cond holds for the state of name or ctx is done.
func (t *Tracker) Wait(ctx context.Context, name string, cond func(State) bool) (State, error) {
	e, ok := t.entries[name]
	if !ok {
		return "", errors.ResourceNotFound(name)
	}
	for {
		e.mu.Lock()
		state, ch := e.record.State, e.changed
		e.mu.Unlock()
		if cond(state) {
			return state, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// WaitReady blocks until name is Ready. It fails as soon as name reaches a
// terminal state instead.
func (t *Tracker) WaitReady(ctx context.Context, name string) error {
	state, err := t.Wait(ctx, name, func(s State) bool { return s == Ready || s.Terminal() })
	if err != nil {
		return err
	}
	if state != Ready {
		return fmt.Errorf("resource %q is %s", name, state)
	}
	return nil
}

// WaitTerminal blocks until name reaches a terminal state.
func (t *Tracker) WaitTerminal(ctx context.Context, name string) (State, error) {
	return t.Wait(ctx, name, State.Terminal)
}

func copyRecord(r Record) Record {
	r.History = append([]Transition(nil), r.History...)
	return r
}

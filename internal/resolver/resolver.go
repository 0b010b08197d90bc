// Package resolver turns endpoint references into concrete URLs. Each
// (resource, endpoint) pair is a promise: it is bound once, or failed once,
// and every waiter observes the same outcome.
package resolver

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"apphost/internal/errors"
	"apphost/internal/graph"
	"apphost/internal/resource"
)

type entry struct {
	done    chan struct{}
	settled bool
	binding resource.Binding
	err     error
}

func (e *entry) settle(b resource.Binding, err error) bool {
	if e.settled {
		return false
	}
	e.settled = true
	e.binding = b
	e.err = err
	close(e.done)
	return true
}

// Resolver holds one promise per declared endpoint.
type Resolver struct {
	graph   *graph.Graph
	mu      sync.Mutex
	entries map[resource.EndpointRef]*entry
}

// New creates a promise for every endpoint in g and binds those whose host
// port is declared statically.
func New(g *graph.Graph) *Resolver {
	r := &Resolver{
		graph:   g,
		entries: make(map[resource.EndpointRef]*entry),
	}
	for _, res := range g.Resources() {
		for _, ep := range res.Endpoints {
			e := &entry{done: make(chan struct{})}
			if ep.Static() {
				e.settle(resource.Binding{Scheme: ep.Scheme, Host: resource.DefaultHost, Port: ep.Port}, nil)
			}
			r.entries[resource.EndpointRef{Resource: res.Name, Endpoint: ep.Name}] = e
		}
	}
	return r
}

// Bind publishes the effective bindings of a resource. Endpoints already
// bound keep their first value, so every consumer sees the same URL.
func (r *Resolver) Bind(name string, bindings map[string]resource.Binding) error {
	if _, ok := r.graph.Resource(name); !ok {
		return errors.ResourceNotFound(name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, b := range bindings {
		e, ok := r.entries[resource.EndpointRef{Resource: name, Endpoint: endpoint}]
		if !ok {
			return errors.Validation(name, "endpoint", "launcher reported unknown endpoint "+endpoint)
		}
		e.settle(b, nil)
	}
	return nil
}

// Fail rejects every still-unresolved endpoint of a resource.
func (r *Resolver) Fail(name string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, e := range r.entries {
		if ref.Resource != name {
			continue
		}
		e.settle(resource.Binding{}, &errors.EndpointUnresolvedError{
			Producer: ref.Resource,
			Endpoint: ref.Endpoint,
			Cause:    cause,
		})
	}
}

// Close fails every endpoint that is still unresolved so no waiter is left
// blocked after a run ends.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, e := range r.entries {
		e.settle(resource.Binding{}, &errors.EndpointUnresolvedError{
			Producer: ref.Resource,
			Endpoint: ref.Endpoint,
			Cause:    errors.ShuttingDown(),
		})
	}
}

func (r *Resolver) entry(ref resource.EndpointRef) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if !ok {
		return nil, &errors.EndpointUnresolvedError{
			Producer: ref.Resource,
			Endpoint: ref.Endpoint,
			Cause:    fmt.Errorf("endpoint is not declared"),
		}
	}
	return e, nil
}

// Await returns the binding of ref, blocking until it is bound, failed or
// ctx is done.
func (r *Resolver) Await(ctx context.Context, ref resource.EndpointRef) (resource.Binding, error) {
	e, err := r.entry(ref)
	if err != nil {
		return resource.Binding{}, err
	}
	select {
	case <-e.done:
		return e.binding, e.err
	case <-ctx.Done():
		return resource.Binding{}, ctx.Err()
	}
}

// Lookup returns the binding of ref if it is already known.
func (r *Resolver) Lookup(ref resource.EndpointRef) (resource.Binding, bool) {
	e, err := r.entry(ref)
	if err != nil {
		return resource.Binding{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !e.settled || e.err != nil {
		return resource.Binding{}, false
	}
	return e.binding, true
}

// Resolved returns the known bindings of a resource keyed by endpoint name.
func (r *Resolver) Resolved(name string) map[string]resource.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]resource.Binding)
	for ref, e := range r.entries {
		if ref.Resource == name && e.settled && e.err == nil {
			out[ref.Endpoint] = e.binding
		}
	}
	return out
}

// Subscribe calls fn exactly once, on its own goroutine, when ref settles.
// Callbacks of different subscribers run concurrently in no particular order.
func (r *Resolver) Subscribe(ref resource.EndpointRef, fn func(resource.Binding, error)) {
	e, err := r.entry(ref)
	if err != nil {
		go fn(resource.Binding{}, err)
		return
	}
	go func() {
		<-e.done
		fn(e.binding, e.err)
	}()
}

// Expand renders v for consumer, waiting on every referenced endpoint.
func (r *Resolver) Expand(ctx context.Context, consumer string, v resource.Value) (string, error) {
	return v.Render(func(ref resource.EndpointRef) (string, error) {
		b, err := r.Await(ctx, ref)
		if err != nil {
			return "", forConsumer(consumer, err)
		}
		return b.URL(), nil
	})
}

// ExpandAll renders a list of values, as used for process arguments.
func (r *Resolver) ExpandAll(ctx context.Context, consumer string, values []resource.Value) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, err := r.Expand(ctx, consumer, v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Environment builds the final environment of res as KEY=VALUE pairs:
// declared variables, then service discovery variables for every referenced
// producer endpoint, then the port variables of res's own endpoints when the
// port is known up front.
func (r *Resolver) Environment(ctx context.Context, res resource.Resource) ([]string, error) {
	env := make([]string, 0, len(res.Env))
	for _, v := range res.Env {
		s, err := r.Expand(ctx, res.Name, v.Value)
		if err != nil {
			return nil, err
		}
		env = append(env, v.Name+"="+s)
	}

	for _, producer := range res.References {
		p, ok := r.graph.Resource(producer)
		if !ok {
			return nil, &errors.UnknownResourceError{Consumer: res.Name, Producer: producer, Edge: string(graph.EdgeReference)}
		}
		for _, ep := range p.Endpoints {
			b, err := r.Await(ctx, resource.EndpointRef{Resource: producer, Endpoint: ep.Name})
			if err != nil {
				return nil, forConsumer(res.Name, err)
			}
			env = append(env, ServiceKey(producer, ep.Name)+"="+b.URL())
		}
	}

	for _, ep := range res.Endpoints {
		if ep.Env != "" && ep.TargetPort != 0 {
			env = append(env, ep.Env+"="+strconv.Itoa(ep.TargetPort))
		}
	}
	return env, nil
}

// ServiceKey is the service discovery variable for one producer endpoint.
func ServiceKey(producer, endpoint string) string {
	return "services__" + producer + "__" + endpoint + "__0"
}

func forConsumer(consumer string, err error) error {
	var unresolved *errors.EndpointUnresolvedError
	if errors.As(err, &unresolved) {
		c := *unresolved
		c.Consumer = consumer
		return &c
	}
	return err
}

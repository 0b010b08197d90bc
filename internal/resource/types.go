// Package resource holds the declarations the orchestrator schedules:
// processes and containers with their endpoints, environment, mounts and
// health checks. Values here are passive; behaviour lives in graph, resolver
// and scheduler.
package resource

import (
	"fmt"
	"time"
)

// Kind identifies how a resource is launched.
type Kind string

const (
	KindProcess   Kind = "process"
	KindContainer Kind = "container"
)

// Endpoint is a named network binding a resource exposes.
type Endpoint struct {
	Name   string `json:"name"`
	Scheme string `json:"scheme"`
	// Port is the host port. Zero means the launcher assigns one at start.
	Port int `json:"port,omitempty"`
	// TargetPort is the port inside the container, or the port the process
	// listens on. Defaults to Port for processes.
	TargetPort int `json:"target_port,omitempty"`
	// Env names a process environment variable that receives the effective port.
	Env      string `json:"env,omitempty"`
	External bool   `json:"external,omitempty"`
}

// Static reports whether the host port is known before launch.
func (e Endpoint) Static() bool {
	return e.Port != 0
}

// Mount binds a host path into a container.
type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// HealthCheck describes the readiness probe of a resource.
type HealthCheck struct {
	Endpoint         string        `json:"endpoint"`
	Path             string        `json:"path,omitempty"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	FailureThreshold int           `json:"failure_threshold"`
	// StartupTimeout bounds the whole gate. Zero means no overall bound.
	StartupTimeout time.Duration `json:"startup_timeout,omitempty"`
}

// Default health check parameters.
const (
	DefaultHealthInterval         = time.Second
	DefaultHealthTimeout          = 5 * time.Second
	DefaultHealthFailureThreshold = 30
)

// WithDefaults fills zero fields with the default parameters.
func (h HealthCheck) WithDefaults() HealthCheck {
	if h.Interval <= 0 {
		h.Interval = DefaultHealthInterval
	}
	if h.Timeout <= 0 {
		h.Timeout = DefaultHealthTimeout
	}
	if h.FailureThreshold <= 0 {
		h.FailureThreshold = DefaultHealthFailureThreshold
	}
	return h
}

// EnvVar is one environment binding.
type EnvVar struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Binding is the effective address of an endpoint once known.
type Binding struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// URL renders the binding as scheme://host:port.
func (b Binding) URL() string {
	return fmt.Sprintf("%s://%s:%d", b.Scheme, b.Host, b.Port)
}

// DefaultHost is the host used for bindings published on the local machine.
const DefaultHost = "localhost"

// Resource is one orchestrable unit. It is immutable once the graph is built.
type Resource struct {
	Name       string       `json:"name"`
	Kind       Kind         `json:"kind"`
	Command    string       `json:"command,omitempty"`
	Image      string       `json:"image,omitempty"`
	WorkingDir string       `json:"working_dir,omitempty"`
	Args       []Value      `json:"args,omitempty"`
	Endpoints  []Endpoint   `json:"endpoints,omitempty"`
	Env        []EnvVar     `json:"env,omitempty"`
	Mounts     []Mount      `json:"mounts,omitempty"`
	Health     *HealthCheck `json:"health,omitempty"`
	References []string     `json:"references,omitempty"`
	WaitFor    []string     `json:"wait_for,omitempty"`
}

// Endpoint returns the named endpoint.
func (r *Resource) Endpoint(name string) (Endpoint, bool) {
	for _, ep := range r.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// HasHealthCheck reports whether readiness requires a probe.
func (r *Resource) HasHealthCheck() bool {
	return r.Health != nil
}

// Refs returns every endpoint reference used by args and environment values.
func (r *Resource) Refs() []EndpointRef {
	var refs []EndpointRef
	for _, arg := range r.Args {
		refs = append(refs, arg.Refs()...)
	}
	for _, env := range r.Env {
		refs = append(refs, env.Value.Refs()...)
	}
	return refs
}

// Clone returns a deep copy so callers cannot mutate a built declaration.
func (r Resource) Clone() Resource {
	c := r
	c.Args = append([]Value(nil), r.Args...)
	c.Endpoints = append([]Endpoint(nil), r.Endpoints...)
	c.Env = append([]EnvVar(nil), r.Env...)
	c.Mounts = append([]Mount(nil), r.Mounts...)
	c.References = append([]string(nil), r.References...)
	c.WaitFor = append([]string(nil), r.WaitFor...)
	if r.Health != nil {
		h := *r.Health
		c.Health = &h
	}
	return c
}

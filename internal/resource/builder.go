package resource

import (
	"apphost/internal/errors"
)

// Builder accumulates resource declarations through method chaining. Nothing
// is validated until Build, which returns immutable copies.
type Builder struct {
	resources []*ResourceBuilder
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddProcess declares a process-backed resource.
func (b *Builder) AddProcess(name, command string, args ...string) *ResourceBuilder {
	rb := &ResourceBuilder{res: Resource{Name: name, Kind: KindProcess, Command: command}}
	for _, arg := range args {
		rb.res.Args = append(rb.res.Args, Literal(arg))
	}
	b.resources = append(b.resources, rb)
	return rb
}

// AddContainer declares a container resource.
func (b *Builder) AddContainer(name, image string) *ResourceBuilder {
	rb := &ResourceBuilder{res: Resource{Name: name, Kind: KindContainer, Image: image}}
	b.resources = append(b.resources, rb)
	return rb
}

// Add appends an already assembled declaration, as produced by a manifest.
func (b *Builder) Add(res Resource) *ResourceBuilder {
	rb := &ResourceBuilder{res: res.Clone()}
	b.resources = append(b.resources, rb)
	return rb
}

// Build validates every declaration and returns them in declaration order.
func (b *Builder) Build() ([]Resource, error) {
	seen := make(map[string]bool, len(b.resources))
	out := make([]Resource, 0, len(b.resources))
	for _, rb := range b.resources {
		res := rb.res.Clone()
		if err := res.Validate(); err != nil {
			return nil, err
		}
		if seen[res.Name] {
			return nil, errors.Validation(res.Name, "name", "duplicate resource name")
		}
		seen[res.Name] = true
		out = append(out, res)
	}
	return out, nil
}

// ResourceBuilder configures one declaration.
type ResourceBuilder struct {
	res Resource
}

// Name returns the declared resource name.
func (rb *ResourceBuilder) Name() string {
	return rb.res.Name
}

// Declaration returns a copy of the declaration as configured so far.
func (rb *ResourceBuilder) Declaration() Resource {
	return rb.res.Clone()
}

// Endpoint returns a value that resolves to the URL of one of this
// resource's endpoints.
func (rb *ResourceBuilder) Endpoint(name string) Value {
	return Ref(rb.res.Name, name)
}

func (rb *ResourceBuilder) WithEndpoint(ep Endpoint) *ResourceBuilder {
	if ep.TargetPort == 0 && rb.res.Kind == KindProcess {
		ep.TargetPort = ep.Port
	}
	rb.res.Endpoints = append(rb.res.Endpoints, ep)
	return rb
}

// WithHTTPEndpoint adds an endpoint named "http". A zero port is assigned at
// start and handed to the process through env.
func (rb *ResourceBuilder) WithHTTPEndpoint(port int, env string) *ResourceBuilder {
	return rb.WithEndpoint(Endpoint{Name: "http", Scheme: "http", Port: port, Env: env})
}

// WithHTTPSEndpoint adds an endpoint named "https".
func (rb *ResourceBuilder) WithHTTPSEndpoint(port int, env string) *ResourceBuilder {
	return rb.WithEndpoint(Endpoint{Name: "https", Scheme: "https", Port: port, Env: env})
}

// WithExternalEndpoints marks every endpoint declared so far as external.
func (rb *ResourceBuilder) WithExternalEndpoints() *ResourceBuilder {
	for i := range rb.res.Endpoints {
		rb.res.Endpoints[i].External = true
	}
	return rb
}

func (rb *ResourceBuilder) WithEnvironment(name string, value Value) *ResourceBuilder {
	rb.res.Env = append(rb.res.Env, EnvVar{Name: name, Value: value})
	return rb
}

func (rb *ResourceBuilder) WithArgs(values ...Value) *ResourceBuilder {
	rb.res.Args = append(rb.res.Args, values...)
	return rb
}

func (rb *ResourceBuilder) WithMount(source, target string, readOnly bool) *ResourceBuilder {
	rb.res.Mounts = append(rb.res.Mounts, Mount{Source: source, Target: target, ReadOnly: readOnly})
	return rb
}

func (rb *ResourceBuilder) WithWorkingDir(dir string) *ResourceBuilder {
	rb.res.WorkingDir = dir
	return rb
}

func (rb *ResourceBuilder) WithHealthCheck(check HealthCheck) *ResourceBuilder {
	check = check.WithDefaults()
	rb.res.Health = &check
	return rb
}

// WithHTTPSHealthCheck probes path on the "https" endpoint.
func (rb *ResourceBuilder) WithHTTPSHealthCheck(path string) *ResourceBuilder {
	return rb.WithHealthCheck(HealthCheck{Endpoint: "https", Path: path})
}

// WithHTTPHealthCheck probes path on the "http" endpoint.
func (rb *ResourceBuilder) WithHTTPHealthCheck(path string) *ResourceBuilder {
	return rb.WithHealthCheck(HealthCheck{Endpoint: "http", Path: path})
}

// WithReference makes producer's endpoints available to this resource as
// service discovery variables.
func (rb *ResourceBuilder) WithReference(producer *ResourceBuilder) *ResourceBuilder {
	rb.res.References = appendUnique(rb.res.References, producer.Name())
	return rb
}

// WaitFor delays this resource until producer is ready.
func (rb *ResourceBuilder) WaitFor(producer *ResourceBuilder) *ResourceBuilder {
	rb.res.WaitFor = appendUnique(rb.res.WaitFor, producer.Name())
	return rb
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}

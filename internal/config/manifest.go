// Package config loads application manifests and the global apphost
// configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"apphost/internal/errors"
	"apphost/internal/resource"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ManifestNames are the file names searched by FindManifest, in order.
var ManifestNames = []string{"apphost.toml", "apphost.yaml", "apphost.yml"}

// Manifest is the on-disk declaration of an application
type Manifest struct {
	// Path is the file the manifest was loaded from. Relative paths inside the
	// manifest are resolved against its directory.
	Path      string         `toml:"-" yaml:"-"`
	Resources []ResourceSpec `toml:"resources" yaml:"resources"`
}

// ResourceSpec is one [[resources]] entry
type ResourceSpec struct {
	Name              string            `toml:"name" yaml:"name"`
	Kind              string            `toml:"kind,omitempty" yaml:"kind,omitempty"` // "process" or "container"; inferred from image when empty
	Command           string            `toml:"command,omitempty" yaml:"command,omitempty"`
	Image             string            `toml:"image,omitempty" yaml:"image,omitempty"`
	WorkingDir        string            `toml:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Args              []string          `toml:"args,omitempty" yaml:"args,omitempty"`
	Env               map[string]string `toml:"env,omitempty" yaml:"env,omitempty"`
	Endpoints         []EndpointSpec    `toml:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Mounts            []MountSpec       `toml:"mounts,omitempty" yaml:"mounts,omitempty"`
	Health            *HealthSpec       `toml:"health,omitempty" yaml:"health,omitempty"`
	References        []string          `toml:"references,omitempty" yaml:"references,omitempty"`
	WaitFor           []string          `toml:"wait_for,omitempty" yaml:"wait_for,omitempty"`
	ExternalEndpoints bool              `toml:"external_endpoints,omitempty" yaml:"external_endpoints,omitempty"`
}

type EndpointSpec struct {
	Name       string `toml:"name" yaml:"name"`
	Scheme     string `toml:"scheme,omitempty" yaml:"scheme,omitempty"` // defaults to the endpoint name
	Port       int    `toml:"port,omitempty" yaml:"port,omitempty"`
	TargetPort int    `toml:"target_port,omitempty" yaml:"target_port,omitempty"`
	Env        string `toml:"env,omitempty" yaml:"env,omitempty"`
	External   bool   `toml:"external,omitempty" yaml:"external,omitempty"`
}

type MountSpec struct {
	Source   string `toml:"source" yaml:"source"`
	Target   string `toml:"target" yaml:"target"`
	ReadOnly bool   `toml:"read_only,omitempty" yaml:"read_only,omitempty"`
}

type HealthSpec struct {
	Endpoint         string   `toml:"endpoint" yaml:"endpoint"`
	Path             string   `toml:"path,omitempty" yaml:"path,omitempty"`
	Interval         Duration `toml:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout          Duration `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
	FailureThreshold int      `toml:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	StartupTimeout   Duration `toml:"startup_timeout,omitempty" yaml:"startup_timeout,omitempty"`
}

// FindManifest returns the first manifest file present in dir
func FindManifest(dir string) (string, error) {
	for _, name := range ManifestNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.ConfigNotFound(filepath.Join(dir, ManifestNames[0]))
}

// LoadManifest reads a TOML or YAML manifest, chosen by file extension
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.ConfigNotFound(path)
	}
	if err != nil {
		return nil, errors.FileReadFailed(path, err)
	}

	m, err := ParseManifest(data, formatOf(path))
	if err != nil {
		return nil, errors.ConfigParseError(path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.Path = abs
	return m, nil
}

// ParseManifest decodes manifest data. format is "toml" or "yaml".
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch format {
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
	return &m, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// Encode renders the manifest in the given format
func (m *Manifest) Encode(format string) ([]byte, error) {
	switch format {
	case "toml":
		return toml.Marshal(m)
	case "yaml":
		return yaml.Marshal(m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
}

// Build converts the manifest into validated resource declarations
func (m *Manifest) Build() ([]resource.Resource, error) {
	base := ""
	if m.Path != "" {
		base = filepath.Dir(m.Path)
	}

	b := resource.NewBuilder()
	for i := range m.Resources {
		if err := m.Resources[i].add(b, base); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func (s *ResourceSpec) add(b *resource.Builder, base string) error {
	kind := resource.Kind(s.Kind)
	if kind == "" {
		kind = resource.KindProcess
		if s.Image != "" {
			kind = resource.KindContainer
		}
	}

	args := make([]resource.Value, 0, len(s.Args))
	for i, arg := range s.Args {
		v, err := resource.ParseValue(arg)
		if err != nil {
			return errors.Validation(s.Name, fmt.Sprintf("args[%d]", i), err.Error())
		}
		args = append(args, v)
	}

	rb := b.Add(resource.Resource{
		Name:       s.Name,
		Kind:       kind,
		Command:    s.Command,
		Image:      s.Image,
		WorkingDir: resolvePath(base, s.WorkingDir),
		Args:       args,
		References: s.References,
		WaitFor:    s.WaitFor,
	})

	for _, ep := range s.Endpoints {
		scheme := ep.Scheme
		if scheme == "" {
			scheme = ep.Name
		}
		rb.WithEndpoint(resource.Endpoint{
			Name:       ep.Name,
			Scheme:     scheme,
			Port:       ep.Port,
			TargetPort: ep.TargetPort,
			Env:        ep.Env,
			External:   ep.External,
		})
	}
	if s.ExternalEndpoints {
		rb.WithExternalEndpoints()
	}

	// map order is random; sorted names keep the environment deterministic
	names := make([]string, 0, len(s.Env))
	for name := range s.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := resource.ParseValue(s.Env[name])
		if err != nil {
			return errors.Validation(s.Name, "env "+name, err.Error())
		}
		rb.WithEnvironment(name, v)
	}

	for _, mnt := range s.Mounts {
		rb.WithMount(resolvePath(base, mnt.Source), mnt.Target, mnt.ReadOnly)
	}

	if h := s.Health; h != nil {
		rb.WithHealthCheck(resource.HealthCheck{
			Endpoint:         h.Endpoint,
			Path:             h.Path,
			Interval:         h.Interval.Duration,
			Timeout:          h.Timeout.Duration,
			FailureThreshold: h.FailureThreshold,
			StartupTimeout:   h.StartupTimeout.Duration,
		})
	}
	return nil
}

func resolvePath(base, path string) string {
	if path == "" || base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

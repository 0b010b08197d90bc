package resource

import (
	"apphost/internal/errors"
	"apphost/internal/validation"
)

// Validate checks a single declaration in isolation. Cross-resource checks
// (duplicates, unknown producers, cycles) belong to the graph builder.
func (r *Resource) Validate() error {
	if err := validation.ResourceName(r.Name, "name", r.Name); err != nil {
		return err
	}

	switch r.Kind {
	case KindProcess:
		if err := validation.NonEmptyString(r.Name, "command", r.Command); err != nil {
			return err
		}
		if len(r.Mounts) > 0 {
			return errors.Validation(r.Name, "mounts", "mounts are only supported on containers")
		}
	case KindContainer:
		if err := validation.NonEmptyString(r.Name, "image", r.Image); err != nil {
			return err
		}
	default:
		return errors.Validation(r.Name, "kind", "unknown kind "+string(r.Kind))
	}

	seen := make(map[string]bool, len(r.Endpoints))
	for _, ep := range r.Endpoints {
		if err := validation.ResourceName(r.Name, "endpoint", ep.Name); err != nil {
			return err
		}
		if seen[ep.Name] {
			return errors.Validation(r.Name, "endpoint", "duplicate endpoint "+ep.Name)
		}
		seen[ep.Name] = true
		if err := validation.Scheme(r.Name, ep.Scheme); err != nil {
			return err
		}
		if err := validation.PortNumber(r.Name, "endpoint "+ep.Name+" port", ep.Port, true); err != nil {
			return err
		}
		if err := validation.PortNumber(r.Name, "endpoint "+ep.Name+" target_port", ep.TargetPort, true); err != nil {
			return err
		}
		if r.Kind == KindContainer && ep.TargetPort == 0 {
			return errors.Validation(r.Name, "endpoint "+ep.Name+" target_port", "required for containers")
		}
		if r.Kind == KindProcess && ep.Port != 0 && ep.TargetPort != 0 && ep.Port != ep.TargetPort {
			return errors.Validation(r.Name, "endpoint "+ep.Name+" target_port", "must equal port for processes")
		}
		if ep.Env != "" {
			if err := validation.EnvironmentVariable(r.Name, ep.Env); err != nil {
				return err
			}
		}
	}

	envSeen := make(map[string]bool, len(r.Env))
	for _, env := range r.Env {
		if err := validation.EnvironmentVariable(r.Name, env.Name); err != nil {
			return err
		}
		if envSeen[env.Name] {
			return errors.Validation(r.Name, "env", "duplicate variable "+env.Name)
		}
		envSeen[env.Name] = true
	}

	for _, m := range r.Mounts {
		if _, err := validation.Path(r.Name, m.Source); err != nil {
			return err
		}
		if err := validation.MountTarget(r.Name, m.Target); err != nil {
			return err
		}
	}

	if r.Health != nil {
		if _, ok := r.Endpoint(r.Health.Endpoint); !ok {
			return errors.Validation(r.Name, "health.endpoint", "unknown endpoint "+r.Health.Endpoint)
		}
		if r.Health.Interval < 0 || r.Health.Timeout < 0 || r.Health.StartupTimeout < 0 {
			return errors.Validation(r.Name, "health", "durations cannot be negative")
		}
		if r.Health.FailureThreshold < 0 {
			return errors.Validation(r.Name, "health.failure_threshold", "cannot be negative")
		}
	}
	return nil
}

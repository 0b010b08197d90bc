package validation

import (
	"path/filepath"
	"regexp"
	"strings"

	"apphost/internal/errors"
)

var (
	// resourceNameRegex validates resource names; they end up in container
	// names and environment variable names
	resourceNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

	// envVarKeyRegex validates environment variable keys
	envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	schemes = map[string]bool{"http": true, "https": true, "tcp": true}
)

// ResourceName validates a resource or endpoint name.
func ResourceName(resource, field, name string) error {
	if name == "" {
		return errors.Validation(resource, field, "cannot be empty")
	}
	if len(name) > 63 {
		return errors.Validation(resource, field, "too long (max 63 characters)")
	}
	if !resourceNameRegex.MatchString(name) {
		return errors.Validation(resource, field, "must start with a letter and contain only letters, digits, '-' and '_'")
	}
	return nil
}

// EnvironmentVariable validates an environment variable key.
func EnvironmentVariable(resource, key string) error {
	if key == "" {
		return errors.Validation(resource, "env", "key cannot be empty")
	}
	if !envVarKeyRegex.MatchString(key) {
		return errors.Validation(resource, "env", "key "+key+" must contain only letters, numbers, and underscores")
	}
	return nil
}

// PortNumber validates a port. Zero is accepted when ephemeral is true.
func PortNumber(resource, field string, port int, ephemeral bool) error {
	if port == 0 && ephemeral {
		return nil
	}
	if port <= 0 || port > 65535 {
		return errors.Validation(resource, field, "must be between 1 and 65535")
	}
	return nil
}

// Scheme validates an endpoint scheme.
func Scheme(resource, scheme string) error {
	if !schemes[scheme] {
		return errors.Validation(resource, "scheme", "unsupported scheme "+scheme+" (want http, https or tcp)")
	}
	return nil
}

// MountTarget validates a container mount target.
func MountTarget(resource, target string) error {
	if target == "" {
		return errors.Validation(resource, "mounts", "target cannot be empty")
	}
	if !strings.HasPrefix(target, "/") {
		return errors.Validation(resource, "mounts", "target "+target+" must be an absolute path")
	}
	return nil
}

// Path cleans a host path and rejects empty input.
func Path(resource, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.Validation(resource, "mounts", "source cannot be empty")
	}
	return filepath.Clean(path), nil
}

// NonEmptyString validates that a string is not empty or only whitespace
func NonEmptyString(resource, field, s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.Validation(resource, field, "cannot be empty or only whitespace")
	}
	return nil
}

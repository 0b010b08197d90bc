package errors

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports a malformed or duplicate declaration. It is raised
// before any resource starts.
type ValidationError struct {
	Resource string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("invalid declaration: %s: %s", e.Field, e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid resource %q: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("invalid resource %q: %s: %s", e.Resource, e.Field, e.Reason)
}

func (e *ValidationError) ErrorCode() ErrorCode { return ErrValidation }

// CyclicDependencyError means the declared edges do not form a DAG. Cycle is
// the traversal path and repeats its first member at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "dependency cycle detected"
	}
	return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
}

func (e *CyclicDependencyError) ErrorCode() ErrorCode { return ErrCyclicDependency }

// Members returns the distinct resources on the cycle in traversal order.
func (e *CyclicDependencyError) Members() []string {
	if len(e.Cycle) > 1 && e.Cycle[0] == e.Cycle[len(e.Cycle)-1] {
		return append([]string(nil), e.Cycle[:len(e.Cycle)-1]...)
	}
	return append([]string(nil), e.Cycle...)
}

// UnknownResourceError means an edge names a producer that was never declared.
type UnknownResourceError struct {
	Consumer string
	Producer string
	Edge     string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("resource %q has a %s edge to unknown resource %q", e.Consumer, e.Edge, e.Producer)
}

func (e *UnknownResourceError) ErrorCode() ErrorCode { return ErrUnknownResource }

// EndpointUnresolvedError is delivered to every consumer waiting on an
// endpoint whose producer failed before publishing a binding.
type EndpointUnresolvedError struct {
	Consumer string
	Producer string
	Endpoint string
	Cause    error
}

func (e *EndpointUnresolvedError) Error() string {
	target := e.Producer + "." + e.Endpoint
	msg := fmt.Sprintf("endpoint %s could not be resolved", target)
	if e.Consumer != "" {
		msg = fmt.Sprintf("endpoint %s required by %q could not be resolved", target, e.Consumer)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointUnresolvedError) Unwrap() error { return e.Cause }

func (e *EndpointUnresolvedError) ErrorCode() ErrorCode { return ErrEndpointUnresolved }

// LaunchError means a launcher could not start a resource.
type LaunchError struct {
	Resource string
	Kind     string
	Cause    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s %q: %v", e.Kind, e.Resource, e.Cause)
}

func (e *LaunchError) Unwrap() error { return e.Cause }

func (e *LaunchError) ErrorCode() ErrorCode { return ErrLaunchFailed }

// HealthFailureKind distinguishes an exhausted failure threshold from an
// overall startup timeout.
type HealthFailureKind string

const (
	HealthTimeout   HealthFailureKind = "timeout"
	HealthUnhealthy HealthFailureKind = "unhealthy"
)

// HealthCheckError means a readiness gate gave up on a resource.
type HealthCheckError struct {
	Resource string
	URL      string
	Kind     HealthFailureKind
	Attempts int
	Cause    error
}

func (e *HealthCheckError) Error() string {
	msg := fmt.Sprintf("resource %q health check %s after %d attempts", e.Resource, e.Kind, e.Attempts)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *HealthCheckError) Unwrap() error { return e.Cause }

func (e *HealthCheckError) ErrorCode() ErrorCode {
	if e.Kind == HealthTimeout {
		return ErrHealthCheckTimeout
	}
	return ErrUnhealthy
}

// ExitError records a supervised resource that exited without being asked to.
type ExitError struct {
	Resource string
	Code     int
	Cause    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("resource %q exited with code %d", e.Resource, e.Code)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Cause }

func (e *ExitError) ErrorCode() ErrorCode { return ErrResourceExited }

// BlockedError is recorded on a resource that was never launched because a
// resource it depends on failed.
type BlockedError struct {
	Resource string
	Root     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("resource %q was not started: dependency %q failed", e.Resource, e.Root)
}

func (e *BlockedError) ErrorCode() ErrorCode { return ErrStartupFailure }

// DependencyFailedError is recorded on a running resource that was stopped
// because a resource it references failed.
type DependencyFailedError struct {
	Resource string
	Root     string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("resource %q was stopped: dependency %q failed", e.Resource, e.Root)
}

func (e *DependencyFailedError) ErrorCode() ErrorCode { return ErrStartupFailure }

// StartupFailure aggregates a failed startup: the first root cause, every
// other independent root, all resources blocked behind them, and the
// dependents that reached Ready through reference-only edges anyway.
type StartupFailure struct {
	Root     string
	Cause    error
	Roots    map[string]error
	Blocked  []string
	Affected []string
}

func (e *StartupFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "startup failed: %q: %v", e.Root, e.Cause)
	if others := e.otherRoots(); len(others) > 0 {
		fmt.Fprintf(&b, "; also failed: %s", strings.Join(others, ", "))
	}
	if len(e.Blocked) > 0 {
		fmt.Fprintf(&b, "; blocked: %s", strings.Join(e.Blocked, ", "))
	}
	if len(e.Affected) > 0 {
		fmt.Fprintf(&b, "; affected: %s", strings.Join(e.Affected, ", "))
	}
	return b.String()
}

func (e *StartupFailure) Unwrap() error { return e.Cause }

func (e *StartupFailure) ErrorCode() ErrorCode { return ErrStartupFailure }

func (e *StartupFailure) otherRoots() []string {
	var names []string
	for name := range e.Roots {
		if name != e.Root {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

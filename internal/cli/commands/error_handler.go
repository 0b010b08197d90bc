package commands

import (
	"fmt"
	"os"
	"strings"

	"apphost/internal/errors"
	"apphost/internal/logger"
)

// Exit codes returned by ExitOnError
const (
	ExitGeneral        = 1
	ExitUsage          = 2 // invalid manifest or configuration
	ExitStartupFailure = 3
	ExitUnavailable    = 69 // EX_UNAVAILABLE: status API or docker unreachable
)

// HandleError processes errors and provides user-friendly output
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	logger.WithError(err).Debug("Command failed")

	switch errors.GetCode(err) {
	case errors.ErrConfigNotFound:
		return fmt.Errorf("%v\n\nTip: Run 'apphost init' to create a sample manifest, or pass one with --file.", err)

	case errors.ErrCyclicDependency:
		return fmt.Errorf("%v\n\nTip: Run 'apphost graph' to see the dependency edges.", err)

	case errors.ErrUnknownResource, errors.ErrValidation:
		return fmt.Errorf("%v\n\nTip: Run 'apphost validate' after editing the manifest.", err)

	case errors.ErrAPICall:
		return fmt.Errorf("%v\n\nTip: Is 'apphost up' running with the status API enabled?", err)
	}

	// Check for common error patterns and provide helpful messages
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "Cannot connect to the Docker daemon"),
		strings.Contains(errStr, "docker.sock"):
		return fmt.Errorf("%v\n\nTip: Start Docker, or remove container resources from the manifest.", err)

	case strings.Contains(errStr, "permission denied"):
		return fmt.Errorf("%v\n\nTip: Check file permissions, or whether your user may access the Docker socket.", err)

	case strings.Contains(errStr, "executable file not found"):
		return fmt.Errorf("%v\n\nTip: Check that the command is installed and on your PATH.", err)

	case strings.Contains(errStr, "address already in use"):
		return fmt.Errorf("%v\n\nTip: Another process holds a fixed port. Change the endpoint port or stop that process.", err)

	default:
		return err
	}
}

// ExitCode returns the process exit code for err
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch errors.GetCode(err) {
	case errors.ErrConfigNotFound, errors.ErrConfigInvalid, errors.ErrConfigParse, errors.ErrConfigValidation,
		errors.ErrValidation, errors.ErrCyclicDependency, errors.ErrUnknownResource:
		return ExitUsage
	case errors.ErrStartupFailure:
		return ExitStartupFailure
	case errors.ErrAPICall, errors.ErrNetworkConnection:
		return ExitUnavailable
	default:
		return ExitGeneral
	}
}

// ExitOnError handles errors consistently across CLI commands
func ExitOnError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", HandleError(err))
	os.Exit(ExitCode(err))
}

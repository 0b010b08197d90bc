// Package constants defines application-wide constants to avoid magic numbers
package constants

import "time"

// AppName is used for the XDG directory names and container labels.
const AppName = "apphost"

// Network and Port Constants
const (
	// DefaultServerPort is the default port for the status API server
	DefaultServerPort = 18888

	// DefaultServerHost keeps the status API on the loopback interface
	DefaultServerHost = "127.0.0.1"
)

// File System Permissions
const (
	// DirPermissions is the standard directory permissions for apphost directories
	DirPermissions = 0755

	// FilePermissions is the standard file permissions for apphost config files
	FilePermissions = 0644
)

// Database Configuration
const (
	// DefaultMaxOpenConnections is the default maximum number of database connections
	DefaultMaxOpenConnections = 1

	// DefaultMaxIdleConnections is the default maximum number of idle database connections
	DefaultMaxIdleConnections = 1

	// DefaultConnectionTimeout is the default database connection timeout
	DefaultConnectionTimeout = 5 * time.Minute

	// DefaultHistoryLimit is the default number of runs listed by `apphost history`
	DefaultHistoryLimit = 20
)

// HTTP Configuration
const (
	// DefaultHTTPClientTimeout is the default timeout for HTTP client requests
	DefaultHTTPClientTimeout = 10 * time.Second

	// DefaultServerReadTimeout is the default server read timeout
	DefaultServerReadTimeout = 10 * time.Second

	// DefaultServerWriteTimeout is the default server write timeout
	DefaultServerWriteTimeout = 10 * time.Second

	// DefaultServerShutdownTimeout is the default server graceful shutdown timeout
	DefaultServerShutdownTimeout = 5 * time.Second
)

// Orchestration
const (
	// DefaultGracePeriod is how long a resource may take to stop before it is killed
	DefaultGracePeriod = 10 * time.Second

	// DefaultAbortTimeout bounds teardown of a resource that failed during startup
	DefaultAbortTimeout = 5 * time.Second

	// EventBufferSize is the number of transition events replayed to new subscribers
	EventBufferSize = 256
)

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"apphost/internal/constants"
	"apphost/internal/errors"
	"apphost/internal/xdg"

	"github.com/pelletier/go-toml/v2"
)

// GlobalConfig represents the global apphost configuration
type GlobalConfig struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
}

type OrchestratorConfig struct {
	Cascade              string   `toml:"cascade"`                 // "none" or "dependents"
	GracePeriod          Duration `toml:"grace_period"`            // time allowed for a resource to stop
	AbortTimeout         Duration `toml:"abort_timeout"`           // teardown bound for failed startups
	StopOnStartupFailure bool     `toml:"stop_on_startup_failure"` // stop independent branches too
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type StorageConfig struct {
	DatabasePath string `toml:"database_path"` // empty disables run history
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// DefaultGlobalConfig returns the default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Orchestrator: OrchestratorConfig{
			Cascade:      "none",
			GracePeriod:  Duration{constants.DefaultGracePeriod},
			AbortTimeout: Duration{constants.DefaultAbortTimeout},
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    constants.DefaultServerHost,
			Port:    constants.DefaultServerPort,
		},
		Storage: StorageConfig{
			DatabasePath: defaultDatabasePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDatabasePath() string {
	dataDir, err := xdg.DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dataDir, "history.db")
}

// GetConfigDir returns the XDG config directory for apphost
func GetConfigDir() (string, error) {
	return xdg.ConfigDir()
}

// GlobalConfigPath returns the location of config.toml
func GlobalConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// LoadGlobalConfig loads the global configuration from the XDG config
// directory. A missing file yields the defaults.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadGlobalConfigFrom(path)
}

// LoadGlobalConfigFrom loads the global configuration from path. Keys absent
// from the file keep their default values.
func LoadGlobalConfigFrom(path string) (*GlobalConfig, error) {
	config := DefaultGlobalConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, expandPaths(config)
	}
	if err != nil {
		return nil, errors.FileReadFailed(path, err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, errors.ConfigParseError(path, err)
	}
	if err := expandPaths(config); err != nil {
		return nil, err
	}
	if err := ValidateGlobalConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveGlobalConfig saves the global configuration to the XDG config directory
func SaveGlobalConfig(config *GlobalConfig) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return err
	}
	return config.Save(path)
}

// Save saves the global configuration to the specified path
func (g *GlobalConfig) Save(path string) error {
	data, err := toml.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return errors.FileWriteFailed(path, err)
	}
	if err := os.WriteFile(path, data, constants.FilePermissions); err != nil {
		return errors.FileWriteFailed(path, err)
	}
	return nil
}

// ValidateGlobalConfig validates the global configuration
func ValidateGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return errors.ConfigInvalid("config cannot be nil")
	}

	switch config.Orchestrator.Cascade {
	case "", "none", "dependents":
	default:
		return errors.ConfigValidationError("orchestrator.cascade", "must be none or dependents")
	}
	if config.Orchestrator.GracePeriod.Duration < 0 {
		return errors.ConfigValidationError("orchestrator.grace_period", "must not be negative")
	}
	if config.Orchestrator.AbortTimeout.Duration < 0 {
		return errors.ConfigValidationError("orchestrator.abort_timeout", "must not be negative")
	}

	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return errors.ConfigValidationError("server.port", fmt.Sprintf("invalid port: %d", config.Server.Port))
	}

	switch config.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return errors.ConfigValidationError("logging.level", "must be trace, debug, info, warn or error")
	}
	switch config.Logging.Format {
	case "", "text", "json":
	default:
		return errors.ConfigValidationError("logging.format", "must be text or json")
	}

	return nil
}

// expandPaths expands tilde paths in the configuration
func expandPaths(config *GlobalConfig) error {
	if !strings.HasPrefix(config.Storage.DatabasePath, "~/") {
		return nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	config.Storage.DatabasePath = filepath.Join(homeDir, config.Storage.DatabasePath[2:])
	return nil
}

// Duration is a time.Duration written as a Go duration string ("1s", "250ms")
// in TOML and YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

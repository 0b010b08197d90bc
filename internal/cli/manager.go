package cli

import (
	"context"
	"io"

	"apphost/internal/cli/commands"

	"github.com/spf13/cobra"
)

// Manager handles CLI operations
type Manager struct {
	up      commands.UpOptions
	rootCmd *cobra.Command
}

// New creates a new CLI manager with every command registered
func New() *Manager {
	return NewWithOptions(commands.UpOptions{})
}

// NewWithOptions creates a CLI manager whose `up` command uses the given
// launchers and probers
func NewWithOptions(up commands.UpOptions) *Manager {
	m := &Manager{up: up}
	m.rootCmd = createRootCommand()
	m.setupCommands()
	return m
}

// SetOutput redirects command output
func (m *Manager) SetOutput(out io.Writer) {
	m.rootCmd.SetOut(out)
	m.rootCmd.SetErr(out)
}

// Execute executes the CLI with the given arguments
func (m *Manager) Execute(args []string) error {
	return m.ExecuteWithContext(context.Background(), args)
}

// ExecuteWithContext executes the CLI with the given arguments and context
func (m *Manager) ExecuteWithContext(ctx context.Context, args []string) error {
	m.rootCmd.SetArgs(args)
	return m.rootCmd.ExecuteContext(ctx)
}

// setupCommands sets up all CLI commands
func (m *Manager) setupCommands() {
	for _, cmd := range commands.UpCommands(m.up) {
		m.rootCmd.AddCommand(cmd)
	}
	for _, cmd := range commands.ManifestCommands() {
		m.rootCmd.AddCommand(cmd)
	}
	for _, cmd := range commands.StatusCommands() {
		m.rootCmd.AddCommand(cmd)
	}
	for _, cmd := range commands.HistoryCommands() {
		m.rootCmd.AddCommand(cmd)
	}

	// Add configuration commands
	configCmd := &cobra.Command{
		Use:     "config",
		Short:   "Global configuration commands",
		Aliases: []string{"cfg"},
	}
	for _, cmd := range commands.ConfigCommands() {
		configCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(configCmd)
}

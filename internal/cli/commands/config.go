package commands

import (
	"fmt"
	"os"

	"apphost/internal/cli/ui"
	"apphost/internal/config"
	"apphost/internal/errors"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// globalConfigPath returns the --config flag or the XDG location
func globalConfigPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return config.GlobalConfigPath()
}

// LoadGlobal loads the global configuration selected by cmd
func LoadGlobal(cmd *cobra.Command) (*config.GlobalConfig, error) {
	path, err := globalConfigPath(cmd)
	if err != nil {
		return nil, err
	}
	return config.LoadGlobalConfigFrom(path)
}

// ConfigCommands creates configuration management commands
func ConfigCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// apphost config show
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective global configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd)
		},
	}
	commands = append(commands, showCmd)

	// apphost config init
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default global configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return initGlobalConfig(cmd, force)
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	commands = append(commands, initCmd)

	// apphost config path
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the global configuration file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := globalConfigPath(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	commands = append(commands, pathCmd)

	return commands
}

func showConfig(cmd *cobra.Command) error {
	path, err := globalConfigPath(cmd)
	if err != nil {
		return err
	}
	global, err := config.LoadGlobalConfigFrom(path)
	if err != nil {
		return err
	}

	data, err := toml.Marshal(global)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(out, "# %s does not exist; showing defaults\n", path)
	} else {
		fmt.Fprintf(out, "# %s\n", path)
	}
	_, err = out.Write(data)
	return err
}

func initGlobalConfig(cmd *cobra.Command, force bool) error {
	path, err := globalConfigPath(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewWithDetails(errors.ErrConfigInvalid, "Global configuration already exists", path)
	}

	if err := config.DefaultGlobalConfig().Save(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Created %s", path))
	return nil
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"apphost/internal/cli/ui"
	"apphost/internal/config"
	"apphost/internal/constants"
	"apphost/internal/errors"
	"apphost/internal/graph"

	"github.com/spf13/cobra"
)

// ManifestCommands creates the commands that inspect a manifest without
// starting anything
func ManifestCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// apphost validate
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and its dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, resources, err := loadResources(cmd)
			if err != nil {
				return err
			}
			g, err := graph.Build(resources)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("%s: %d resources, start order %s",
				m.Path, g.Len(), strings.Join(g.TopoOrder(), " → ")))
			return nil
		},
	}
	addFileFlag(validateCmd)
	commands = append(commands, validateCmd)

	// apphost graph
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph",
		Long: `Print the dependency graph of the manifest as Graphviz DOT, Mermaid or JSON.
WaitFor edges are solid, reference-only edges dashed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			_, resources, err := loadResources(cmd)
			if err != nil {
				return err
			}
			g, err := graph.Build(resources)
			if err != nil {
				return err
			}
			return printGraph(cmd, g, format)
		},
	}
	addFileFlag(graphCmd)
	graphCmd.Flags().String("format", "dot", "Output format: dot, mermaid or json")
	commands = append(commands, graphCmd)

	// apphost init
	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a sample apphost.toml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return initManifest(cmd, dir, force)
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing manifest")
	commands = append(commands, initCmd)

	return commands
}

func printGraph(cmd *cobra.Command, g *graph.Graph, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "dot":
		fmt.Fprint(out, g.DOT())
	case "mermaid":
		fmt.Fprint(out, g.Mermaid())
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(g.Export())
	default:
		return errors.NewWithDetails(errors.ErrValidation, "Invalid format", fmt.Sprintf("%q (want dot, mermaid or json)", format))
	}
	return nil
}

func initManifest(cmd *cobra.Command, dir string, force bool) error {
	path := filepath.Join(dir, config.ManifestNames[0])
	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewWithDetails(errors.ErrConfigInvalid, "Manifest already exists", path)
	}

	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return errors.FileWriteFailed(dir, err)
	}
	if err := os.WriteFile(path, []byte(config.SampleManifest), constants.FilePermissions); err != nil {
		return errors.FileWriteFailed(path, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Created %s", path))
	fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("Run 'apphost up' to start the application."))
	return nil
}

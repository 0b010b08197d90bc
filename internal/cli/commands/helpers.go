package commands

import (
	"fmt"
	"os"

	"apphost/internal/config"
	"apphost/internal/resource"

	"github.com/spf13/cobra"
)

// manifestPath returns the --file flag or the manifest found in the working
// directory
func manifestPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		return path, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.FindManifest(dir)
}

// loadResources loads the manifest selected by cmd and builds its resources
func loadResources(cmd *cobra.Command) (*config.Manifest, []resource.Resource, error) {
	path, err := manifestPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	m, err := config.LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	resources, err := m.Build()
	if err != nil {
		return nil, nil, err
	}
	return m, resources, nil
}

// addFileFlag registers --file on cmd
func addFileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "Path to the manifest (default: apphost.toml in the current directory)")
}

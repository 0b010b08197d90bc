package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"apphost/internal/cli/ui"
	"apphost/internal/constants"
	"apphost/internal/errors"
	"apphost/internal/server"

	"github.com/spf13/cobra"
)

// StatusCommands creates the command that queries a running apphost
func StatusCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// apphost status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the resources of a running application",
		Long: `Query the status API of a running 'apphost up' and print each resource
with its state and endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			asJSON, _ := cmd.Flags().GetBool("json")
			if serverURL == "" {
				global, err := LoadGlobal(cmd)
				if err != nil {
					return err
				}
				serverURL = "http://" + net.JoinHostPort(global.Server.Host, strconv.Itoa(global.Server.Port))
			}
			return showStatus(cmd, serverURL, asJSON)
		},
	}
	statusCmd.Flags().String("server", "", "Status API URL (default: from the global configuration)")
	statusCmd.Flags().Bool("json", false, "Print the raw JSON response")
	commands = append(commands, statusCmd)

	return commands
}

func showStatus(cmd *cobra.Command, serverURL string, asJSON bool) error {
	status, err := fetchStatus(cmd.Context(), serverURL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(out, ui.InfoMsg("Run %s", status.RunID))
	fmt.Fprintln(out, renderResources(status.Resources))
	return nil
}

func fetchStatus(ctx context.Context, serverURL string) (*server.StatusResponse, error) {
	endpoint := strings.TrimRight(serverURL, "/") + "/api/resources"
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPClientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.APICallFailed(endpoint, 0, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.APICallFailed(endpoint, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.APICallFailed(endpoint, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	var status server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.APICallFailed(endpoint, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return &status, nil
}

// renderResources draws the resource table shared by `up` and `status`
func renderResources(resources []server.ResourceResponse) string {
	rows := make([][]string, 0, len(resources))
	for _, r := range resources {
		var endpoints []string
		for _, ep := range r.Endpoints {
			if ep.URL != "" {
				endpoints = append(endpoints, ep.URL)
			} else {
				endpoints = append(endpoints, ep.Name+" (unbound)")
			}
		}
		rows = append(rows, []string{
			r.Name,
			r.Kind,
			ui.State(string(r.State)),
			strings.Join(endpoints, "\n"),
			r.Error,
		})
	}
	return ui.Table([]string{"RESOURCE", "KIND", "STATE", "ENDPOINTS", "ERROR"}, rows)
}

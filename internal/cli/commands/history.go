package commands

import (
	"fmt"
	"os"
	"time"

	"apphost/internal/cli/ui"
	"apphost/internal/constants"
	"apphost/internal/db"
	"apphost/internal/errors"

	"github.com/spf13/cobra"
)

// HistoryCommands creates the commands that read stored runs
func HistoryCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// apphost history
	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List previous runs or show the transitions of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
	}
	historyCmd.Flags().IntP("limit", "n", constants.DefaultHistoryLimit, "Number of runs to list")
	commands = append(commands, historyCmd)

	return commands
}

// openHistory opens the run history database. It does not create one.
func openHistory(cmd *cobra.Command) (*db.DB, error) {
	global, err := LoadGlobal(cmd)
	if err != nil {
		return nil, err
	}
	path := global.Storage.DatabasePath
	if path == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "run history is disabled (storage.database_path is empty)")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.NewWithDetails(errors.ErrNotFound, "No run history yet", path)
	}

	cfg := db.DefaultConfig()
	cfg.DSN = path
	return db.New(cfg)
}

func listRuns(cmd *cobra.Command, store db.HistoryStore, limit int) error {
	opts := db.DefaultPaginationOptions()
	opts.PageSize = limit
	page, err := store.ListRuns(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(page.Data) == 0 {
		fmt.Fprintln(out, ui.Muted("No runs recorded."))
		return nil
	}

	rows := make([][]string, 0, len(page.Data))
	for _, run := range page.Data {
		duration := "-"
		if ended, ok := run.Ended(); ok {
			duration = ended.Sub(run.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			runStatus(run.Status),
			run.Manifest,
			run.Error,
		})
	}
	fmt.Fprintln(out, ui.Table([]string{"RUN", "STARTED", "DURATION", "STATUS", "MANIFEST", "ERROR"}, rows))
	if page.TotalItems > len(page.Data) {
		fmt.Fprintln(out, ui.Muted(fmt.Sprintf("Showing %d of %d runs.", len(page.Data), page.TotalItems)))
	}
	return nil
}

func showRun(cmd *cobra.Command, store db.HistoryStore, id string) error {
	run, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	transitions, err := store.ListTransitions(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.InfoMsg("Run %s (%s) %s", run.ID, run.Manifest, runStatus(run.Status)))
	if run.Error != "" {
		fmt.Fprintln(out, ui.ErrorMsg("%s", run.Error))
	}

	rows := make([][]string, 0, len(transitions))
	for _, t := range transitions {
		rows = append(rows, []string{
			t.At.Sub(run.StartedAt).Round(time.Millisecond).String(),
			t.Resource,
			t.From + " → " + ui.State(t.To),
			t.Error,
		})
	}
	fmt.Fprintln(out, ui.Table([]string{"AT", "RESOURCE", "TRANSITION", "ERROR"}, rows))
	return nil
}

func runStatus(s db.RunStatus) string {
	switch s {
	case db.RunRunning:
		return ui.SuccessStyle.Render(string(s))
	case db.RunFailed:
		return ui.ErrorStyle.Render(string(s))
	default:
		return ui.Muted(string(s))
	}
}

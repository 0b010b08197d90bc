package commands

import (
	"context"
	"fmt"
	"sync"

	"apphost/internal/cli/ui"
	"apphost/internal/config"
	"apphost/internal/db"
	"apphost/internal/errors"
	"apphost/internal/events"
	"apphost/internal/launcher"
	"apphost/internal/logger"
	"apphost/internal/orchestrator"
	"apphost/internal/readiness"
	"apphost/internal/runstate"
	"apphost/internal/server"
	"apphost/internal/supervisor"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

// UpOptions replaces the collaborators `apphost up` uses. Nil fields select
// the real launchers and probers.
type UpOptions struct {
	Launchers launcher.Registry
	Probers   readiness.Probers
}

// UpCommands creates the command that runs an application
func UpCommands(opts UpOptions) []*cobra.Command {
	commands := []*cobra.Command{}

	// apphost up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Start every resource of the manifest and keep them running",
		Long: `Start every resource declared in the manifest in dependency order, wait
for health checks, print the resulting endpoints and keep the application
running until interrupted (SIGINT or SIGTERM). Resources are stopped in reverse dependency order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			global, err := LoadGlobal(cmd)
			if err != nil {
				return err
			}
			if err := applyUpFlags(cmd, global); err != nil {
				return err
			}
			return runUp(cmd, global, opts)
		},
	}
	addFileFlag(upCmd)
	upCmd.Flags().String("cascade", "", "What happens to dependents when a resource exits: none or dependents")
	upCmd.Flags().Bool("no-server", false, "Do not start the status API")
	upCmd.Flags().Int("port", 0, "Status API port (0 keeps the configured port)")
	upCmd.Flags().Bool("stop-on-failure", false, "Stop independent resources when any resource fails to start")
	upCmd.Flags().Bool("no-history", false, "Do not record this run")
	upCmd.Flags().Bool("trace", false, "Print how long each resource took to start")
	commands = append(commands, upCmd)

	return commands
}

// applyUpFlags overrides the global configuration with explicitly set flags
func applyUpFlags(cmd *cobra.Command, global *config.GlobalConfig) error {
	flags := cmd.Flags()
	if flags.Changed("cascade") {
		global.Orchestrator.Cascade, _ = flags.GetString("cascade")
	}
	if noServer, _ := flags.GetBool("no-server"); noServer {
		global.Server.Enabled = false
	}
	if port, _ := flags.GetInt("port"); port != 0 {
		global.Server.Port = port
	}
	if stop, _ := flags.GetBool("stop-on-failure"); stop {
		global.Orchestrator.StopOnStartupFailure = true
	}
	if noHistory, _ := flags.GetBool("no-history"); noHistory {
		global.Storage.DatabasePath = ""
	}
	return config.ValidateGlobalConfig(global)
}

func runUp(cmd *cobra.Command, global *config.GlobalConfig, opts UpOptions) error {
	m, resources, err := loadResources(cmd)
	if err != nil {
		return err
	}
	cascade, err := supervisor.ParseCascade(global.Orchestrator.Cascade)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	runID := uuid.New().String()
	broker := events.NewBroker(0)
	defer broker.Close()
	observers := []runstate.Observer{events.LogObserver{}, broker}

	names := make([]string, 0, len(resources))
	for _, res := range resources {
		names = append(names, res.Name)
	}
	store := openRunStore(ctx, global, &db.Run{
		ID:       runID,
		Manifest: m.Path,
		Metadata: db.JSONB{"resources": names, "cascade": string(cascade)},
	})
	var history db.HistoryStore
	var recorder *db.Recorder
	if store != nil {
		defer store.Close()
		history = store
		recorder = db.NewRecorder(store, runID)
		observers = append(observers, recorder)
	}

	var tracer trace.Tracer
	if enabled, _ := cmd.Flags().GetBool("trace"); enabled {
		telemetry := ui.NewTelemetryOutput(cmd.ErrOrStderr())
		defer telemetry.Close()
		tracer = telemetry.Tracer("apphost")
	}

	out := cmd.OutOrStdout()
	var orch *orchestrator.Orchestrator
	orch, err = orchestrator.New(resources, orchestrator.Options{
		RunID:         runID,
		Launchers:     opts.Launchers,
		Probers:       opts.Probers,
		Cascade:       cascade,
		GracePeriod:   global.Orchestrator.GracePeriod.Duration,
		AbortTimeout:  global.Orchestrator.AbortTimeout.Duration,
		StopOnFailure: global.Orchestrator.StopOnStartupFailure,
		Observers:     observers,
		Tracer:        tracer,
		OnStarted: func(startErr error) {
			fmt.Fprintln(out, renderResources(server.Status(orch).Resources))
			if startErr != nil {
				fmt.Fprintln(out, ui.ErrorMsg("%v", startErr))
			}
			stopping := startErr != nil && global.Orchestrator.StopOnStartupFailure
			if running := orch.Running(); len(running) > 0 && !stopping {
				msg := ui.SuccessMsg
				if startErr != nil {
					msg = ui.WarnMsg
				}
				fmt.Fprintln(out, msg("%d of %d resources ready. Press Ctrl+C to stop.", len(running), orch.Graph().Len()))
			}
			if store != nil {
				status := db.RunRunning
				if startErr != nil && (len(orch.Running()) == 0 || stopping) {
					status = db.RunFailed
				}
				if err := store.UpdateRunStatus(context.Background(), runID, status, errString(startErr)); err != nil {
					logger.WithError(err).Debug("Failed to update run status")
				}
			}
		},
	})
	if err != nil {
		if store != nil {
			_ = store.FinishRun(context.Background(), runID, db.RunFailed, err.Error())
		}
		return err
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(context.Background())
	if global.Server.Enabled {
		cfg := server.DefaultConfig()
		cfg.Host = global.Server.Host
		cfg.Port = global.Server.Port
		srv := server.New(cfg, orch, broker, history)
		fmt.Fprintln(out, ui.InfoMsg("Status API at %s", ui.Accent("http://"+srv.Addr())))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(serverCtx); err != nil {
				logger.WithError(err).Warn("Status API stopped")
			}
		}()
	}

	runErr := orch.Run(ctx)

	stopServer()
	wg.Wait()
	if recorder != nil {
		recorder.Close()
	}
	if store != nil {
		status := db.RunStopped
		var failure *errors.StartupFailure
		if errors.As(runErr, &failure) {
			status = db.RunFailed
		}
		if err := store.FinishRun(context.Background(), runID, status, errString(runErr)); err != nil {
			logger.WithError(err).Debug("Failed to finish run")
		}
	}

	if runErr != nil {
		return runErr
	}
	fmt.Fprintln(out, ui.SuccessMsg("All resources stopped"))
	return nil
}

// openRunStore opens the history database and records the run. History is
// best effort: failures are logged and the run continues without it.
func openRunStore(ctx context.Context, global *config.GlobalConfig, run *db.Run) *db.DB {
	if global.Storage.DatabasePath == "" {
		return nil
	}
	cfg := db.DefaultConfig()
	cfg.DSN = global.Storage.DatabasePath
	store, err := db.New(cfg)
	if err != nil {
		logger.WithError(err).Warn("Run history unavailable")
		return nil
	}
	if err := store.CreateRun(ctx, run); err != nil {
		logger.WithError(err).Warn("Run history unavailable")
		store.Close()
		return nil
	}
	return store
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

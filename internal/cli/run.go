package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync in the background until interrupted",
		Long: `Start the sync orchestrator and keep it running.

A cycle runs at startup, whenever the health endpoint becomes reachable
again and on every sync interval. Ctrl-C (or SIGTERM) cancels the active
cycle and stops the orchestrator.

Example:
  fieldsync run
  fieldsync run --config ./fieldsync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(rootOpts, cmd)
		},
	}

	return cmd
}

func runOrchestrator(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := signalContext(cmd)
	defer cancel()

	monitor, prober := a.prober(false)
	orch, err := a.orchestrator(monitor)
	if err != nil {
		return formatter.Fail("start orchestrator", err)
	}

	go prober.Run(ctx)
	if err := orch.Start(ctx); err != nil {
		return formatter.Fail("start orchestrator", err)
	}

	slog.Info("orchestrator running",
		"db", a.cfg.DatabasePath,
		"remote", a.cfg.RemoteURL,
		"interval", a.cfg.SyncInterval,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync running. Press Ctrl-C to stop.")

	<-ctx.Done()
	orch.Stop()

	slog.Info("orchestrator stopped gracefully")
	return nil
}

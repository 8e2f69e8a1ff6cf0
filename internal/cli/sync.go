package cli

import (
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Run one sync cycle against the configured remote and print its report.

The health endpoint is probed first; when the remote is unreachable the
cycle ends at once and the queue is left for a later run. Ctrl-C cancels
the cycle; work already acknowledged by the remote is kept.

Example:
  fieldsync sync
  fieldsync sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}

	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	monitor, prober := a.prober(false)
	online := prober.Probe(ctx)
	formatter.VerboseLog("remote %s reachable: %t", a.cfg.RemoteURL, online)

	orch, err := a.orchestrator(monitor)
	if err != nil {
		return formatter.Fail("sync", err)
	}
	defer orch.Stop()

	rep, err := orch.SyncNow(ctx, "manual")
	if err != nil {
		return formatter.Fail("sync", err)
	}
	return formatter.Success(newSyncView(rep))
}

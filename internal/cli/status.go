package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show unsynced records, queued and stuck mutations",
		Long: `Show the local sync state without contacting the remote: unsynced record
counts and pending mutations per entity type, mutations stuck after
exhausting their retries, and conflicts held for a decision.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	unsynced, err := a.store.CountUnsynced(ctx)
	if err != nil {
		return formatter.Fail("status", err)
	}
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return formatter.Fail("status", err)
	}
	stuck, err := a.store.ListStuck(ctx)
	if err != nil {
		return formatter.Fail("status", err)
	}
	held, err := a.store.ListHeld(ctx)
	if err != nil {
		return formatter.Fail("status", err)
	}

	return formatter.Success(newStatusView(unsynced, stats, stuck, held, a.keyring.HasToken(ctx)))
}

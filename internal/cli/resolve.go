package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	SyncNow bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <type> <local-id> <strategy>",
		Short: "Settle a conflict held for a decision",
		Long: `Record how a held conflict is settled. Strategy is one of server_wins,
client_wins or merge. The next sync cycle, in this or any other process,
applies the decision; --sync runs that cycle right away.

Held conflicts are listed by 'fieldsync status'.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, cmd, args[0], args[1], args[2])
		},
	}

	cmd.Flags().BoolVar(&opts.SyncNow, "sync", false, "run a sync cycle after recording the decision")

	return cmd
}

// decisionView reports a recorded decision.
type decisionView struct {
	EntityType string    `json:"entity_type"`
	LocalID    string    `json:"local_id"`
	Strategy   string    `json:"strategy"`
	Sync       *syncView `json:"sync,omitempty"`
}

func (v decisionView) String() string {
	s := fmt.Sprintf("%s %s will be settled with %s", v.EntityType, v.LocalID, v.Strategy)
	if v.Sync != nil {
		s += "\n" + v.Sync.String()
	}
	return s
}

func runResolve(opts *ResolveOptions, cmd *cobra.Command, typ, localID, strategy string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	et, err := parseEntityType(typ)
	if err != nil {
		return formatter.Fail("resolve", err)
	}
	st, err := conflict.ParseStrategy(strategy)
	if err != nil {
		return formatter.Fail("resolve", syncerr.Validation("parse strategy", err))
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	monitor, prober := a.prober(false)
	orch, err := a.orchestrator(monitor)
	if err != nil {
		return formatter.Fail("resolve", err)
	}
	defer orch.Stop()

	if err := orch.Decide(ctx, et, localID, st); err != nil {
		return formatter.Fail("resolve", err)
	}

	v := decisionView{EntityType: string(et), LocalID: localID, Strategy: string(st)}
	if opts.SyncNow {
		prober.Probe(ctx)
		rep, err := orch.SyncNow(ctx, "decision")
		if err != nil {
			return formatter.Fail("sync", err)
		}
		sv := newSyncView(rep)
		v.Sync = &sv
	}
	return formatter.Success(v)
}

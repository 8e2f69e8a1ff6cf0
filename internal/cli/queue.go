package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/record"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate on the mutation queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <mutation-id>",
		Short: "Return a stuck mutation to the queue",
		Long: `Return a stuck mutation to the pending state with a fresh retry budget.
The next sync cycle pushes it again, together with any mutations of the same
record that were held behind it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRetry(rootOpts, cmd, args[0])
		},
	})

	return cmd
}

// requeuedView reports a mutation returned to the queue.
type requeuedView struct {
	MutationID string `json:"mutation_id"`
	EntityType string `json:"entity_type"`
	LocalID    string `json:"local_id"`
	Operation  string `json:"operation"`
}

func (v requeuedView) String() string {
	return fmt.Sprintf("requeued %s %s %s mutation=%s", v.EntityType, v.LocalID, v.Operation, v.MutationID)
}

func runQueueRetry(opts *RootOptions, cmd *cobra.Command, id string) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	m, err := a.store.GetMutation(ctx, id)
	if err != nil {
		return formatter.Fail("retry mutation", err)
	}
	if m.State != record.StateStuck {
		formatter.VerboseLog("mutation %s is %s, resetting its retry budget", id, m.State)
	}
	if err := a.store.Requeue(ctx, id); err != nil {
		return formatter.Fail("retry mutation", err)
	}

	return formatter.Success(requeuedView{
		MutationID: m.ID,
		EntityType: string(m.EntityType),
		LocalID:    m.TargetLocalID,
		Operation:  string(m.Operation),
	})
}

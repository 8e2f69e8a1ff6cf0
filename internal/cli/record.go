package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// RecordOptions holds flags for the record commands.
type RecordOptions struct {
	*RootOptions
	Unsynced bool
}

// NewRecordCommand creates the record command group.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Create, change and inspect local records",
		Long: `Write records to the local database. Every write is queued for the next
sync cycle; nothing here needs connectivity.

Entity types: log_entry, ticket, pm_task. Payloads are JSON objects, e.g.
  fieldsync record create ticket '{"title":"leak in boiler room","priority":"high"}'
  fieldsync record update ticket <local-id> '{"title":"leak fixed","status":"closed"}'`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "create <type> <json>",
		Short:         "Capture a new record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordCreate(opts, cmd, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "update <type> <local-id> <json>",
		Short:         "Replace a record's payload",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordUpdate(opts, cmd, args[0], args[1], args[2])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <type> <local-id>",
		Short:         "Delete a record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordDelete(opts, cmd, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "get <type> <local-id>",
		Short:         "Show one record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordGet(opts, cmd, args[0], args[1])
		},
	})

	list := &cobra.Command{
		Use:           "list <type>",
		Short:         "List the records of a type",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordList(opts, cmd, args[0])
		},
	}
	list.Flags().BoolVar(&opts.Unsynced, "unsynced", false, "only records not yet confirmed by the remote")
	cmd.AddCommand(list)

	return cmd
}

func parsePayload(typ, data string) (record.Payload, error) {
	et, err := record.ParseEntityType(typ)
	if err != nil {
		return nil, syncerr.Validation("parse entity type", err)
	}
	p, err := record.DecodePayload(et, []byte(data))
	if err != nil {
		return nil, syncerr.Validation("parse payload", err)
	}
	return p, nil
}

func parseEntityType(typ string) (record.EntityType, error) {
	et, err := record.ParseEntityType(typ)
	if err != nil {
		return "", syncerr.Validation("parse entity type", err)
	}
	return et, nil
}

func runRecordCreate(opts *RecordOptions, cmd *cobra.Command, typ, data string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := parsePayload(typ, data)
	if err != nil {
		return formatter.Fail("create record", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, mut, err := a.store.CreateRecord(commandContext(cmd), p)
	if err != nil {
		return formatter.Fail("create record", err)
	}
	formatter.VerboseLog("queued %s mutation %s", mut.Operation, mut.ID)

	v := newRecordView(rec)
	v.MutationID = mut.ID
	return formatter.Success(v)
}

func runRecordUpdate(opts *RecordOptions, cmd *cobra.Command, typ, localID, data string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := parsePayload(typ, data)
	if err != nil {
		return formatter.Fail("update record", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, mut, err := a.store.UpdateRecord(commandContext(cmd), localID, p)
	if err != nil {
		return formatter.Fail("update record", err)
	}

	v := newRecordView(rec)
	if mut != nil {
		formatter.VerboseLog("queued %s mutation %s changing %v", mut.Operation, mut.ID, mut.ChangedFields)
		v.MutationID = mut.ID
	} else {
		formatter.VerboseLog("payload unchanged, nothing queued")
	}
	return formatter.Success(v)
}

func runRecordDelete(opts *RecordOptions, cmd *cobra.Command, typ, localID string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	et, err := parseEntityType(typ)
	if err != nil {
		return formatter.Fail("delete record", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	mut, err := a.store.DeleteRecord(ctx, et, localID)
	if err != nil {
		return formatter.Fail("delete record", err)
	}
	if mut != nil {
		formatter.VerboseLog("queued %s mutation %s", mut.Operation, mut.ID)
	}

	rec, err := a.store.Get(ctx, et, localID)
	if err != nil {
		return formatter.Fail("delete record", err)
	}
	v := newRecordView(rec)
	if mut != nil {
		v.MutationID = mut.ID
	}
	return formatter.Success(v)
}

func runRecordGet(opts *RecordOptions, cmd *cobra.Command, typ, localID string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	et, err := parseEntityType(typ)
	if err != nil {
		return formatter.Fail("get record", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.Get(commandContext(cmd), et, localID)
	if err != nil {
		return formatter.Fail("get record", err)
	}
	return formatter.Success(newRecordView(rec))
}

func runRecordList(opts *RecordOptions, cmd *cobra.Command, typ string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	et, err := parseEntityType(typ)
	if err != nil {
		return formatter.Fail("list records", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	var recs []record.Record
	if opts.Unsynced {
		recs, err = a.store.ListPendingUnsynced(ctx, et)
	} else {
		recs, err = a.store.ListRecords(ctx, et)
	}
	if err != nil {
		return formatter.Fail("list records", err)
	}

	list := recordList{}
	for _, rec := range recs {
		list = append(list, newRecordView(rec))
	}
	return formatter.Success(list)
}

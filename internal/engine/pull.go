package engine

import (
	"context"
	"time"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// pullResult carries the pull of one entity type into reconciliation.
type pullResult struct {
	report Report
	// cases diverge from queued local changes, oldest remote change first.
	cases []conflict.Case
	// decisions are the decision rows of the type, keyed by local id.
	decisions map[string]string
	// through is the updatedAt of the last remote change processed.
	through time.Time
}

// pull fetches the remote changes of one entity type after its cursor.
// Changes to records with nothing queued are applied at once; changes that
// diverge from queued local work become conflict cases.
//
// A transient failure ends the type's pull for this cycle; the cursor still
// advances over the pages already processed.
func (o *Orchestrator) pull(ctx context.Context, token string, et record.EntityType) (pullResult, error) {
	var res pullResult
	sctx := context.WithoutCancel(ctx)

	cur, err := o.store.Cursor(sctx, et)
	if err != nil {
		return res, cycleErr(StatePulling, et, err)
	}
	res.decisions, err = o.store.Decisions(sctx, et)
	if err != nil {
		return res, cycleErr(StatePulling, et, err)
	}

	since := cur.LastPulledAt
	for {
		if ctx.Err() != nil {
			return res, nil
		}

		rctx, cancel := o.remoteContext(ctx)
		cs, err := o.remote.Changes(rctx, token, remote.ChangesRequest{
			EntityType: et,
			Since:      since,
			Limit:      o.pageSize,
		})
		cancel()
		if err != nil {
			if syncerr.IsAuth(err) {
				return res, cycleErr(StatePulling, et, err)
			}
			res.report.Deferred = append(res.report.Deferred, Deferral{
				EntityType: et,
				Phase:      StatePulling,
				Message:    err.Error(),
			})
			o.logger.Warn("pull failed, will retry",
				"entity_type", et,
				"since", since,
				"error", err,
			)
			return res, nil
		}

		for _, rv := range cs.Versions {
			if ctx.Err() != nil {
				return res, nil
			}
			if err := o.classify(sctx, rv, &res); err != nil {
				return res, cycleErr(StatePulling, et, err)
			}
			res.through = rv.UpdatedAt
			since = rv.UpdatedAt
		}

		if !cs.HasMore || len(cs.Versions) == 0 {
			return res, nil
		}
	}
}

// classify routes one remote change: apply it, skip it, or turn it into a
// conflict case.
func (o *Orchestrator) classify(ctx context.Context, rv record.RemoteVersion, res *pullResult) error {
	local, found, err := o.store.Match(ctx, rv)
	if err != nil {
		return err
	}
	if !found {
		return o.applyRemote(ctx, rv, res)
	}
	// Already known, typically the echo of our own acknowledged write.
	if !rv.UpdatedAt.After(local.ServerUpdatedAt) {
		res.report.Skipped++
		return nil
	}

	pending, err := o.store.PendingFor(ctx, rv.EntityType, local.LocalID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		if _, ok := res.decisions[local.LocalID]; ok {
			// Nothing left to decide about.
			if err := o.store.ClearDecision(ctx, rv.EntityType, local.LocalID); err != nil {
				return err
			}
			delete(res.decisions, local.LocalID)
		}
		return o.applyRemote(ctx, rv, res)
	}

	c := newCase(local, pending, rv)
	if _, decided := res.decisions[local.LocalID]; decided {
		res.cases = append(res.cases, c)
		return nil
	}

	if !c.LocalDeleted && !rv.Deleted {
		same, err := samePayload(local.Payload, rv.Payload)
		if err != nil {
			return err
		}
		if same {
			res.report.Skipped++
			return nil
		}
	}

	if conflict.DetectConflict(rv.UpdatedAt, c.LocalQueuedAt, o.skew) {
		res.cases = append(res.cases, c)
		return nil
	}

	// The local change is newer; the next push overwrites the remote.
	res.report.Skipped++
	o.logger.Debug("remote change superseded by local",
		"entity_type", rv.EntityType,
		"local_id", local.LocalID,
		"server_updated_at", rv.UpdatedAt,
		"local_queued_at", c.LocalQueuedAt,
	)
	return nil
}

func (o *Orchestrator) applyRemote(ctx context.Context, rv record.RemoteVersion, res *pullResult) error {
	if _, err := o.store.ApplyRemote(ctx, rv); err != nil {
		return err
	}
	res.report.Pulled++
	return nil
}

// newCase describes the divergence between a record's queued mutations and
// a remote change.
func newCase(local record.Record, pending []record.Mutation, rv record.RemoteVersion) conflict.Case {
	c := conflict.Case{
		EntityType:    local.EntityType,
		LocalID:       local.LocalID,
		LocalData:     local.Payload,
		LocalDeleted:  local.IsDeleted,
		LocalQueuedAt: pending[0].QueuedAt,
		Server:        rv,
	}
	for _, m := range pending {
		if m.Operation == record.OpDelete {
			c.LocalDeleted = true
		}
		c.ChangedFields = record.UnionFields(c.ChangedFields, m.ChangedFields)
	}
	return c
}

func samePayload(a, b record.Payload) (bool, error) {
	fa, err := record.Fingerprint(a)
	if err != nil {
		return false, err
	}
	fb, err := record.Fingerprint(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}

package engine

import (
	"context"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// push drains the pending mutations of one entity type in enqueue order.
//
// A record is skipped while a conflict decision row exists for it or while
// one of its mutations is stuck, so its later mutations never overtake the
// blocked one. A transient failure or a head mutation still inside its
// backoff window ends the type for this cycle.
func (o *Orchestrator) push(ctx context.Context, token string, et record.EntityType) (Report, error) {
	var part Report
	// Store writes outlive Cancel so an acknowledged call is always recorded.
	sctx := context.WithoutCancel(ctx)

	muts, err := o.store.PeekOrdered(sctx, et)
	if err != nil {
		return part, cycleErr(StatePushing, et, err)
	}
	if len(muts) == 0 {
		return part, nil
	}

	blocked, err := o.blockedRecords(sctx, et)
	if err != nil {
		return part, cycleErr(StatePushing, et, err)
	}

	for _, m := range muts {
		if ctx.Err() != nil {
			return part, nil
		}
		if blocked[m.TargetLocalID] {
			continue
		}
		if m.NextAttemptAt.After(o.clock.Now()) {
			o.logger.Debug("push deferred: backoff",
				"entity_type", et,
				"mutation_id", m.ID,
				"next_attempt_at", m.NextAttemptAt,
			)
			return part, nil
		}

		stop, err := o.pushOne(sctx, token, m, &part)
		if err != nil {
			return part, err
		}
		if stop {
			return part, nil
		}
	}
	return part, nil
}

// pushOne sends one mutation and records the outcome. It returns stop=true
// when the entity type must not push anything else this cycle.
func (o *Orchestrator) pushOne(ctx context.Context, token string, m record.Mutation, part *Report) (bool, error) {
	et := m.EntityType

	rec, err := o.store.Get(ctx, et, m.TargetLocalID)
	if err != nil {
		return false, cycleErr(StatePushing, et, err)
	}

	if !m.Attempted {
		if err := o.store.MarkAttempted(ctx, m.ID); err != nil {
			return false, cycleErr(StatePushing, et, err)
		}
	}

	rctx, cancel := o.remoteContext(ctx)
	ack, err := o.remote.Write(rctx, token, remote.NewWriteRequest(m, rec.ServerID))
	cancel()

	switch {
	case err == nil:
		if err := o.store.Acknowledge(ctx, m, ack); err != nil {
			return false, cycleErr(StatePushing, et, err)
		}
		part.Pushed++
		o.logger.Debug("mutation pushed",
			"entity_type", et,
			"mutation_id", m.ID,
			"operation", m.Operation,
			"server_id", ack.ServerID,
		)
		return false, nil

	case syncerr.IsValidation(err):
		if err := o.store.Reject(ctx, m); err != nil {
			return false, cycleErr(StatePushing, et, err)
		}
		part.DataErrors = append(part.DataErrors, DataError{
			MutationID: m.ID,
			EntityType: et,
			LocalID:    m.TargetLocalID,
			Operation:  m.Operation,
			Message:    err.Error(),
		})
		o.logger.Warn("mutation rejected",
			"entity_type", et,
			"mutation_id", m.ID,
			"error", err,
		)
		return false, nil

	case syncerr.IsAuth(err):
		return true, cycleErr(StatePushing, et, err)

	default:
		return true, o.recordFailure(ctx, m, err, part)
	}
}

// recordFailure stores a transient failure and gates the next attempt with
// backoff. A mutation past the retry cap becomes stuck.
func (o *Orchestrator) recordFailure(ctx context.Context, m record.Mutation, cause error, part *Report) error {
	et := m.EntityType
	next := o.clock.Now().Add(o.retry.Delay(m.RetryCount + 1))

	updated, err := o.store.RecordFailure(ctx, m.ID, cause, next)
	if err != nil {
		return cycleErr(StatePushing, et, err)
	}

	if updated.RetryCount > o.maxRetries {
		if err := o.store.MarkStuck(ctx, m.ID); err != nil {
			return cycleErr(StatePushing, et, err)
		}
		part.Stuck = append(part.Stuck, StuckMutation{
			MutationID: m.ID,
			EntityType: et,
			LocalID:    m.TargetLocalID,
			RetryCount: updated.RetryCount,
			LastError:  updated.LastError,
		})
		o.logger.Error("mutation stuck",
			"entity_type", et,
			"mutation_id", m.ID,
			"retry_count", updated.RetryCount,
			"error", cause,
		)
		return nil
	}

	part.Deferred = append(part.Deferred, Deferral{
		EntityType: et,
		Phase:      StatePushing,
		Message:    cause.Error(),
	})
	o.logger.Warn("push failed, will retry",
		"entity_type", et,
		"mutation_id", m.ID,
		"retry_count", updated.RetryCount,
		"next_attempt_at", next,
		"error", cause,
	)
	return nil
}

// blockedRecords returns the records of a type whose mutations must not be
// pushed: those with a conflict decision row and those with a stuck
// mutation.
func (o *Orchestrator) blockedRecords(ctx context.Context, et record.EntityType) (map[string]bool, error) {
	decisions, err := o.store.Decisions(ctx, et)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(decisions))
	for id := range decisions {
		blocked[id] = true
	}

	stuck, err := o.store.ListStuck(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range stuck {
		if m.EntityType == et {
			blocked[m.TargetLocalID] = true
		}
	}
	return blocked, nil
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/record"
)

// reconcile resolves the conflict cases of one entity type and advances its
// pull cursor.
//
// The cursor stops one millisecond short of the earliest case left
// unresolved, so the next pull fetches that record again.
func (o *Orchestrator) reconcile(ctx context.Context, et record.EntityType, res pullResult) (Report, error) {
	var part Report
	sctx := context.WithoutCancel(ctx)

	var bound time.Time
	for _, c := range res.cases {
		if ctx.Err() != nil {
			bound = earliest(bound, c.ServerUpdatedAt())
			break
		}

		out, err := o.settle(sctx, c, res.decisions)
		if err != nil {
			return part, cycleErr(StateReconciling, et, err)
		}
		part.Conflicts = append(part.Conflicts, out)
		if out.Outcome == conflict.OutcomeHeld {
			bound = earliest(bound, c.ServerUpdatedAt())
		}
	}

	target := res.through
	if !bound.IsZero() {
		if b := bound.Add(-time.Millisecond); b.Before(target) {
			target = b
		}
	}
	if target.IsZero() {
		return part, nil
	}
	if err := o.store.AdvanceCursor(sctx, et, target); err != nil {
		return part, cycleErr(StateReconciling, et, err)
	}
	return part, nil
}

// settle resolves one case with the user's decision, if one was recorded,
// or else with the entity type's strategy, and applies the resolution.
func (o *Orchestrator) settle(ctx context.Context, c conflict.Case, decisions map[string]string) (ConflictOutcome, error) {
	strategy := o.policy.For(c.EntityType)
	decided := false
	if d, ok := decisions[c.LocalID]; ok {
		if s := conflict.Strategy(d); s.Valid() {
			strategy = s
			decided = s != conflict.AskUser
		} else {
			o.logger.Warn("ignoring unknown conflict decision",
				"entity_type", c.EntityType,
				"local_id", c.LocalID,
				"strategy", d,
			)
			strategy = conflict.AskUser
		}
	}

	res, err := conflict.Resolve(c, strategy)
	if err != nil {
		return ConflictOutcome{}, err
	}

	out := ConflictOutcome{
		EntityType: c.EntityType,
		LocalID:    c.LocalID,
		ServerID:   c.Server.ServerID,
		Strategy:   strategy,
		Outcome:    res.Outcome,
		Decided:    decided,
	}

	if err := o.applyResolution(ctx, c, res); err != nil {
		return ConflictOutcome{}, err
	}
	if decided {
		if err := o.store.ClearDecision(ctx, c.EntityType, c.LocalID); err != nil {
			return ConflictOutcome{}, err
		}
	}

	o.logger.Info("conflict settled",
		"entity_type", c.EntityType,
		"local_id", c.LocalID,
		"server_id", c.Server.ServerID,
		"strategy", strategy,
		"outcome", res.Outcome,
		"decided", decided,
	)
	return out, nil
}

func (o *Orchestrator) applyResolution(ctx context.Context, c conflict.Case, res conflict.Resolution) error {
	switch res.Outcome {
	case conflict.OutcomeServer:
		_, err := o.store.ReplaceWithRemote(ctx, c.LocalID, c.Server)
		return err

	case conflict.OutcomeClient:
		return o.store.KeepLocal(ctx, c.LocalID, c.Server)

	case conflict.OutcomeMerged:
		if !res.Requeue {
			_, err := o.store.ReplaceWithRemote(ctx, c.LocalID, c.Server)
			return err
		}
		_, err := o.store.ApplyMerged(ctx, c.LocalID, res.Data, res.ChangedFields, c.Server)
		return err

	case conflict.OutcomeHeld:
		return o.store.HoldConflict(ctx, c.EntityType, c.LocalID)

	default:
		return fmt.Errorf("apply resolution %s/%s: unknown outcome %q", c.EntityType, c.LocalID, res.Outcome)
	}
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() || b.Before(a) {
		return b
	}
	return a
}

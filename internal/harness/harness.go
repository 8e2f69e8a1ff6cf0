package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
	"github.com/roach88/fieldsync/internal/testutil"
)

// scenarioToken is the access token shared by the harness keyring and the
// in-memory authority.
const scenarioToken = "scenario-token"

// Harness is the scenario execution engine.
// It wires the real store and orchestrator to an in-memory authority with
// a fake clock.
type Harness struct {
	store   *store.Store
	remote  *remote.Memory
	monitor *connectivity.Monitor
	orch    *engine.Orchestrator
	clock   *testutil.FakeClock
	logger  *slog.Logger
	refs    map[string]*recordRef
}

// recordRef binds a scenario ref to a record. Exactly one of the ids is
// known when the ref is bound; the other is looked up on demand.
type recordRef struct {
	entityType record.EntityType
	localID    string
	serverID   string
}

// scenarioKeyring always hands out scenarioToken.
type scenarioKeyring struct{}

func (scenarioKeyring) Token(context.Context) (string, error) { return scenarioToken, nil }
func (scenarioKeyring) HasToken(context.Context) bool          { return true }
func (scenarioKeyring) ClearAll(context.Context) error         { return nil }
func (scenarioKeyring) ClearAccount(context.Context) error     { return nil }

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and authority
// 2. Execute steps, checking sync expectations
// 3. Evaluate assertions
// 4. Return result with pass/fail, trace, and errors
//
// The returned error reports a step that failed without expect_error.
func Run(scenario *Scenario) (*Result, error) {
	policy, err := scenario.policy()
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	clk := testutil.NewFakeClock(time.Time{})
	st, err := store.Open(":memory:",
		store.WithClock(clk),
		store.WithIDGenerator(testutil.NewSequenceIDs("local")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	mem := remote.NewMemory(
		remote.WithMemoryClock(clk),
		remote.WithToken(scenarioToken),
	)
	monitor := connectivity.NewMonitor(true)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	// One worker keeps id assignment across entity types in a fixed order.
	opts := []engine.Option{
		engine.WithWorkers(1),
		engine.WithPolicy(policy),
		engine.WithRetryPolicy(engine.RetryPolicy{Initial: time.Second, Max: time.Minute}),
	}
	if scenario.Skew != "" {
		opts = append(opts, engine.WithSkew(scenario.skew()))
	}
	if scenario.MaxRetries > 0 {
		opts = append(opts, engine.WithMaxRetries(scenario.MaxRetries))
	}

	orch, err := engine.New(engine.Deps{
		Store:        st,
		Remote:       mem,
		Connectivity: monitor,
		Keyring:      scenarioKeyring{},
		Clock:        clk,
		Logger:       logger,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Stop()

	h := &Harness{
		store:   st,
		remote:  mem,
		monitor: monitor,
		orch:    orch,
		clock:   clk,
		logger:  logger,
		refs:    map[string]*recordRef{},
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Do, err)
		}
	}

	for _, msg := range h.EvaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and appends it to the trace.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) error {
	event := TraceEvent{Step: n, Do: step.Do, Ref: step.Ref}

	out, err := h.apply(ctx, n, step, result)
	switch {
	case err != nil && step.ExpectError:
		event.Error = err.Error()
	case err != nil:
		return err
	case step.ExpectError:
		result.AddError(fmt.Sprintf("step %d (%s): expected an error, got none", n, step.Do))
	}
	event.Result = out
	result.AddTrace(event)

	h.logger.Info("step completed",
		"step", n,
		"do", step.Do,
		"ref", step.Ref,
		"result", out,
	)
	return nil
}

// apply performs a step and returns its one-line trace result.
func (h *Harness) apply(ctx context.Context, n int, step Step, result *Result) (string, error) {
	switch step.Do {
	case StepCreate:
		et := record.EntityType(step.Type)
		p, err := record.FromFields(et, step.Data)
		if err != nil {
			return "", err
		}
		rec, _, err := h.store.CreateRecord(ctx, p)
		if err != nil {
			return "", err
		}
		h.refs[step.Ref] = &recordRef{entityType: et, localID: rec.LocalID}
		return "queued create", nil

	case StepUpdate:
		rec, err := h.localRecord(ctx, step.Ref)
		if err != nil {
			return "", err
		}
		p, err := overlay(rec.Payload, step.Data)
		if err != nil {
			return "", err
		}
		_, mut, err := h.store.UpdateRecord(ctx, rec.LocalID, p)
		if err != nil {
			return "", err
		}
		if mut == nil {
			return "unchanged", nil
		}
		return strings.TrimSpace("queued update " + strings.Join(mut.ChangedFields, ",")), nil

	case StepDelete:
		rec, err := h.localRecord(ctx, step.Ref)
		if err != nil {
			return "", err
		}
		if _, err := h.store.DeleteRecord(ctx, rec.EntityType, rec.LocalID); err != nil {
			return "", err
		}
		return "queued delete", nil

	case StepRemoteCreate:
		et := record.EntityType(step.Type)
		p, err := record.FromFields(et, step.Data)
		if err != nil {
			return "", err
		}
		v := h.remote.Edit("", p)
		h.refs[step.Ref] = &recordRef{entityType: et, serverID: v.ServerID}
		return "created " + v.ServerID, nil

	case StepRemoteUpdate:
		ref := h.refs[step.Ref]
		sid, err := h.serverID(ctx, step.Ref)
		if err != nil {
			return "", err
		}
		cur, ok := h.remote.Lookup(ref.entityType, sid)
		if !ok {
			return "", fmt.Errorf("remote %s %s: %w", ref.entityType, sid, store.ErrNotFound)
		}
		p, err := overlay(cur.Payload, step.Data)
		if err != nil {
			return "", err
		}
		h.remote.Edit(sid, p)
		return "updated " + sid, nil

	case StepRemoteDelete:
		ref := h.refs[step.Ref]
		sid, err := h.serverID(ctx, step.Ref)
		if err != nil {
			return "", err
		}
		if _, ok := h.remote.Remove(ref.entityType, sid); !ok {
			return "", fmt.Errorf("remote %s %s: %w", ref.entityType, sid, store.ErrNotFound)
		}
		return "deleted " + sid, nil

	case StepFailNext:
		count := step.Count
		if count == 0 {
			count = 1
		}
		errs := make([]error, count)
		for i := range errs {
			errs[i] = injected(step.Fail)
		}
		h.remote.FailNext(record.EntityType(step.Type), errs...)
		return fmt.Sprintf("%d %s %s", count, step.Type, step.Fail), nil

	case StepAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return "", err
		}
		h.clock.Advance(d)
		return d.String(), nil

	case StepOffline:
		h.monitor.Set(false)
		return "", nil

	case StepOnline:
		h.monitor.Set(true)
		return "", nil

	case StepSync:
		rep, err := h.orch.SyncNow(ctx, "scenario")
		if err != nil {
			return "", err
		}
		checkSync(n, step.Expect, rep, result)
		return h.summarize(ctx, rep), nil

	case StepDecide:
		rec, err := h.localRecord(ctx, step.Ref)
		if err != nil {
			return "", err
		}
		strategy := conflict.Strategy(step.Strategy)
		if err := h.orch.Decide(ctx, rec.EntityType, rec.LocalID, strategy); err != nil {
			return "", err
		}
		return "decided " + string(strategy), nil

	case StepRequeue:
		rec, err := h.localRecord(ctx, step.Ref)
		if err != nil {
			return "", err
		}
		stuck, err := h.store.ListStuck(ctx)
		if err != nil {
			return "", err
		}
		requeued := 0
		for _, m := range stuck {
			if m.TargetLocalID != rec.LocalID {
				continue
			}
			if err := h.store.Requeue(ctx, m.ID); err != nil {
				return "", err
			}
			requeued++
		}
		if requeued == 0 {
			return "", fmt.Errorf("no stuck mutation for %s: %w", step.Ref, store.ErrNotFound)
		}
		return fmt.Sprintf("requeued %d", requeued), nil

	default:
		return "", fmt.Errorf("unknown step %q", step.Do)
	}
}

// injected builds the error a fail_next step queues on the authority.
func injected(kind string) error {
	cause := errors.New("injected failure")
	switch kind {
	case FailAuth:
		return syncerr.Auth("scenario", cause)
	case FailValidation:
		return syncerr.Validation("scenario", cause)
	default:
		return syncerr.Transient("scenario", cause)
	}
}

// overlay returns p with the given fields replaced.
func overlay(p record.Payload, data map[string]interface{}) (record.Payload, error) {
	fields, err := record.Fields(p)
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		fields[k] = v
	}
	return record.FromFields(p.EntityType(), fields)
}

// localID returns the local id a ref currently maps to, or "" when no local
// record carries it.
func (h *Harness) localID(ctx context.Context, ref *recordRef) string {
	if ref.localID != "" {
		return ref.localID
	}
	rec, err := h.store.GetByServerID(ctx, ref.entityType, ref.serverID)
	if err != nil {
		return ""
	}
	return rec.LocalID
}

// localRecord loads the local record of a ref.
func (h *Harness) localRecord(ctx context.Context, name string) (record.Record, error) {
	ref := h.refs[name]
	id := h.localID(ctx, ref)
	if id == "" {
		return record.Record{}, fmt.Errorf("ref %s has no local record: %w", name, store.ErrNotFound)
	}
	return h.store.Get(ctx, ref.entityType, id)
}

// serverID returns the server id of a ref. Local refs know it once their
// create was acknowledged.
func (h *Harness) serverID(ctx context.Context, name string) (string, error) {
	ref := h.refs[name]
	if ref.serverID != "" {
		return ref.serverID, nil
	}
	rec, err := h.localRecord(ctx, name)
	if err != nil {
		return "", err
	}
	if rec.ServerID == "" {
		return "", fmt.Errorf("ref %s is not known to the remote yet", name)
	}
	return rec.ServerID, nil
}

// refName maps a record back to its scenario ref for trace output.
func (h *Harness) refName(ctx context.Context, et record.EntityType, localID string) string {
	names := make([]string, 0, len(h.refs))
	for name := range h.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref := h.refs[name]
		if ref.entityType == et && h.localID(ctx, ref) == localID {
			return name
		}
	}
	return localID
}

// summarize renders a cycle report as one trace line.
func (h *Harness) summarize(ctx context.Context, rep engine.Report) string {
	if rep.Offline {
		return "offline"
	}
	parts := []string{fmt.Sprintf("pushed=%d pulled=%d skipped=%d", rep.Pushed, rep.Pulled, rep.Skipped)}
	for _, c := range rep.Conflicts {
		parts = append(parts, fmt.Sprintf("conflict %s %s->%s",
			h.refName(ctx, c.EntityType, c.LocalID), c.Strategy, c.Outcome))
	}
	for _, d := range rep.DataErrors {
		parts = append(parts, fmt.Sprintf("rejected %s %s", h.refName(ctx, d.EntityType, d.LocalID), d.Operation))
	}
	for _, s := range rep.Stuck {
		parts = append(parts, fmt.Sprintf("stuck %s", h.refName(ctx, s.EntityType, s.LocalID)))
	}
	for _, d := range rep.Deferred {
		parts = append(parts, fmt.Sprintf("deferred %s %s", d.EntityType, d.Phase))
	}
	if rep.Cancelled {
		parts = append(parts, "cancelled")
	}
	return strings.Join(parts, "; ")
}

// checkSync compares a cycle report with the step's expectations.
func checkSync(n int, want *SyncExpect, rep engine.Report, result *Result) {
	if want == nil {
		return
	}
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			result.AddError(fmt.Sprintf("step %d (sync): %s = %d, expected %d", n, name, got, *want))
		}
	}
	if want.Offline != nil && *want.Offline != rep.Offline {
		result.AddError(fmt.Sprintf("step %d (sync): offline = %t, expected %t", n, rep.Offline, *want.Offline))
	}
	check("pushed", want.Pushed, rep.Pushed)
	check("pulled", want.Pulled, rep.Pulled)
	check("skipped", want.Skipped, rep.Skipped)
	check("conflicts", want.Conflicts, len(rep.Conflicts))
	check("held", want.Held, len(rep.Held()))
	check("data_errors", want.DataErrors, len(rep.DataErrors))
	check("stuck", want.Stuck, len(rep.Stuck))
	check("deferred", want.Deferred, len(rep.Deferred))
}

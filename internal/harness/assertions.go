package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s%s\n", event.Step, event.Do, event.Ref, event.Result, event.Error)
		}
	}

	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the harness state
// and the result trace. Returns a slice of error messages for failed
// assertions.
func (h *Harness) EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var msgs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertLocalRecord:
			err = h.assertLocalRecord(ctx, assertion)
		case AssertRemoteRecord:
			err = h.assertRemoteRecord(ctx, assertion)
		case AssertQueue:
			err = h.assertQueue(ctx, assertion)
		case AssertHeld:
			err = h.assertHeld(ctx, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}

	return msgs
}

// assertLocalRecord checks the local copy of a ref. A tombstone awaiting
// its delete push counts as not existing.
func (h *Harness) assertLocalRecord(ctx context.Context, a Assertion) error {
	rec, err := h.localRecord(ctx, a.Ref)
	exists := err == nil && !rec.IsDeleted
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if a.Exists != nil && *a.Exists != exists {
		return &AssertionError{
			Type:     AssertLocalRecord,
			Expected: fmt.Sprintf("%s exists = %t", a.Ref, *a.Exists),
			Actual:   fmt.Sprintf("exists = %t", exists),
		}
	}
	if !exists {
		if a.Synced != nil || len(a.Data) > 0 {
			return &AssertionError{
				Type:     AssertLocalRecord,
				Expected: fmt.Sprintf("local record %s", a.Ref),
				Actual:   "no local record",
			}
		}
		return nil
	}

	if a.Synced != nil && *a.Synced != rec.IsSynced {
		return &AssertionError{
			Type:     AssertLocalRecord,
			Expected: fmt.Sprintf("%s synced = %t", a.Ref, *a.Synced),
			Actual:   fmt.Sprintf("synced = %t", rec.IsSynced),
		}
	}
	return matchPayload(AssertLocalRecord, a, rec.Payload)
}

// assertRemoteRecord checks the authority's copy of a ref. A remote delete
// counts as not existing.
func (h *Harness) assertRemoteRecord(ctx context.Context, a Assertion) error {
	ref := h.refs[a.Ref]
	var (
		v     record.RemoteVersion
		found bool
	)
	if sid, err := h.serverID(ctx, a.Ref); err == nil {
		v, found = h.remote.Lookup(ref.entityType, sid)
	}
	exists := found && !v.Deleted

	if a.Exists != nil && *a.Exists != exists {
		return &AssertionError{
			Type:     AssertRemoteRecord,
			Expected: fmt.Sprintf("%s exists on the remote = %t", a.Ref, *a.Exists),
			Actual:   fmt.Sprintf("exists = %t", exists),
		}
	}
	if len(a.Data) == 0 {
		return nil
	}
	if !exists {
		return &AssertionError{
			Type:     AssertRemoteRecord,
			Expected: fmt.Sprintf("remote record %s", a.Ref),
			Actual:   "no remote record",
		}
	}
	return matchPayload(AssertRemoteRecord, a, v.Payload)
}

// assertQueue checks pending and stuck mutation counts, for one entity
// type or in total.
func (h *Harness) assertQueue(ctx context.Context, a Assertion) error {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return err
	}

	count := func(m map[record.EntityType]int) int {
		if a.EntityType != "" {
			return m[record.EntityType(a.EntityType)]
		}
		total := 0
		for _, n := range m {
			total += n
		}
		return total
	}

	scope := a.EntityType
	if scope == "" {
		scope = "all types"
	}
	if a.Pending != nil {
		if got := count(stats.Pending); got != *a.Pending {
			return &AssertionError{
				Type:     AssertQueue,
				Expected: fmt.Sprintf("%d pending mutations (%s)", *a.Pending, scope),
				Actual:   fmt.Sprintf("%d pending", got),
			}
		}
	}
	if a.Stuck != nil {
		if got := count(stats.Stuck); got != *a.Stuck {
			return &AssertionError{
				Type:     AssertQueue,
				Expected: fmt.Sprintf("%d stuck mutations (%s)", *a.Stuck, scope),
				Actual:   fmt.Sprintf("%d stuck", got),
			}
		}
	}
	return nil
}

// assertHeld checks the conflicts waiting for a decision.
func (h *Harness) assertHeld(ctx context.Context, a Assertion) error {
	held, err := h.store.ListHeld(ctx)
	if err != nil {
		return err
	}

	if a.Count != nil && len(held) != *a.Count {
		return &AssertionError{
			Type:     AssertHeld,
			Expected: fmt.Sprintf("%d held conflicts", *a.Count),
			Actual:   fmt.Sprintf("%d held", len(held)),
		}
	}
	if a.Ref == "" {
		return nil
	}

	ref := h.refs[a.Ref]
	localID := h.localID(ctx, ref)
	for _, c := range held {
		if c.EntityType == ref.entityType && c.LocalID == localID {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertHeld,
		Expected: fmt.Sprintf("a held conflict for %s", a.Ref),
		Actual:   "not held",
	}
}

// assertTraceContains checks if the trace contains a step with the given
// action and, when set, ref.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Do == assertion.Do && (assertion.Ref == "" || event.Ref == assertion.Ref) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("step %s %s", assertion.Do, assertion.Ref),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Do == assertion.Do {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Do),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// matchPayload checks that the payload carries every field of a.Data
// (subset match). Keys are checked in sorted order for stable messages.
func matchPayload(kind string, a Assertion, p record.Payload) error {
	fields, err := record.Fields(p)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(a.Data))
	for k := range a.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actual, ok := fields[key]
		if !ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %v", a.Ref, key, a.Data[key]),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !valuesEqual(actual, a.Data[key]) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %v", a.Ref, key, a.Data[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, actual),
			}
		}
	}
	return nil
}

// valuesEqual compares a payload field with a YAML value by their JSON
// encoding, so json.Number and YAML ints or floats compare by value.
func valuesEqual(actual, expected interface{}) bool {
	a, err := json.Marshal(actual)
	if err != nil {
		return false
	}
	e, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	return string(a) == string(e)
}

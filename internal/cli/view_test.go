package cli

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/cleanup"
	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// busyReport is a cycle report touching every section.
func busyReport() engine.Report {
	return engine.Report{
		Reason:  "timer",
		Pushed:  3,
		Pulled:  2,
		Skipped: 1,
		Conflicts: []engine.ConflictOutcome{
			{EntityType: record.EntityTicket, LocalID: "local-1", ServerID: "srv-1", Strategy: conflict.ServerWins, Outcome: conflict.OutcomeServer},
			{EntityType: record.EntityPMTask, LocalID: "local-2", ServerID: "srv-2", Strategy: conflict.AskUser, Outcome: conflict.OutcomeHeld},
			{EntityType: record.EntityLogEntry, LocalID: "local-3", ServerID: "srv-3", Strategy: conflict.ClientWins, Outcome: conflict.OutcomeClient, Decided: true},
		},
		DataErrors: []engine.DataError{
			{MutationID: "mut-7", EntityType: record.EntityTicket, LocalID: "local-4", Operation: record.OpCreate, Message: "title is required"},
		},
		Stuck: []engine.StuckMutation{
			{MutationID: "mut-9", EntityType: record.EntityLogEntry, LocalID: "local-5", RetryCount: 6, LastError: "remote unavailable"},
		},
		Deferred: []engine.Deferral{
			{EntityType: record.EntityPMTask, Phase: engine.StatePulling, Message: "changes pm_task: 503 service unavailable"},
		},
		StartedAt:  testutil.Epoch,
		FinishedAt: testutil.Epoch.Add(1500 * time.Millisecond),
	}
}

func TestSyncView_TextGolden(t *testing.T) {
	g := newGoldie(t)
	g.Assert(t, "sync_report", []byte(newSyncView(busyReport()).String()+"\n"))
}

func TestSyncView_JSONGolden(t *testing.T) {
	data, err := json.MarshalIndent(newSyncView(busyReport()), "", "  ")
	require.NoError(t, err)

	g := newGoldie(t)
	g.Assert(t, "sync_report_json", append(data, '\n'))
}

func TestSyncView_ShortForms(t *testing.T) {
	assert.Equal(t, "sync (manual): offline, nothing synced",
		newSyncView(engine.Report{Reason: "manual", Offline: true}).String())
	assert.Equal(t, "sync (manual): coalesced into the running cycle",
		newSyncView(engine.Report{Reason: "manual", Coalesced: true}).String())
	assert.Equal(t, "sync (connectivity): pushed 1, pulled 0, skipped 0, cancelled",
		newSyncView(engine.Report{Reason: "connectivity", Pushed: 1, Cancelled: true}).String())
}

func TestStatusView_TextGolden(t *testing.T) {
	v := newStatusView(
		map[record.EntityType]int{record.EntityTicket: 2, record.EntityLogEntry: 1},
		store.QueueStats{
			Pending: map[record.EntityType]int{record.EntityTicket: 3, record.EntityLogEntry: 1},
			Stuck:   map[record.EntityType]int{record.EntityLogEntry: 1},
		},
		[]record.Mutation{{
			ID:            "mut-9",
			EntityType:    record.EntityLogEntry,
			TargetLocalID: "local-5",
			Operation:     record.OpUpdate,
			RetryCount:    6,
			LastError:     "remote unavailable",
			State:         record.StateStuck,
		}},
		[]store.HeldConflict{{EntityType: record.EntityPMTask, LocalID: "local-2", HeldAt: testutil.Epoch}},
		true,
	)

	g := newGoldie(t)
	g.Assert(t, "status", []byte(v.String()+"\n"))
}

func TestRecordView_String(t *testing.T) {
	v := newRecordView(record.Record{
		LocalID:    "local-1",
		EntityType: record.EntityTicket,
		Payload:    record.Ticket{Title: "leak in boiler room", Priority: "high"},
		UpdatedAt:  testutil.Epoch,
	})
	assert.Equal(t, `ticket local-1 server=- pending {"title":"leak in boiler room","priority":"high"}`, v.String())

	v.ServerID = "srv-1"
	v.Synced = true
	assert.Equal(t, `ticket local-1 server=srv-1 synced {"title":"leak in boiler room","priority":"high"}`, v.String())

	v.Deleted = true
	assert.Contains(t, v.String(), " deleted ")

	assert.Equal(t, "no records", recordList{}.String())
}

func TestCleanupView_String(t *testing.T) {
	v := newCleanupView(cleanup.Report{Steps: []cleanup.StepResult{
		{Name: "records"},
		{Name: "credentials", Err: errors.New("permission denied")},
	}})
	assert.Equal(t, "ok   records\nFAIL credentials: permission denied", v.String())
	assert.Equal(t, "permission denied", v.Steps[1].Error)
}

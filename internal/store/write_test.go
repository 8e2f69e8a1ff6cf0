package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/testutil"
)

func TestCreateRecord_WritesRecordAndMutation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "Pump 3 leaking"})
	require.NoError(t, err)

	assert.Equal(t, "id-1", rec.LocalID)
	assert.Equal(t, "id-2", mut.ID)
	assert.Equal(t, int64(1), mut.Seq)
	assert.Equal(t, record.OpCreate, mut.Operation)
	assert.Equal(t, record.StatePending, mut.State)
	assert.Equal(t, rec.LocalID, mut.TargetLocalID)
	assert.Equal(t, testutil.Epoch, mut.QueuedAt)

	got, err := s.Get(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsSynced)
	assert.Empty(t, got.ServerID)
	assert.Equal(t, record.Ticket{Title: "Pump 3 leaking"}, got.Payload)
	assert.Equal(t, testutil.Epoch, got.UpdatedAt)

	queued, err := s.PeekOrdered(ctx, record.EntityTicket)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, mut, queued[0])
}

func TestCreateRecord_NilPayload(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.CreateRecord(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestWriteWithMutation_RejectsMismatchedTarget(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := record.Record{LocalID: "r-1", EntityType: record.EntityTicket, Payload: record.Ticket{Title: "a"}}
	mut := record.Mutation{
		ID:            "m-1",
		EntityType:    record.EntityTicket,
		TargetLocalID: "r-2",
		Operation:     record.OpCreate,
		Payload:       record.Ticket{Title: "a"},
	}

	_, err := s.WriteWithMutation(ctx, rec, mut)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = s.Get(ctx, record.EntityTicket, "r-1")
	assert.ErrorIs(t, err, ErrNotFound, "record must not persist without its mutation")
}

func TestUpdateRecord_EnqueuesChangedFields(t *testing.T) {
	s, clk := createTestStoreWithClock(t)
	ctx := context.Background()

	rec, _, err := s.CreateRecord(ctx, record.Ticket{Title: "a", Priority: "low"})
	require.NoError(t, err)

	clk.Advance(time.Second)
	updated, mut, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "a", Priority: "high"})
	require.NoError(t, err)
	require.NotNil(t, mut)

	assert.Equal(t, record.OpUpdate, mut.Operation)
	assert.Equal(t, []string{"priority"}, mut.ChangedFields)
	assert.Equal(t, testutil.Epoch.Add(time.Second), updated.UpdatedAt)

	pending, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, record.OpCreate, pending[0].Operation)
	assert.Equal(t, record.OpUpdate, pending[1].Operation)
}

func TestUpdateRecord_NoChangeSkipsQueue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, _, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	_, mut, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "a"})
	require.NoError(t, err)
	assert.Nil(t, mut)

	pending, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestUpdateRecord_CompactsIntoPendingUpdate(t *testing.T) {
	s, clk := createTestStoreWithClock(t)
	ctx := context.Background()

	rec, _, err := s.CreateRecord(ctx, record.Ticket{Title: "a", Priority: "low"})
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, first, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "b", Priority: "low"})
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, second, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "b", Priority: "high"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "second update folds into the first")
	assert.Equal(t, first.QueuedAt, second.QueuedAt, "compaction keeps the original queue time")
	assert.Equal(t, []string{"priority", "title"}, second.ChangedFields)

	pending, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, record.Ticket{Title: "b", Priority: "high"}, pending[1].Payload)
	assert.Equal(t, []string{"priority", "title"}, pending[1].ChangedFields)
}

func TestUpdateRecord_NeverCompactsIntoCreate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	_, upd, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, create.ID, upd.ID)

	got, err := s.GetMutation(ctx, create.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Ticket{Title: "a"}, got.Payload)
}

func TestUpdateRecord_Missing(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.UpdateRecord(context.Background(), "nope", record.Ticket{Title: "a"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRecord_Tombstones(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, _, err := s.CreateRecord(ctx, record.PMTask{Asset: "AHU-1", Task: "filters"})
	require.NoError(t, err)

	mut, err := s.DeleteRecord(ctx, record.EntityPMTask, rec.LocalID)
	require.NoError(t, err)
	require.NotNil(t, mut)
	assert.Equal(t, record.OpDelete, mut.Operation)

	got, err := s.Get(ctx, record.EntityPMTask, rec.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.False(t, got.IsSynced)

	again, err := s.DeleteRecord(ctx, record.EntityPMTask, rec.LocalID)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, _, err = s.UpdateRecord(ctx, rec.LocalID, record.PMTask{Asset: "AHU-1", Task: "belts"})
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestAcknowledge_MarksSynced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, mut, err := s.CreateRecord(ctx, record.LogEntry{Equipment: "chiller", Reading: 6.5, Unit: "C"})
	require.NoError(t, err)

	ack := record.Ack{ServerID: "srv-42", UpdatedAt: testutil.Epoch.Add(time.Second)}
	require.NoError(t, s.Acknowledge(ctx, mut, ack))

	got, err := s.Get(ctx, record.EntityLogEntry, rec.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.Equal(t, "srv-42", got.ServerID)
	assert.Equal(t, ack.UpdatedAt, got.ServerUpdatedAt)

	has, err := s.HasPending(ctx, record.EntityLogEntry, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, has)

	// A repeated acknowledgement changes nothing.
	require.NoError(t, s.Acknowledge(ctx, mut, ack))
	again, err := s.Get(ctx, record.EntityLogEntry, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestAcknowledge_StaysUnsyncedWhileMoreQueued(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	_, _, err = s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "b"})
	require.NoError(t, err)

	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))

	got, err := s.Get(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.False(t, got.IsSynced)
}

func TestAcknowledge_CompactedInFlightStaysQueued(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))

	_, pushed, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "b"})
	require.NoError(t, err)

	// A newer edit lands while the first update is in flight.
	_, _, err = s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "c"})
	require.NoError(t, err)

	require.NoError(t, s.Acknowledge(ctx, *pushed, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch.Add(time.Second)}))

	// The newer payload must not reuse the acknowledged id: the remote
	// would answer it with the ack cached for "b".
	_, err = s.GetMutation(ctx, pushed.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	queued, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.NotEqual(t, pushed.ID, queued[0].ID)
	assert.Equal(t, record.Ticket{Title: "c"}, queued[0].Payload)
	assert.False(t, queued[0].Attempted)

	got, err := s.Get(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsSynced)
}

func TestUpdateRecord_QueuesBehindAttemptedUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))

	_, sent, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "b"})
	require.NoError(t, err)
	require.NoError(t, s.MarkAttempted(ctx, sent.ID))

	_, next, err := s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "c"})
	require.NoError(t, err)
	assert.NotEqual(t, sent.ID, next.ID)

	queued, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.True(t, queued[0].Attempted)
	assert.Equal(t, record.Ticket{Title: "b"}, queued[0].Payload)
	assert.Equal(t, record.Ticket{Title: "c"}, queued[1].Payload)
	assert.False(t, queued[1].Attempted)

	// The attempted update acknowledged as sent leaves the newer one queued.
	require.NoError(t, s.Acknowledge(ctx, queued[0], record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch.Add(time.Second)}))
	left, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, next.ID, left[0].ID)
}

func TestMarkAttempted_UnknownMutation(t *testing.T) {
	s := createTestStore(t)
	err := s.MarkAttempted(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcknowledge_DeletePurgesTombstone(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))

	del, err := s.DeleteRecord(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, *del, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch.Add(time.Second)}))

	_, err = s.Get(ctx, record.EntityTicket, rec.LocalID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReject_Dequeues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Reject(ctx, mut))
	require.NoError(t, s.Reject(ctx, mut))

	has, err := s.HasPending(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestApplyRemote_InsertsNewRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rv := record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-7",
		Payload:    record.Ticket{Title: "from office"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	}
	rec, err := s.ApplyRemote(ctx, rv)
	require.NoError(t, err)
	assert.Equal(t, "id-1", rec.LocalID)
	assert.True(t, rec.IsSynced)

	got, err := s.GetByServerID(ctx, record.EntityTicket, "srv-7")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestApplyRemote_MatchesEchoedLocalID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Dequeue(ctx, create.ID))

	_, err = s.ApplyRemote(ctx, record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-9",
		LocalID:    rec.LocalID,
		Payload:    record.Ticket{Title: "a (edited)"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-9", got.ServerID)
	assert.Equal(t, record.Ticket{Title: "a (edited)"}, got.Payload)
	assert.True(t, got.IsSynced)

	all, err := s.ListRecords(ctx, record.EntityTicket)
	require.NoError(t, err)
	assert.Len(t, all, 1, "echoed local id must not create a duplicate")
}

func TestApplyRemote_IgnoresStaleVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	newer := record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "new"},
		UpdatedAt:  testutil.Epoch.Add(2 * time.Minute),
	}
	_, err := s.ApplyRemote(ctx, newer)
	require.NoError(t, err)

	stale := newer
	stale.Payload = record.Ticket{Title: "old"}
	stale.UpdatedAt = testutil.Epoch.Add(time.Minute)
	_, err = s.ApplyRemote(ctx, stale)
	require.NoError(t, err)

	got, err := s.GetByServerID(ctx, record.EntityTicket, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, record.Ticket{Title: "new"}, got.Payload)
}

func TestApplyRemote_DeleteRemovesRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rv := record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "x"},
		UpdatedAt:  testutil.Epoch,
	}
	_, err := s.ApplyRemote(ctx, rv)
	require.NoError(t, err)

	rv.Deleted = true
	rv.UpdatedAt = testutil.Epoch.Add(time.Second)
	_, err = s.ApplyRemote(ctx, rv)
	require.NoError(t, err)

	_, err = s.GetByServerID(ctx, record.EntityTicket, "srv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting something never seen locally is a no-op.
	rv.ServerID = "srv-unknown"
	_, err = s.ApplyRemote(ctx, rv)
	assert.NoError(t, err)
}

func TestReplaceWithRemote_DiscardsLocalMutations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))
	_, _, err = s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "local"})
	require.NoError(t, err)

	out, err := s.ReplaceWithRemote(ctx, rec.LocalID, record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "remote"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, out.IsSynced)
	assert.Equal(t, record.Ticket{Title: "remote"}, out.Payload)

	has, err := s.HasPending(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestKeepLocal_RequeuesExistingMutations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "local"})
	require.NoError(t, err)
	require.NoError(t, s.MarkStuck(ctx, mut.ID))

	require.NoError(t, s.KeepLocal(ctx, rec.LocalID, record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "remote"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	}))

	got, err := s.Get(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, record.Ticket{Title: "local"}, got.Payload)

	queued, err := s.GetMutation(ctx, mut.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatePending, queued.State)
}

func TestKeepLocal_EnqueuesUpdateWhenQueueEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "local"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, mut, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))

	require.NoError(t, s.KeepLocal(ctx, rec.LocalID, record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "remote"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	}))

	pending, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, record.OpUpdate, pending[0].Operation)
	assert.Equal(t, record.Ticket{Title: "local"}, pending[0].Payload)
}

func TestApplyMerged_QueuesMergedPayload(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "a", Priority: "low"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, mut, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))

	merged := record.Ticket{Title: "a", Priority: "high", Status: "open"}
	out, err := s.ApplyMerged(ctx, rec.LocalID, merged, []string{"priority"}, record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "a", Priority: "low", Status: "open"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, out.IsSynced)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), out.ServerUpdatedAt)

	pending, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, merged, pending[0].Payload)
	assert.Equal(t, []string{"priority"}, pending[0].ChangedFields)
}

func TestWipeAll_RemovesEverything(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, _, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	_, _, err = s.CreateRecord(ctx, record.LogEntry{Equipment: "boiler", Reading: 1, Unit: "bar"})
	require.NoError(t, err)
	require.NoError(t, s.SetDecision(ctx, record.EntityTicket, rec.LocalID, "server_wins"))

	require.NoError(t, s.WipeAll(ctx))

	for _, et := range record.EntityTypes {
		recs, err := s.ListRecords(ctx, et)
		require.NoError(t, err)
		assert.Empty(t, recs)
	}
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Pending)

	_, ok, err := s.Decision(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyMerged_ReplacesQueuedMutations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))
	_, _, err = s.UpdateRecord(ctx, rec.LocalID, record.Ticket{Title: "a", Priority: "high"})
	require.NoError(t, err)
	_, err = s.DeleteRecord(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)

	merged := record.Ticket{Title: "a", Priority: "high", Status: "open"}
	_, err = s.ApplyMerged(ctx, rec.LocalID, merged, []string{"priority"}, record.RemoteVersion{
		EntityType: record.EntityTicket,
		ServerID:   "srv-1",
		Payload:    record.Ticket{Title: "a", Status: "open"},
		UpdatedAt:  testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)

	pending, err := s.PendingFor(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, record.OpUpdate, pending[0].Operation)
}

func TestMatch_ByServerIDThenLocalID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, create, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	got, found, err := s.Match(ctx, record.RemoteVersion{EntityType: record.EntityTicket, ServerID: "srv-1", LocalID: rec.LocalID})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.LocalID, got.LocalID)

	require.NoError(t, s.Acknowledge(ctx, create, record.Ack{ServerID: "srv-1", UpdatedAt: testutil.Epoch}))
	got, found, err = s.Match(ctx, record.RemoteVersion{EntityType: record.EntityTicket, ServerID: "srv-1"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.LocalID, got.LocalID)

	_, found, err = s.Match(ctx, record.RemoteVersion{EntityType: record.EntityTicket, ServerID: "srv-2"})
	require.NoError(t, err)
	assert.False(t, found)
}

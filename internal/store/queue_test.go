package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/testutil"
)

func TestPeekOrdered_EnqueueOrderPerType(t *testing.T) {
	s, clk := createTestStoreWithClock(t)
	ctx := context.Background()

	a, _, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	_, _, err = s.CreateRecord(ctx, record.LogEntry{Equipment: "pump", Reading: 2, Unit: "bar"})
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	b, _, err := s.CreateRecord(ctx, record.Ticket{Title: "b"})
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	_, _, err = s.UpdateRecord(ctx, a.LocalID, record.Ticket{Title: "a2"})
	require.NoError(t, err)

	queued, err := s.PeekOrdered(ctx, record.EntityTicket)
	require.NoError(t, err)
	require.Len(t, queued, 3)

	assert.Equal(t, a.LocalID, queued[0].TargetLocalID)
	assert.Equal(t, b.LocalID, queued[1].TargetLocalID)
	assert.Equal(t, a.LocalID, queued[2].TargetLocalID)
	for i := 1; i < len(queued); i++ {
		assert.Less(t, queued[i-1].Seq, queued[i].Seq)
	}
}

func TestPeekOrdered_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	queued, err := s.PeekOrdered(context.Background(), record.EntityPMTask)
	require.NoError(t, err)
	assert.NotNil(t, queued)
	assert.Empty(t, queued)
}

func TestRecordFailure_TracksRetries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	next := testutil.Epoch.Add(2 * time.Second)
	got, err := s.RecordFailure(ctx, mut.ID, errors.New("503 service unavailable"), next)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "503 service unavailable", got.LastError)
	assert.Equal(t, next, got.NextAttemptAt)

	got, err = s.RecordFailure(ctx, mut.ID, errors.New("timeout"), next.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "timeout", got.LastError)
}

func TestRecordFailure_Missing(t *testing.T) {
	s := createTestStore(t)

	_, err := s.RecordFailure(context.Background(), "nope", errors.New("x"), testutil.Epoch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkStuck_AndRequeue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	_, err = s.RecordFailure(ctx, mut.ID, errors.New("boom"), testutil.Epoch.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.MarkStuck(ctx, mut.ID))

	queued, err := s.PeekOrdered(ctx, record.EntityTicket)
	require.NoError(t, err)
	assert.Empty(t, queued, "stuck mutations are not drained")

	stuck, err := s.ListStuck(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, mut.ID, stuck[0].ID)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stuck[record.EntityTicket])
	assert.Zero(t, stats.Pending[record.EntityTicket])

	require.NoError(t, s.Requeue(ctx, mut.ID))

	got, err := s.GetMutation(ctx, mut.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatePending, got.State)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastError)
	assert.True(t, got.NextAttemptAt.IsZero())
}

func TestMarkStuck_Missing(t *testing.T) {
	s := createTestStore(t)

	assert.ErrorIs(t, s.MarkStuck(context.Background(), "nope"), ErrNotFound)
	assert.ErrorIs(t, s.Requeue(context.Background(), "nope"), ErrNotFound)
}

func TestDequeue_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Dequeue(ctx, mut.ID))
	require.NoError(t, s.Dequeue(ctx, mut.ID))

	_, err = s.GetMutation(ctx, mut.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeq_NotReusedAfterDequeue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, first, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Dequeue(ctx, first.ID))

	_, second, err := s.CreateRecord(ctx, record.Ticket{Title: "b"})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestStats_CountsPerType(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.CreateRecord(ctx, record.LogEntry{Equipment: "pump", Reading: float64(i), Unit: "bar"})
		require.NoError(t, err)
	}
	_, _, err := s.CreateRecord(ctx, record.PMTask{Asset: "AHU-2", Task: "belts"})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[record.EntityType]int{
		record.EntityLogEntry: 3,
		record.EntityPMTask:   1,
	}, stats.Pending)
	assert.Empty(t, stats.Stuck)
}

func TestClear_DropsQueueKeepsRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, _, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	has, err := s.HasPending(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Get(ctx, record.EntityTicket, rec.LocalID)
	assert.NoError(t, err)
}

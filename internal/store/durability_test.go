package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
	"github.com/roach88/fieldsync/internal/testutil"
)

func TestCrashBeforeCommit_LeavesNothingBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.db")
	ctx := context.Background()

	s, err := Open(path, WithClock(testutil.NewFakeClock(testutil.Epoch)), WithIDGenerator(testutil.NewSequenceIDs("id")))
	require.NoError(t, err)

	s.beforeCommit = func() error { return errors.New("power lost") }
	_, _, err = s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.Error(t, err)
	assert.True(t, syncerr.IsStorage(err))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.ListRecords(ctx, record.EntityTicket)
	require.NoError(t, err)
	assert.Empty(t, recs)

	queued, err := reopened.PeekOrdered(ctx, record.EntityTicket)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestQueue_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	ctx := context.Background()

	s, err := Open(path, WithClock(testutil.NewFakeClock(testutil.Epoch)), WithIDGenerator(testutil.NewSequenceIDs("id")))
	require.NoError(t, err)
	rec, mut, err := s.CreateRecord(ctx, record.Ticket{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, record.EntityTicket, rec.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsSynced)

	queued, err := reopened.PeekOrdered(ctx, record.EntityTicket)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, mut, queued[0])
}

func TestWriteWithMutation_CommitFailureIsStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO mutations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	s := newStore(db, WithClock(testutil.NewFakeClock(testutil.Epoch)), WithIDGenerator(testutil.NewSequenceIDs("id")))
	_, _, err = s.CreateRecord(context.Background(), record.Ticket{Title: "a"})
	require.Error(t, err)
	assert.True(t, syncerr.IsStorage(err))
	assert.Contains(t, err.Error(), "commit")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteWithMutation_BeginFailureIsStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	s := newStore(db)
	_, _, err = s.CreateRecord(context.Background(), record.Ticket{Title: "a"})
	require.Error(t, err)
	assert.True(t, syncerr.IsStorage(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/fieldsync/internal/testutil"
)

// createTestStore creates a new file-backed store with a fake clock and
// predictable ids ("id-1", "id-2", ...).
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, _ := createTestStoreWithClock(t)
	return s
}

func createTestStoreWithClock(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.Epoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk), WithIDGenerator(testutil.NewSequenceIDs("id")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

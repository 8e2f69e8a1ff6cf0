package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_DefaultsToEpoch(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	c := NewFakeClock(Epoch)

	got := c.Advance(1500 * time.Millisecond)
	assert.Equal(t, Epoch.Add(1500*time.Millisecond), got)
	assert.Equal(t, got, c.Now())
}

func TestFakeClock_Set(t *testing.T) {
	c := NewFakeClock(Epoch)
	later := Epoch.Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	c := NewFakeClock(Epoch)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(100*time.Millisecond), c.Now())
}

func TestSequenceIDs(t *testing.T) {
	ids := NewSequenceIDs("rec")
	assert.Equal(t, "rec-1", ids.NewID())
	assert.Equal(t, "rec-2", ids.NewID())

	assert.Equal(t, "id-1", NewSequenceIDs("").NewID())
}

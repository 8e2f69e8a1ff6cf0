package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerQueue_EnqueueDrain(t *testing.T) {
	q := newTriggerQueue()

	require.True(t, q.Enqueue("timer"))
	require.True(t, q.Enqueue("connectivity"))

	assert.Equal(t, []string{"timer", "connectivity"}, q.Drain())
	assert.Nil(t, q.Drain(), "drain of an empty queue returns nil")
}

func TestTriggerQueue_SignalCoalesces(t *testing.T) {
	q := newTriggerQueue()

	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}

	select {
	case <-q.Wait():
		t.Fatal("three triggers must leave a single signal")
	default:
	}

	assert.Len(t, q.Drain(), 3)
}

func TestTriggerQueue_WaitUnblocksOnEnqueue(t *testing.T) {
	q := newTriggerQueue()
	done := make(chan struct{})

	go func() {
		<-q.Wait()
		close(done)
	}()

	// Give goroutine time to block
	time.Sleep(10 * time.Millisecond)
	q.Enqueue("refresh")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock")
	}
}

func TestTriggerQueue_Close(t *testing.T) {
	q := newTriggerQueue()
	q.Enqueue("before")
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue("after"), "enqueue after close should return false")

	// The signal buffered by the first Enqueue is still delivered, then the
	// channel reports closed.
	_, ok := <-q.Wait()
	assert.True(t, ok, "buffered signal survives close")
	_, ok = <-q.Wait()
	assert.False(t, ok, "signal channel is closed")
	assert.Equal(t, []string{"before"}, q.Drain(), "reasons queued before close survive")
}

func TestTriggerQueue_Len(t *testing.T) {
	q := newTriggerQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue("1")
	q.Enqueue("2")
	assert.Equal(t, 2, q.Len())

	q.Drain()
	assert.Equal(t, 0, q.Len())
}

func TestTriggerQueue_ThreadSafe(t *testing.T) {
	q := newTriggerQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(fmt.Sprintf("p%d-%d", id, i))
			}
		}(p)
	}

	var (
		mu       sync.Mutex
		received int
	)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			<-q.Wait()
			mu.Lock()
			received += len(q.Drain())
			n := received
			mu.Unlock()
			if n >= producers*perProducer {
				return
			}
		}
	}()

	wg.Wait()

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("consumer timeout: received %d triggers", received)
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"timer", "connectivity"},
		dedupe([]string{"timer", "connectivity", "timer", "timer"}))
}

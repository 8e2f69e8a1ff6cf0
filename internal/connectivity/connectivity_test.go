package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_NotifiesOnChange(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(false) // no change, no notification
	m.Set(true)

	select {
	case online := <-ch:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
	assert.True(t, m.Online())
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	require.Len(t, ch, 1)
	assert.True(t, <-ch)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	cancel()
	cancel() // idempotent

	m.Set(true)
	assert.Len(t, ch, 0)
}

func TestProber_ReflectsHealth(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMonitor(true)
	p := NewProber(srv.URL, time.Second, m, srv.Client())
	ctx := context.Background()

	assert.False(t, p.Probe(ctx))
	assert.False(t, m.Online())

	healthy.Store(true)
	assert.True(t, p.Probe(ctx))
	assert.True(t, m.Online())
}

func TestProber_UnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(true)
	p := NewProber(url, time.Second, m, nil)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestProber_RunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(srv.URL, 10*time.Millisecond, m, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

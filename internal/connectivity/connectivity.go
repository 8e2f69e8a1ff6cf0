// Package connectivity reports whether the remote authority is reachable
// and notifies subscribers when that changes.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Checker is the connectivity collaborator of the orchestrator.
type Checker interface {
	// Online reports the current state.
	Online() bool

	// Subscribe returns a channel receiving the new state after each
	// change, and a function that ends the subscription. A slow subscriber
	// only ever sees the latest state.
	Subscribe() (<-chan bool, func())
}

// Monitor is a settable Checker.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a monitor with an initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: map[int]chan bool{}}
}

// Online implements Checker.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and notifies subscribers if it changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online
	slog.Debug("connectivity changed", "online", online)

	for _, ch := range m.subs {
		// Drop a stale undelivered value so the latest state wins.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe implements Checker.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Prober polls a health endpoint and feeds the result into a Monitor.
// Any 2xx response counts as online.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	monitor  *Monitor
}

// NewProber creates a prober for healthURL. A nil client uses one with a
// timeout of half the interval.
func NewProber(healthURL string, interval time.Duration, monitor *Monitor, client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: interval / 2}
	}
	return &Prober{url: healthURL, interval: interval, client: client, monitor: monitor}
}

// Probe checks the endpoint once and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.monitor.Set(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		slog.Warn("invalid health url", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("health probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

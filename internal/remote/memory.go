package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// IDGenerator produces server identifiers.
type IDGenerator interface {
	NewID() string
}

type counterIDs struct{ n int }

func (c *counterIDs) NewID() string {
	c.n++
	return fmt.Sprintf("srv-%d", c.n)
}

// Memory is an in-memory Authority. It is the authority behind
// `fieldsync serve-mock` and the fake remote in tests.
//
// Modification times are strictly increasing per entity type so paging by
// "changed after" never skips a record.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	ids     IDGenerator
	token   string
	records map[record.EntityType]map[string]*stored
	byLocal map[record.EntityType]map[string]string
	applied map[string]record.Ack
	last    map[record.EntityType]time.Time
	faults  map[record.EntityType][]error
	writes  []WriteRequest
}

type stored struct {
	version record.RemoteVersion
}

// MemoryOption configures a Memory authority.
type MemoryOption func(*Memory)

// WithMemoryClock sets the clock that stamps remote modification times.
func WithMemoryClock(c clock.Clock) MemoryOption {
	return func(m *Memory) {
		m.clock = c
	}
}

// WithServerIDs sets the generator for server identifiers.
func WithServerIDs(g IDGenerator) MemoryOption {
	return func(m *Memory) {
		m.ids = g
	}
}

// WithToken makes the authority reject every request not carrying token.
func WithToken(token string) MemoryOption {
	return func(m *Memory) {
		m.token = token
	}
}

// NewMemory creates an empty in-memory authority.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:   clock.System{},
		ids:     &counterIDs{},
		records: map[record.EntityType]map[string]*stored{},
		byLocal: map[record.EntityType]map[string]string{},
		applied: map[string]record.Ack{},
		last:    map[record.EntityType]time.Time{},
		faults:  map[record.EntityType][]error{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetToken changes the accepted token. An empty token accepts any request.
func (m *Memory) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// FailNext makes the next requests for an entity type fail with the given
// errors, one per request, in order.
func (m *Memory) FailNext(et record.EntityType, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[et] = append(m.faults[et], errs...)
}

// Writes returns every write the authority applied, in order.
func (m *Memory) Writes() []WriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRequest, len(m.writes))
	copy(out, m.writes)
	return out
}

// Lookup returns the current remote version of a record.
func (m *Memory) Lookup(et record.EntityType, serverID string) (record.RemoteVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[et][serverID]
	if !ok {
		return record.RemoteVersion{}, false
	}
	return s.version, true
}

// Edit changes a record as another device would. It creates the record when
// serverID is unknown. Returns the stored version.
func (m *Memory) Edit(serverID string, p record.Payload) record.RemoteVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	et := p.EntityType()
	if serverID == "" {
		serverID = m.ids.NewID()
	}
	v := record.RemoteVersion{
		EntityType: et,
		ServerID:   serverID,
		Payload:    p,
		UpdatedAt:  m.stampLocked(et),
	}
	if s, ok := m.records[et][serverID]; ok {
		v.LocalID = s.version.LocalID
	}
	m.putLocked(v)
	return v
}

// Remove deletes a record as another device would.
func (m *Memory) Remove(et record.EntityType, serverID string) (record.RemoteVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[et][serverID]
	if !ok {
		return record.RemoteVersion{}, false
	}
	v := s.version
	v.Deleted = true
	v.UpdatedAt = m.stampLocked(et)
	m.putLocked(v)
	return v, true
}

// Write implements Authority.
func (m *Memory) Write(ctx context.Context, token string, req WriteRequest) (record.Ack, error) {
	if err := ctx.Err(); err != nil {
		return record.Ack{}, syncerr.Transient("write", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(token, req.EntityType); err != nil {
		return record.Ack{}, err
	}
	if ack, ok := m.applied[req.MutationID]; ok {
		return ack, nil
	}
	if req.Payload == nil || req.Payload.EntityType() != req.EntityType {
		return record.Ack{}, syncerr.Validation("write", fmt.Errorf("payload does not match entity type %s", req.EntityType))
	}

	serverID := req.ServerID
	if serverID == "" && req.LocalID != "" {
		serverID = m.byLocal[req.EntityType][req.LocalID]
	}

	var v record.RemoteVersion
	switch req.Operation {
	case record.OpCreate:
		if serverID == "" {
			serverID = m.ids.NewID()
		}
		v = record.RemoteVersion{
			EntityType: req.EntityType,
			ServerID:   serverID,
			LocalID:    req.LocalID,
			Payload:    req.Payload,
		}

	case record.OpUpdate, record.OpDelete:
		s, ok := m.records[req.EntityType][serverID]
		if !ok {
			return record.Ack{}, syncerr.Validation("write", fmt.Errorf("unknown %s record %q", req.EntityType, serverID))
		}
		v = s.version
		v.Payload = req.Payload
		v.Deleted = req.Operation == record.OpDelete

	default:
		return record.Ack{}, syncerr.Validation("write", fmt.Errorf("unknown operation %q", req.Operation))
	}

	v.UpdatedAt = m.stampLocked(req.EntityType)
	m.putLocked(v)

	ack := record.Ack{ServerID: v.ServerID, UpdatedAt: v.UpdatedAt}
	m.applied[req.MutationID] = ack
	m.writes = append(m.writes, req)
	return ack, nil
}

// Changes implements Authority.
func (m *Memory) Changes(ctx context.Context, token string, req ChangesRequest) (ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return ChangeSet{}, syncerr.Transient("changes", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(token, req.EntityType); err != nil {
		return ChangeSet{}, err
	}

	versions := make([]record.RemoteVersion, 0)
	for _, s := range m.records[req.EntityType] {
		if s.version.UpdatedAt.After(req.Since) {
			versions = append(versions, s.version)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].UpdatedAt.Before(versions[j].UpdatedAt)
	})

	cs := ChangeSet{Versions: versions}
	if req.Limit > 0 && len(versions) > req.Limit {
		cs.Versions = versions[:req.Limit]
		cs.HasMore = true
	}
	return cs, nil
}

func (m *Memory) checkLocked(token string, et record.EntityType) error {
	if m.token != "" && token != m.token {
		return syncerr.Auth("authorize", errors.New("invalid or missing token"))
	}
	if !et.Valid() {
		return syncerr.Validation("route", fmt.Errorf("unknown entity type %q", et))
	}
	if queued := m.faults[et]; len(queued) > 0 {
		m.faults[et] = queued[1:]
		return queued[0]
	}
	return nil
}

// stampLocked returns the next modification time for an entity type.
func (m *Memory) stampLocked(et record.EntityType) time.Time {
	now := m.clock.Now().Truncate(time.Millisecond)
	if last := m.last[et]; !now.After(last) {
		now = last.Add(time.Millisecond)
	}
	m.last[et] = now
	return now
}

func (m *Memory) putLocked(v record.RemoteVersion) {
	if m.records[v.EntityType] == nil {
		m.records[v.EntityType] = map[string]*stored{}
		m.byLocal[v.EntityType] = map[string]string{}
	}
	m.records[v.EntityType][v.ServerID] = &stored{version: v}
	if v.LocalID != "" {
		m.byLocal[v.EntityType][v.LocalID] = v.ServerID
	}
}

// Package conflict decides which version of a record wins when a pull finds
// a remote change to a record that still has local mutations queued.
//
// Everything here is a pure function of its inputs. Applying a Resolution
// to the store is the orchestrator's job.
package conflict

import (
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/record"
)

// DefaultSkew absorbs clock drift between queuing a mutation on the device
// and the remote persisting its own change.
const DefaultSkew = time.Second

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	ServerWins Strategy = "server_wins"
	ClientWins Strategy = "client_wins"
	AskUser    Strategy = "ask_user"
	Merge      Strategy = "merge"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{ServerWins, ClientWins, AskUser, Merge}

// Valid reports whether s is a supported strategy.
func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStrategy converts a string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown conflict strategy %q (want one of %v)", s, Strategies)
	}
	return st, nil
}

// Policy maps entity types to strategies.
type Policy struct {
	Default Strategy
	PerType map[record.EntityType]Strategy
}

// For returns the strategy configured for an entity type, falling back to
// the default and then to server_wins.
func (p Policy) For(t record.EntityType) Strategy {
	if s, ok := p.PerType[t]; ok && s.Valid() {
		return s
	}
	if p.Default.Valid() {
		return p.Default
	}
	return ServerWins
}

// Case describes one divergence between a queued local change and a remote
// change of the same record.
type Case struct {
	EntityType record.EntityType
	LocalID    string

	LocalData record.Payload
	// LocalDeleted is set when the queued local change is a delete.
	LocalDeleted bool
	// LocalQueuedAt is the queue time of the oldest pending mutation.
	LocalQueuedAt time.Time
	// ChangedFields is the union of fields changed by the pending mutations.
	ChangedFields []string

	Server record.RemoteVersion
}

// ServerData returns the remote payload.
func (c Case) ServerData() record.Payload { return c.Server.Payload }

// ServerUpdatedAt returns the remote modification time.
func (c Case) ServerUpdatedAt() time.Time { return c.Server.UpdatedAt }

// Outcome names the version a resolution settled on.
type Outcome string

const (
	OutcomeServer Outcome = "server"
	OutcomeClient Outcome = "client"
	OutcomeMerged Outcome = "merged"
	OutcomeHeld   Outcome = "held"
)

// Resolution is the decision for one Case.
type Resolution struct {
	Outcome Outcome
	// Data is the winning payload. For a held case it is the local data,
	// which stays as is.
	Data record.Payload
	// Deleted is set when the winning version is a delete.
	Deleted bool
	// DiscardLocal drops the record's queued mutations.
	DiscardLocal bool
	// Requeue keeps (or re-adds) local mutations so the next push
	// overwrites the remote.
	Requeue bool
	// ChangedFields lists the fields of Data that differ from the remote
	// version after a merge.
	ChangedFields []string
	// Resolved is false only for a case held for a user decision.
	Resolved bool
}

// DetectConflict reports whether a remote change made at serverUpdatedAt
// conflicts with a local change queued at localQueuedAt. The remote change
// must be newer than the local one by more than skew.
func DetectConflict(serverUpdatedAt, localQueuedAt time.Time, skew time.Duration) bool {
	return serverUpdatedAt.After(localQueuedAt.Add(skew))
}

// Resolve applies a strategy to a case.
//
// A merge needs both sides to be live records; when either side is a
// delete the server version wins, as it would for server_wins.
func Resolve(c Case, strategy Strategy) (Resolution, error) {
	switch strategy {
	case ServerWins:
		return serverWins(c), nil

	case ClientWins:
		return Resolution{
			Outcome:  OutcomeClient,
			Data:     c.LocalData,
			Deleted:  c.LocalDeleted,
			Requeue:  true,
			Resolved: true,
		}, nil

	case AskUser:
		return Resolution{
			Outcome:  OutcomeHeld,
			Data:     c.LocalData,
			Deleted:  c.LocalDeleted,
			Requeue:  true,
			Resolved: false,
		}, nil

	case Merge:
		if c.LocalDeleted || c.Server.Deleted {
			return serverWins(c), nil
		}
		merged, err := MergeData(c.LocalData, c.Server.Payload, c.ChangedFields)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve %s/%s: %w", c.EntityType, c.LocalID, err)
		}
		changed, err := record.ChangedFields(c.Server.Payload, merged)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve %s/%s: %w", c.EntityType, c.LocalID, err)
		}
		return Resolution{
			Outcome:       OutcomeMerged,
			Data:          merged,
			DiscardLocal:  true,
			Requeue:       len(changed) > 0,
			ChangedFields: changed,
			Resolved:      true,
		}, nil

	default:
		return Resolution{}, fmt.Errorf("resolve %s/%s: unknown strategy %q", c.EntityType, c.LocalID, strategy)
	}
}

func serverWins(c Case) Resolution {
	return Resolution{
		Outcome:      OutcomeServer,
		Data:         c.Server.Payload,
		Deleted:      c.Server.Deleted,
		DiscardLocal: true,
		Resolved:     true,
	}
}

// MergeData returns a copy of server with the listed fields taken from
// local. Fields not listed keep the server's value. A listed field that
// local does not carry is removed from the result.
func MergeData(local, server record.Payload, changedFields []string) (record.Payload, error) {
	if local == nil || server == nil {
		return nil, fmt.Errorf("merge: nil payload")
	}
	if local.EntityType() != server.EntityType() {
		return nil, fmt.Errorf("merge: entity type mismatch %s != %s", local.EntityType(), server.EntityType())
	}

	localFields, err := record.Fields(local)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	merged, err := record.Fields(server)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	for _, f := range changedFields {
		if v, ok := localFields[f]; ok {
			merged[f] = v
		} else {
			delete(merged, f)
		}
	}

	out, err := record.FromFields(server.EntityType(), merged)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return out, nil
}

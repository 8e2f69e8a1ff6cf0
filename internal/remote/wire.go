package remote

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/fieldsync/internal/record"
)

// JSON bodies of the HTTP API. Timestamps are Unix milliseconds.

type writeBody struct {
	MutationID    string          `json:"mutation_id"`
	Operation     string          `json:"operation"`
	LocalID       string          `json:"local_id"`
	ServerID      string          `json:"server_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	QueuedAt      int64           `json:"queued_at"`
}

type ackBody struct {
	ServerID  string `json:"server_id"`
	UpdatedAt int64  `json:"updated_at"`
}

type changeBody struct {
	ServerID  string          `json:"server_id"`
	LocalID   string          `json:"local_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`
}

type changeSetBody struct {
	Changes []changeBody `json:"changes"`
	HasMore bool         `json:"has_more"`
}

type errorBody struct {
	Error string `json:"error"`
}

func encodeWrite(req WriteRequest) (writeBody, error) {
	payload, err := record.EncodePayload(req.Payload)
	if err != nil {
		return writeBody{}, err
	}
	return writeBody{
		MutationID:    req.MutationID,
		Operation:     string(req.Operation),
		LocalID:       req.LocalID,
		ServerID:      req.ServerID,
		Payload:       payload,
		ChangedFields: req.ChangedFields,
		QueuedAt:      record.Millis(req.QueuedAt),
	}, nil
}

func decodeWrite(et record.EntityType, b writeBody) (WriteRequest, error) {
	op := record.Operation(b.Operation)
	if !op.Valid() {
		return WriteRequest{}, fmt.Errorf("unknown operation %q", b.Operation)
	}
	if b.MutationID == "" {
		return WriteRequest{}, fmt.Errorf("missing mutation_id")
	}
	p, err := record.DecodePayload(et, b.Payload)
	if err != nil {
		return WriteRequest{}, err
	}
	return WriteRequest{
		MutationID:    b.MutationID,
		EntityType:    et,
		Operation:     op,
		LocalID:       b.LocalID,
		ServerID:      b.ServerID,
		Payload:       p,
		ChangedFields: b.ChangedFields,
		QueuedAt:      record.FromMillis(b.QueuedAt),
	}, nil
}

func encodeChangeSet(cs ChangeSet) (changeSetBody, error) {
	out := changeSetBody{Changes: make([]changeBody, 0, len(cs.Versions)), HasMore: cs.HasMore}
	for _, v := range cs.Versions {
		c := changeBody{
			ServerID:  v.ServerID,
			LocalID:   v.LocalID,
			UpdatedAt: record.Millis(v.UpdatedAt),
			Deleted:   v.Deleted,
		}
		if v.Payload != nil {
			data, err := record.EncodePayload(v.Payload)
			if err != nil {
				return changeSetBody{}, err
			}
			c.Payload = data
		}
		out.Changes = append(out.Changes, c)
	}
	return out, nil
}

func decodeChangeSet(et record.EntityType, b changeSetBody) (ChangeSet, error) {
	cs := ChangeSet{Versions: make([]record.RemoteVersion, 0, len(b.Changes)), HasMore: b.HasMore}
	for _, c := range b.Changes {
		v := record.RemoteVersion{
			EntityType: et,
			ServerID:   c.ServerID,
			LocalID:    c.LocalID,
			UpdatedAt:  record.FromMillis(c.UpdatedAt),
			Deleted:    c.Deleted,
		}
		if len(c.Payload) > 0 {
			p, err := record.DecodePayload(et, c.Payload)
			if err != nil {
				return ChangeSet{}, fmt.Errorf("change %s: %w", c.ServerID, err)
			}
			v.Payload = p
		}
		if !v.Deleted && v.Payload == nil {
			return ChangeSet{}, fmt.Errorf("change %s: missing payload", c.ServerID)
		}
		cs.Versions = append(cs.Versions, v)
	}
	return cs, nil
}

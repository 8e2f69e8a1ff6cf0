package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Payload is the business content of a record. The set of implementations
// is closed: LogEntry, Ticket and PMTask.
type Payload interface {
	EntityType() EntityType
	isPayload()
}

// LogEntry is an equipment reading captured during a site visit.
type LogEntry struct {
	Equipment string  `json:"equipment"`
	Reading   float64 `json:"reading"`
	Unit      string  `json:"unit"`
	Notes     string  `json:"notes,omitempty"`
}

// Ticket is a fault report raised in the field.
type Ticket struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
}

// PMTask is a preventive-maintenance task assigned to an asset.
type PMTask struct {
	Asset     string `json:"asset"`
	Task      string `json:"task"`
	DueDate   string `json:"due_date,omitempty"`
	Completed bool   `json:"completed"`
}

func (LogEntry) EntityType() EntityType { return EntityLogEntry }
func (Ticket) EntityType() EntityType   { return EntityTicket }
func (PMTask) EntityType() EntityType   { return EntityPMTask }

func (LogEntry) isPayload() {}
func (Ticket) isPayload()   {}
func (PMTask) isPayload()   {}

// EncodePayload serializes a payload to its JSON object form.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EntityType(), err)
	}
	return data, nil
}

// DecodePayload parses the JSON object form of a payload of type t.
// Unknown fields are rejected so a payload cannot silently lose data.
func DecodePayload(t EntityType, data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var (
		p   Payload
		err error
	)
	switch t {
	case EntityLogEntry:
		var v LogEntry
		err = dec.Decode(&v)
		p = v
	case EntityTicket:
		var v Ticket
		err = dec.Decode(&v)
		p = v
	case EntityPMTask:
		var v PMTask
		err = dec.Decode(&v)
		p = v
	default:
		return nil, fmt.Errorf("decode payload: unknown entity type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// Fields returns the top-level fields of a payload as a generic map.
// Numbers are kept as json.Number so values round-trip exactly.
func Fields(p Payload) (map[string]any, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	fields := map[string]any{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("payload fields: %w", err)
	}
	return fields, nil
}

// FromFields builds a payload of type t from a field map produced by Fields.
func FromFields(t EntityType, fields map[string]any) (Payload, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("payload from fields: %w", err)
	}
	return DecodePayload(t, data)
}

// ChangedFields lists, in sorted order, the top-level fields whose values
// differ between before and after. A nil before means every field of after
// is new.
func ChangedFields(before, after Payload) ([]string, error) {
	afterFields, err := Fields(after)
	if err != nil {
		return nil, err
	}
	beforeFields := map[string]any{}
	if before != nil {
		if before.EntityType() != after.EntityType() {
			return nil, fmt.Errorf("changed fields: entity type mismatch %s != %s",
				before.EntityType(), after.EntityType())
		}
		if beforeFields, err = Fields(before); err != nil {
			return nil, err
		}
	}

	keys := map[string]struct{}{}
	for k := range afterFields {
		keys[k] = struct{}{}
	}
	for k := range beforeFields {
		keys[k] = struct{}{}
	}

	var changed []string
	for k := range keys {
		same, err := sameValue(beforeFields[k], afterFields[k])
		if err != nil {
			return nil, fmt.Errorf("changed fields: %q: %w", k, err)
		}
		if !same {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func sameValue(a, b any) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	ca, err := marshalCanonical(a)
	if err != nil {
		return false, err
	}
	cb, err := marshalCanonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// UnionFields merges two sorted field lists into one sorted list without
// duplicates.
func UnionFields(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

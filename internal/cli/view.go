package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/fieldsync/internal/cleanup"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/store"
)

// recordView is the output form of a record.
type recordView struct {
	LocalID    string         `json:"local_id"`
	EntityType string         `json:"entity_type"`
	ServerID   string         `json:"server_id,omitempty"`
	Synced     bool           `json:"synced"`
	Deleted    bool           `json:"deleted,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Payload    record.Payload `json:"payload"`
	MutationID string         `json:"mutation_id,omitempty"`
}

func newRecordView(rec record.Record) recordView {
	return recordView{
		LocalID:    rec.LocalID,
		EntityType: string(rec.EntityType),
		ServerID:   rec.ServerID,
		Synced:     rec.IsSynced,
		Deleted:    rec.IsDeleted,
		UpdatedAt:  rec.UpdatedAt,
		Payload:    rec.Payload,
	}
}

func (v recordView) String() string {
	state := "pending"
	switch {
	case v.Deleted:
		state = "deleted"
	case v.Synced:
		state = "synced"
	}
	data, err := json.Marshal(v.Payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v.Payload))
	}
	return fmt.Sprintf("%s %s server=%s %s %s", v.EntityType, v.LocalID, orDash(v.ServerID), state, data)
}

type recordList []recordView

func (l recordList) String() string {
	if len(l) == 0 {
		return "no records"
	}
	lines := make([]string, len(l))
	for i, v := range l {
		lines[i] = v.String()
	}
	return strings.Join(lines, "\n")
}

// syncView is the output form of a sync cycle report.
type syncView struct {
	Reason     string          `json:"reason"`
	Offline    bool            `json:"offline,omitempty"`
	Coalesced  bool            `json:"coalesced,omitempty"`
	Cancelled  bool            `json:"cancelled,omitempty"`
	Pushed     int             `json:"pushed"`
	Pulled     int             `json:"pulled"`
	Skipped    int             `json:"skipped"`
	Conflicts  []conflictView  `json:"conflicts,omitempty"`
	DataErrors []dataErrorView `json:"data_errors,omitempty"`
	Stuck      []mutationView  `json:"stuck,omitempty"`
	Deferred   []deferralView  `json:"deferred,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

type conflictView struct {
	EntityType string `json:"entity_type"`
	LocalID    string `json:"local_id"`
	ServerID   string `json:"server_id,omitempty"`
	Strategy   string `json:"strategy"`
	Outcome    string `json:"outcome"`
	Decided    bool   `json:"decided,omitempty"`
}

type dataErrorView struct {
	MutationID string `json:"mutation_id"`
	EntityType string `json:"entity_type"`
	LocalID    string `json:"local_id"`
	Operation  string `json:"operation"`
	Message    string `json:"message"`
}

type mutationView struct {
	MutationID string `json:"mutation_id"`
	EntityType string `json:"entity_type"`
	LocalID    string `json:"local_id"`
	Operation  string `json:"operation,omitempty"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

type deferralView struct {
	EntityType string `json:"entity_type"`
	Phase      string `json:"phase"`
	Message    string `json:"message"`
}

func newSyncView(rep engine.Report) syncView {
	v := syncView{
		Reason:     rep.Reason,
		Offline:    rep.Offline,
		Coalesced:  rep.Coalesced,
		Cancelled:  rep.Cancelled,
		Pushed:     rep.Pushed,
		Pulled:     rep.Pulled,
		Skipped:    rep.Skipped,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
	}
	for _, c := range rep.Conflicts {
		v.Conflicts = append(v.Conflicts, conflictView{
			EntityType: string(c.EntityType),
			LocalID:    c.LocalID,
			ServerID:   c.ServerID,
			Strategy:   string(c.Strategy),
			Outcome:    string(c.Outcome),
			Decided:    c.Decided,
		})
	}
	for _, e := range rep.DataErrors {
		v.DataErrors = append(v.DataErrors, dataErrorView{
			MutationID: e.MutationID,
			EntityType: string(e.EntityType),
			LocalID:    e.LocalID,
			Operation:  string(e.Operation),
			Message:    e.Message,
		})
	}
	for _, s := range rep.Stuck {
		v.Stuck = append(v.Stuck, mutationView{
			MutationID: s.MutationID,
			EntityType: string(s.EntityType),
			LocalID:    s.LocalID,
			RetryCount: s.RetryCount,
			LastError:  s.LastError,
		})
	}
	for _, d := range rep.Deferred {
		v.Deferred = append(v.Deferred, deferralView{
			EntityType: string(d.EntityType),
			Phase:      string(d.Phase),
			Message:    d.Message,
		})
	}
	return v
}

func (v syncView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sync (%s): ", v.Reason)
	switch {
	case v.Coalesced:
		b.WriteString("coalesced into the running cycle")
		return b.String()
	case v.Offline:
		b.WriteString("offline, nothing synced")
		return b.String()
	}
	fmt.Fprintf(&b, "pushed %d, pulled %d, skipped %d", v.Pushed, v.Pulled, v.Skipped)
	if v.Cancelled {
		b.WriteString(", cancelled")
	}

	if len(v.Conflicts) > 0 {
		b.WriteString("\nconflicts:")
		for _, c := range v.Conflicts {
			decided := ""
			if c.Decided {
				decided = " (decided)"
			}
			fmt.Fprintf(&b, "\n  %s %s server=%s %s -> %s%s", c.EntityType, c.LocalID, orDash(c.ServerID), c.Strategy, c.Outcome, decided)
		}
	}
	if len(v.DataErrors) > 0 {
		b.WriteString("\ndata errors:")
		for _, e := range v.DataErrors {
			fmt.Fprintf(&b, "\n  %s %s %s mutation=%s: %s", e.EntityType, e.LocalID, e.Operation, e.MutationID, e.Message)
		}
	}
	if len(v.Stuck) > 0 {
		b.WriteString("\nstuck:")
		for _, s := range v.Stuck {
			fmt.Fprintf(&b, "\n  %s %s mutation=%s retries=%d: %s", s.EntityType, s.LocalID, s.MutationID, s.RetryCount, s.LastError)
		}
	}
	if len(v.Deferred) > 0 {
		b.WriteString("\ndeferred:")
		for _, d := range v.Deferred {
			fmt.Fprintf(&b, "\n  %s while %s: %s", d.EntityType, d.Phase, d.Message)
		}
	}
	return b.String()
}

// statusView summarizes local sync state.
type statusView struct {
	Unsynced map[string]int `json:"unsynced"`
	Pending  map[string]int `json:"pending"`
	Stuck    []mutationView `json:"stuck"`
	Held     []heldView     `json:"held"`
	LoggedIn bool           `json:"logged_in"`
}

type heldView struct {
	EntityType string    `json:"entity_type"`
	LocalID    string    `json:"local_id"`
	HeldAt     time.Time `json:"held_at"`
}

func newStatusView(unsynced map[record.EntityType]int, stats store.QueueStats, stuck []record.Mutation, held []store.HeldConflict, loggedIn bool) statusView {
	v := statusView{
		Unsynced: map[string]int{},
		Pending:  map[string]int{},
		Stuck:    []mutationView{},
		Held:     []heldView{},
		LoggedIn: loggedIn,
	}
	for _, et := range record.EntityTypes {
		v.Unsynced[string(et)] = unsynced[et]
		v.Pending[string(et)] = stats.Pending[et]
	}
	for _, m := range stuck {
		v.Stuck = append(v.Stuck, mutationView{
			MutationID: m.ID,
			EntityType: string(m.EntityType),
			LocalID:    m.TargetLocalID,
			Operation:  string(m.Operation),
			RetryCount: m.RetryCount,
			LastError:  m.LastError,
		})
	}
	for _, h := range held {
		v.Held = append(v.Held, heldView{
			EntityType: string(h.EntityType),
			LocalID:    h.LocalID,
			HeldAt:     h.HeldAt,
		})
	}
	return v
}

func (v statusView) String() string {
	var b strings.Builder
	login := "logged out"
	if v.LoggedIn {
		login = "logged in"
	}
	b.WriteString(login)
	b.WriteString("\nentity type   unsynced  pending")
	for _, et := range record.EntityTypes {
		fmt.Fprintf(&b, "\n%-12s  %8d  %7d", et, v.Unsynced[string(et)], v.Pending[string(et)])
	}
	if len(v.Stuck) > 0 {
		b.WriteString("\nstuck mutations (retry with 'fieldsync queue retry <id>'):")
		for _, s := range v.Stuck {
			fmt.Fprintf(&b, "\n  %s %s %s %s retries=%d: %s", s.MutationID, s.EntityType, s.LocalID, s.Operation, s.RetryCount, s.LastError)
		}
	}
	if len(v.Held) > 0 {
		b.WriteString("\nheld conflicts (settle with 'fieldsync resolve <type> <local-id> <strategy>'):")
		for _, h := range v.Held {
			fmt.Fprintf(&b, "\n  %s %s", h.EntityType, h.LocalID)
		}
	}
	return b.String()
}

// cleanupView lists the outcome of each cleanup step.
type cleanupView struct {
	Steps []stepView `json:"steps"`
}

type stepView struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

func newCleanupView(rep cleanup.Report) cleanupView {
	v := cleanupView{Steps: []stepView{}}
	for _, s := range rep.Steps {
		sv := stepView{Name: s.Name}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		v.Steps = append(v.Steps, sv)
	}
	return v
}

func (v cleanupView) String() string {
	lines := make([]string, len(v.Steps))
	for i, s := range v.Steps {
		if s.Error != "" {
			lines[i] = fmt.Sprintf("FAIL %s: %s", s.Name, s.Error)
		} else {
			lines[i] = "ok   " + s.Name
		}
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

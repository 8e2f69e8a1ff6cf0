package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/record"
)

// Scenario defines one scripted sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Strategies maps "default" or an entity type to a conflict strategy.
	// Unlisted types use server_wins.
	Strategies map[string]string `yaml:"strategies,omitempty"`

	// Skew is the conflict detection skew buffer (e.g. "1s"). Empty uses
	// the orchestrator default.
	Skew string `yaml:"skew,omitempty"`

	// MaxRetries caps transient failures before a mutation becomes stuck.
	// Zero uses the orchestrator default.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action.
type Step struct {
	// Do is the step action, one of the Step* constants.
	Do string `yaml:"do"`

	// Type is the entity type (create, remote_create, fail_next).
	Type string `yaml:"type,omitempty"`

	// Ref names the record the step acts on.
	Ref string `yaml:"ref,omitempty"`

	// Data holds payload fields. Updates merge them into the current
	// payload.
	Data map[string]interface{} `yaml:"data,omitempty"`

	// Strategy is the decision recorded by decide.
	Strategy string `yaml:"strategy,omitempty"`

	// Fail is the injected error kind of fail_next: transient, auth or
	// validation.
	Fail string `yaml:"fail,omitempty"`

	// Count is the number of failing requests of fail_next. Defaults to 1.
	Count int `yaml:"count,omitempty"`

	// Duration is how far advance moves the clock (e.g. "90s").
	Duration string `yaml:"duration,omitempty"`

	// Expect checks the report of a sync step.
	Expect *SyncExpect `yaml:"expect,omitempty"`

	// ExpectError marks a step that must fail.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// SyncExpect lists expected report counters. Unset fields are not checked.
type SyncExpect struct {
	Offline    *bool `yaml:"offline,omitempty"`
	Pushed     *int  `yaml:"pushed,omitempty"`
	Pulled     *int  `yaml:"pulled,omitempty"`
	Skipped    *int  `yaml:"skipped,omitempty"`
	Conflicts  *int  `yaml:"conflicts,omitempty"`
	Held       *int  `yaml:"held,omitempty"`
	DataErrors *int  `yaml:"data_errors,omitempty"`
	Stuck      *int  `yaml:"stuck,omitempty"`
	Deferred   *int  `yaml:"deferred,omitempty"`
}

// Assertion validates final state or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Ref is the record checked by local_record and remote_record, and an
	// optional filter of held and trace_contains.
	Ref string `yaml:"ref,omitempty"`

	// EntityType narrows queue counts to one type.
	EntityType string `yaml:"entity_type,omitempty"`

	// Data is a subset of expected payload fields.
	Data map[string]interface{} `yaml:"data,omitempty"`

	Exists  *bool `yaml:"exists,omitempty"`
	Synced  *bool `yaml:"synced,omitempty"`
	Pending *int  `yaml:"pending,omitempty"`
	Stuck   *int  `yaml:"stuck,omitempty"`

	// Count is the expected number of held conflicts or trace steps.
	Count *int `yaml:"count,omitempty"`

	// Do is the step action matched by trace_contains and trace_count.
	Do string `yaml:"do,omitempty"`
}

// Step actions.
const (
	StepCreate       = "create"
	StepUpdate       = "update"
	StepDelete       = "delete"
	StepRemoteCreate = "remote_create"
	StepRemoteUpdate = "remote_update"
	StepRemoteDelete = "remote_delete"
	StepFailNext     = "fail_next"
	StepAdvance      = "advance"
	StepOffline      = "offline"
	StepOnline       = "online"
	StepSync         = "sync"
	StepDecide       = "decide"
	StepRequeue      = "requeue"
)

// Assertion type constants.
const (
	AssertLocalRecord   = "local_record"
	AssertRemoteRecord  = "remote_record"
	AssertQueue         = "queue"
	AssertHeld          = "held"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// Injected failure kinds of fail_next.
const (
	FailTransient  = "transient"
	FailAuth       = "auth"
	FailValidation = "validation"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadScenarios loads every *.yaml scenario of a directory, sorted by file
// name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if s.Skew != "" {
		if _, err := time.ParseDuration(s.Skew); err != nil {
			return fmt.Errorf("skew: %w", err)
		}
	}
	if _, err := s.policy(); err != nil {
		return err
	}

	refs := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, step, refs); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, refs); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks one step. refs collects the refs bound so far.
func validateStep(i int, step Step, refs map[string]bool) error {
	needRef := func() error {
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Do)
		}
		if !refs[step.Ref] {
			return fmt.Errorf("steps[%d]: unknown ref %q", i, step.Ref)
		}
		return nil
	}
	bindRef := func() error {
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Do)
		}
		if refs[step.Ref] {
			return fmt.Errorf("steps[%d]: ref %q is already bound", i, step.Ref)
		}
		if _, err := record.ParseEntityType(step.Type); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Data == nil {
			return fmt.Errorf("steps[%d]: data is required for %s", i, step.Do)
		}
		refs[step.Ref] = true
		return nil
	}

	switch step.Do {
	case StepCreate, StepRemoteCreate:
		return bindRef()

	case StepUpdate, StepRemoteUpdate:
		if err := needRef(); err != nil {
			return err
		}
		if step.Data == nil {
			return fmt.Errorf("steps[%d]: data is required for %s", i, step.Do)
		}

	case StepDelete, StepRemoteDelete, StepRequeue:
		return needRef()

	case StepDecide:
		if err := needRef(); err != nil {
			return err
		}
		if step.Strategy == "" {
			return fmt.Errorf("steps[%d]: strategy is required for decide", i)
		}

	case StepFailNext:
		if _, err := record.ParseEntityType(step.Type); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		switch step.Fail {
		case FailTransient, FailAuth, FailValidation:
		default:
			return fmt.Errorf("steps[%d]: unknown failure kind %q", i, step.Fail)
		}
		if step.Count < 0 {
			return fmt.Errorf("steps[%d]: count must be non-negative", i)
		}

	case StepAdvance:
		if _, err := time.ParseDuration(step.Duration); err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", i, err)
		}

	case StepSync, StepOffline, StepOnline:

	case "":
		return fmt.Errorf("steps[%d]: do is required", i)

	default:
		return fmt.Errorf("steps[%d]: unknown step %q", i, step.Do)
	}

	if step.Expect != nil && step.Do != StepSync {
		return fmt.Errorf("steps[%d]: expect is only valid for sync", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, refs map[string]bool) error {
	if a.Ref != "" && !refs[a.Ref] {
		return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
	}

	switch a.Type {
	case AssertLocalRecord, AssertRemoteRecord:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for %s", index, a.Type)
		}
	case AssertQueue:
		if a.Pending == nil && a.Stuck == nil {
			return fmt.Errorf("assertions[%d]: pending or stuck is required for queue", index)
		}
		if a.EntityType != "" {
			if _, err := record.ParseEntityType(a.EntityType); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertHeld:
		if a.Count == nil && a.Ref == "" {
			return fmt.Errorf("assertions[%d]: count or ref is required for held", index)
		}
	case AssertTraceContains:
		if a.Do == "" {
			return fmt.Errorf("assertions[%d]: do is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Do == "" {
			return fmt.Errorf("assertions[%d]: do is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be set and non-negative for trace_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// policy builds the conflict policy of the scenario.
func (s *Scenario) policy() (conflict.Policy, error) {
	p := conflict.Policy{PerType: map[record.EntityType]conflict.Strategy{}}
	for key, value := range s.Strategies {
		strategy, err := conflict.ParseStrategy(value)
		if err != nil {
			return conflict.Policy{}, fmt.Errorf("strategies.%s: %w", key, err)
		}
		if key == "default" {
			p.Default = strategy
			continue
		}
		et, err := record.ParseEntityType(key)
		if err != nil {
			return conflict.Policy{}, fmt.Errorf("strategies: %w", err)
		}
		p.PerType[et] = strategy
	}
	return p, nil
}

// skew returns the parsed skew buffer, or zero when unset.
func (s *Scenario) skew() time.Duration {
	d, _ := time.ParseDuration(s.Skew)
	return d
}

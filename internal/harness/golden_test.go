package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_CreatePush(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/create_push.yaml")
	require.NoError(t, err)

	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestAssertGolden_ErrorEvent(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Step: 1, Do: StepCreate, Ref: "t1", Result: "queued create"})
	result.AddTrace(TraceEvent{Step: 2, Do: StepDecide, Ref: "t1", Error: "decide ticket/local-1: no held conflict"})

	require.NoError(t, AssertGolden(t, "error_event", result))
}

func TestTraceSnapshot_Marshal(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "empty",
		Trace:        []TraceEvent{},
	}

	data, err := snapshot.marshal()
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario_name\": \"empty\",\n  \"trace\": []\n}\n", string(data))
}

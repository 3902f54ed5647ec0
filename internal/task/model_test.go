package task

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	tk := New("fix importer", "rows are dropped on empty headers")

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "fix importer", tk.Title)
	assert.Equal(t, StatusSubmitted, tk.Status)
	assert.NotEmpty(t, tk.Timestamp)
	assert.NotNil(t, tk.Logs)
	assert.Empty(t, tk.Logs)
}

func TestStatusChain(t *testing.T) {
	tk := New("t", "d")

	chain := []Status{
		StatusAnalyzing,
		StatusPlanning,
		StatusExecuting,
		StatusValidating,
		StatusCompleted,
	}
	for _, next := range chain {
		require.NoError(t, tk.Transition(next))
		assert.Equal(t, next, tk.Status)
	}
}

func TestStatusTransitionRules(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusSubmitted, StatusAnalyzing, true},
		{StatusSubmitted, StatusPlanning, false},
		{StatusSubmitted, StatusCompleted, false},
		{StatusAnalyzing, StatusPlanning, true},
		{StatusAnalyzing, StatusAnalyzing, false},
		{StatusPlanning, StatusExecuting, true},
		{StatusExecuting, StatusValidating, true},
		{StatusValidating, StatusCompleted, true},
		{StatusValidating, StatusAnalyzing, false},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusCancelled, true},
		{StatusExecuting, StatusFailed, true},
		{StatusValidating, StatusCancelled, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusAnalyzing, false},
		{StatusFailed, StatusSubmitted, false},
		{StatusCancelled, StatusAnalyzing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to),
			"%s to %s", tt.from, tt.to)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	tk := New("t", "d")

	err := tk.Transition(StatusExecuting)
	require.Error(t, err)
	assert.Equal(t, StatusSubmitted, tk.Status)

	err = tk.Transition(Status("bogus"))
	require.Error(t, err)
	assert.Equal(t, StatusSubmitted, tk.Status)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusExecuting.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("executing")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, st)

	_, err = ParseStatus("sleeping")
	assert.Error(t, err)
}

func TestAppendLogFormat(t *testing.T) {
	tk := New("t", "d")
	tk.AppendLog("execution started")
	tk.AppendLog("phase analyze complete")

	require.Len(t, tk.Logs, 2)
	linePattern := regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] execution started$`)
	assert.Regexp(t, linePattern, tk.Logs[0])
}

func TestTaskJSONShape(t *testing.T) {
	tk := New("title here", "description here")
	tk.AppendLog("submitted")

	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	// Every field is always present so the file shape is stable.
	for _, key := range []string{
		"id", "title", "description", "status", "timestamp", "logs",
		"plan", "pr_branch", "pr_number", "pr_url", "pr_title",
		"pr_description", "use_enhanced", "create_pr",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "submitted", raw["status"])
}

func TestClone(t *testing.T) {
	tk := New("t", "d")
	tk.AppendLog("one")
	tk.Plan = &Plan{
		Overview: "two steps",
		Steps: []*Step{
			{Description: "first", Files: []string{"a.go"}, Status: StepPending},
			{Description: "second", Status: StepPending},
		},
	}

	c := tk.Clone()
	c.AppendLog("two")
	c.Status = StatusFailed
	c.Plan.Steps[0].Status = StepFailed
	c.Plan.Steps[0].Files[0] = "b.go"

	assert.Len(t, tk.Logs, 1)
	assert.Equal(t, StatusSubmitted, tk.Status)
	assert.Equal(t, StepPending, tk.Plan.Steps[0].Status)
	assert.Equal(t, "a.go", tk.Plan.Steps[0].Files[0])
}

func TestTaskPlanRoundTrip(t *testing.T) {
	tk := New("t", "d")
	tk.Plan = &Plan{
		Overview: "fix the importer",
		Steps: []*Step{{
			Description: "patch header handling",
			Files:       []string{"importer.go"},
			Role:        "Developer",
			Status:      StepPending,
		}},
	}

	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var back Task
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Plan)
	require.Len(t, back.Plan.Steps, 1)
	assert.Equal(t, "patch header handling", back.Plan.Steps[0].Description)
	assert.Equal(t, StepPending, back.Plan.Steps[0].Status)

	// A task without a plan serializes the key as null.
	data, err = json.Marshal(New("t", "d"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"plan":null`)
}

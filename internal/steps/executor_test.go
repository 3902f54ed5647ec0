package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clientFunc adapts a function to completion.Client for tests that
// need per-call control.
type clientFunc func(ctx context.Context, req completion.Request) (string, error)

func (f clientFunc) Complete(ctx context.Context, req completion.Request) (string, error) {
	return f(ctx, req)
}

func newTestExecutor(t *testing.T, client completion.Client) (string, *Executor) {
	t.Helper()
	root := t.TempDir()
	files, err := docstore.NewFileWriter(root, zap.NewNop())
	require.NoError(t, err)

	e, err := NewExecutor(roles.NewResolver(), client, files, Config{}, zap.NewNop())
	require.NoError(t, err)
	return root, e
}

func pendingStep(description string, files ...string) *task.Step {
	return &task.Step{Description: description, Files: files, Status: task.StepPending}
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	client := completion.NewScripted(
		"```go\npackage api\n```",
		"```go\npackage api_test\n```",
	)
	root, e := newTestExecutor(t, client)

	plan := &task.Plan{
		Overview: "add the api package",
		Steps: []*task.Step{
			pendingStep("implement the api package", "internal/api/api.go"),
			pendingStep("write tests for the api package", "internal/api/api_test.go"),
		},
	}

	var logs []string
	err := e.Run(context.Background(), "build an api", plan, func(s string) { logs = append(logs, s) })
	require.NoError(t, err)

	require.Equal(t, task.StepCompleted, plan.Steps[0].Status)
	require.Equal(t, task.StepCompleted, plan.Steps[1].Status)
	assert.Equal(t, "Developer", plan.Steps[0].Role)
	assert.Equal(t, "Tester", plan.Steps[1].Role)
	assert.Equal(t, []string{"internal/api/api.go"}, plan.Steps[0].ModifiedFiles)

	data, err := os.ReadFile(filepath.Join(root, "internal", "api", "api.go"))
	require.NoError(t, err)
	assert.Equal(t, "package api", string(data))

	data, err = os.ReadFile(filepath.Join(root, "internal", "api", "api_test.go"))
	require.NoError(t, err)
	assert.Equal(t, "package api_test", string(data))

	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "step 1 (Developer)")
}

func TestStepFailureDoesNotStopSiblings(t *testing.T) {
	calls := 0
	boom := errors.New("model unavailable")
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		calls++
		if calls == 2 {
			return "", boom
		}
		return "```go\npackage ok\n```", nil
	})
	root, e := newTestExecutor(t, client)

	plan := &task.Plan{Steps: []*task.Step{
		pendingStep("implement first", "a.go"),
		pendingStep("implement second", "b.go"),
		pendingStep("implement third", "c.go"),
	}}

	var logs []string
	err := e.Run(context.Background(), "partial failure", plan, func(s string) { logs = append(logs, s) })
	require.NoError(t, err, "step failures never escape Run")

	assert.Equal(t, task.StepCompleted, plan.Steps[0].Status)
	assert.Equal(t, task.StepFailed, plan.Steps[1].Status)
	assert.Contains(t, plan.Steps[1].Error, "model unavailable")
	assert.Equal(t, task.StepCompleted, plan.Steps[2].Status)

	assert.FileExists(t, filepath.Join(root, "a.go"))
	assert.NoFileExists(t, filepath.Join(root, "b.go"))
	assert.FileExists(t, filepath.Join(root, "c.go"))

	failed := false
	for _, line := range logs {
		if line == "step 2 failed on b.go: model unavailable" {
			failed = true
		}
	}
	assert.True(t, failed, "failure is logged against the task, got %v", logs)
}

func TestStepFailureStopsRemainingFilesOfThatStep(t *testing.T) {
	calls := 0
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		calls++
		if calls == 2 {
			return "", errors.New("backend hiccup")
		}
		return "```go\npackage ok\n```", nil
	})
	root, e := newTestExecutor(t, client)

	plan := &task.Plan{Steps: []*task.Step{
		pendingStep("implement the feature", "one.go", "two.go", "three.go"),
	}}

	err := e.Run(context.Background(), "multi-file step", plan, nil)
	require.NoError(t, err)

	step := plan.Steps[0]
	assert.Equal(t, task.StepFailed, step.Status)
	assert.Equal(t, []string{"one.go"}, step.ModifiedFiles, "files written before the failure stay recorded")
	assert.FileExists(t, filepath.Join(root, "one.go"))
	assert.NoFileExists(t, filepath.Join(root, "three.go"))
	assert.Equal(t, 2, calls)
}

func TestRunStopsAtStepBoundaryOnCancel(t *testing.T) {
	client := completion.NewScripted()
	_, e := newTestExecutor(t, client)

	plan := &task.Plan{Steps: []*task.Step{
		pendingStep("implement something", "x.go"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, "cancelled", plan, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, task.StepPending, plan.Steps[0].Status)
	assert.Empty(t, client.Calls())
}

func TestPromptCarriesExistingContent(t *testing.T) {
	var prompt string
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		prompt = req.Prompt
		return "updated content", nil
	})
	root, e := newTestExecutor(t, client)

	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte("port: 8080"), 0o644))

	plan := &task.Plan{Steps: []*task.Step{{
		Description: "bump default port",
		Detail:      "switch the default port to 9090",
		Files:       []string{"config.yaml"},
		Status:      task.StepPending,
	}}}

	require.NoError(t, e.Run(context.Background(), "change the port", plan, nil))

	assert.Contains(t, prompt, "Current content of config.yaml")
	assert.Contains(t, prompt, "port: 8080")
	assert.Contains(t, prompt, "switch the default port to 9090")
	assert.Contains(t, prompt, "change the port")

	data, err := os.ReadFile(filepath.Join(root, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "updated content", string(data), "unfenced response is written as-is")
}

func TestPromptMarksNewFiles(t *testing.T) {
	var prompt string
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		prompt = req.Prompt
		return "```\nbody\n```", nil
	})
	_, e := newTestExecutor(t, client)

	plan := &task.Plan{Steps: []*task.Step{pendingStep("add a readme", "README.md")}}
	require.NoError(t, e.Run(context.Background(), "docs", plan, nil))

	assert.Contains(t, prompt, "README.md does not exist yet")
	assert.NotContains(t, prompt, "Current content")
}

func TestStepRoleHonoredWhenKnown(t *testing.T) {
	client := completion.NewScripted("```\na\n```", "```\nb\n```")
	_, e := newTestExecutor(t, client)

	known := pendingStep("adjust the wording", "doc1.md")
	known.Role = "Tester"
	unknown := pendingStep("implement the parser", "doc2.md")
	unknown.Role = "Wizard"

	plan := &task.Plan{Steps: []*task.Step{known, unknown}}
	require.NoError(t, e.Run(context.Background(), "roles", plan, nil))

	assert.Equal(t, "Tester", known.Role)
	assert.Equal(t, "Developer", unknown.Role, "unknown role falls back to description scan")
}

func TestUnsafeTargetFailsStepWithoutCompletionCall(t *testing.T) {
	calls := 0
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		calls++
		return "never", nil
	})
	_, e := newTestExecutor(t, client)

	plan := &task.Plan{Steps: []*task.Step{pendingStep("escape the root", "../../etc/passwd")}}
	require.NoError(t, e.Run(context.Background(), "escape", plan, nil))

	step := plan.Steps[0]
	assert.Equal(t, task.StepFailed, step.Status)
	assert.NotEmpty(t, step.Error)
	assert.Equal(t, 0, calls)
}

func TestEmptyCompletionFailsStep(t *testing.T) {
	client := completion.NewScripted("   ")
	_, e := newTestExecutor(t, client)

	plan := &task.Plan{Steps: []*task.Step{pendingStep("produce nothing", "empty.go")}}
	require.NoError(t, e.Run(context.Background(), "nothing", plan, nil))

	assert.Equal(t, task.StepFailed, plan.Steps[0].Status)
	assert.Contains(t, plan.Steps[0].Error, "no file content")
}

func TestRunWithNilOrEmptyPlan(t *testing.T) {
	client := completion.NewScripted()
	_, e := newTestExecutor(t, client)

	var logs []string
	require.NoError(t, e.Run(context.Background(), "noop", nil, func(s string) { logs = append(logs, s) }))
	require.NoError(t, e.Run(context.Background(), "noop", &task.Plan{}, func(s string) { logs = append(logs, s) }))
	assert.Len(t, logs, 2)
	assert.Empty(t, client.Calls())
}

func TestTargetSets(t *testing.T) {
	plan := &task.Plan{Steps: []*task.Step{
		pendingStep("one", "b.go", "a.go", "b.go", ""),
		pendingStep("two", "c.go"),
		pendingStep("three"),
	}}

	sets := TargetSets(plan)
	require.Len(t, sets, 3)
	assert.Equal(t, []string{"a.go", "b.go"}, sets[0])
	assert.Equal(t, []string{"c.go"}, sets[1])
	assert.Empty(t, sets[2])

	assert.Nil(t, TargetSets(nil))
}

func TestExecutorConstructorValidation(t *testing.T) {
	root := t.TempDir()
	files, err := docstore.NewFileWriter(root, zap.NewNop())
	require.NoError(t, err)
	client := completion.NewScripted()

	_, err = NewExecutor(nil, client, files, Config{}, zap.NewNop())
	require.Error(t, err)
	_, err = NewExecutor(roles.NewResolver(), nil, files, Config{}, zap.NewNop())
	require.Error(t, err)
	_, err = NewExecutor(roles.NewResolver(), client, nil, Config{}, zap.NewNop())
	require.Error(t, err)
}

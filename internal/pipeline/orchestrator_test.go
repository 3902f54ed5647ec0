package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/knowledge"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/steps"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/vcs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clientFunc adapts a function to completion.Client.
type clientFunc func(context.Context, completion.Request) (string, error)

func (f clientFunc) Complete(ctx context.Context, req completion.Request) (string, error) {
	return f(ctx, req)
}

// fakeVCS records the publish calls the orchestrator makes.
type fakeVCS struct {
	mu      sync.Mutex
	repo    bool
	branch  string
	created []string
	staged  [][]string
	commits []string
	pushed  []string
	prs     []vcs.PullRequest
}

func (f *fakeVCS) IsRepository(ctx context.Context) bool { return f.repo }

func (f *fakeVCS) CurrentBranch(ctx context.Context) (string, error) {
	if f.branch == "" {
		return "", errors.New("empty repository")
	}
	return f.branch, nil
}

func (f *fakeVCS) IsWorkingTreeClean(ctx context.Context) (bool, error) {
	return len(f.staged) == 0, nil
}

func (f *fakeVCS) CreateBranch(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return nil
}

func (f *fakeVCS) StageFiles(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, append([]string(nil), paths...))
	return nil
}

func (f *fakeVCS) Commit(ctx context.Context, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return "0123456789abcdef0123456789abcdef01234567", nil
}

func (f *fakeVCS) Push(ctx context.Context, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, remote+"/"+branch)
	return nil
}

func (f *fakeVCS) OpenPullRequest(ctx context.Context, pr vcs.PullRequest) (*vcs.PullRequestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs = append(f.prs, pr)
	return &vcs.PullRequestResult{Number: 7, URL: "https://example.test/pull/7"}, nil
}

type testEnv struct {
	orc   *Orchestrator
	tasks task.Store
	docs  docstore.Store
	root  string
	logs  *observer.ObservedLogs
}

func newTestEnv(t *testing.T, client completion.Client, v *fakeVCS, cfg Config) *testEnv {
	t.Helper()
	base := t.TempDir()

	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	tasks, err := task.NewStore(task.Config{Dir: filepath.Join(base, "tasks")}, nil, zap.NewNop())
	require.NoError(t, err)

	docsCfg := docstore.DefaultConfig()
	docsCfg.Dir = filepath.Join(base, "docs")
	docs, err := docstore.NewStore(docsCfg, nil, zap.NewNop())
	require.NoError(t, err)

	recorder, err := knowledge.NewRecorder(docs, zap.NewNop())
	require.NoError(t, err)

	root := filepath.Join(base, "workspace")
	require.NoError(t, os.MkdirAll(root, 0o755))
	files, err := docstore.NewFileWriter(root, zap.NewNop())
	require.NoError(t, err)

	executor, err := steps.NewExecutor(roles.NewResolver(), client, files, steps.Config{}, zap.NewNop())
	require.NoError(t, err)

	var vclient vcs.Client
	if v != nil {
		vclient = v
	}

	orc, err := NewOrchestrator(Deps{
		Tasks:    tasks,
		Docs:     docs,
		Recorder: recorder,
		Executor: executor,
		Client:   client,
		VCS:      vclient,
		Files:    files,
	}, cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, tasks.Close())
		require.NoError(t, docs.Close())
	})

	return &testEnv{orc: orc, tasks: tasks, docs: docs, root: root, logs: logs}
}

func (e *testEnv) submit(t *testing.T, title, description string, enhanced, createPR bool) *task.Task {
	t.Helper()
	tk := task.New(title, description)
	tk.UseEnhanced = enhanced
	tk.CreatePR = createPR
	require.NoError(t, e.tasks.Create(context.Background(), tk))
	return tk
}

func (e *testEnv) reload(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := e.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func logText(tk *task.Task) string {
	return strings.Join(tk.Logs, "\n")
}

const healthPlanJSON = "```json\n" +
	`{"overview": "Expose a health endpoint", "steps": [` +
	`{"description": "Add the health handler", "files": ["internal/app/server.go"], "role": "Developer", "detail": "Return 200 with a static body."}]}` +
	"\n```"

func TestRunCompletesEnhancedTask(t *testing.T) {
	ctx := context.Background()

	client := completion.NewScripted(
		"Add the handler to internal/app/server.go and register the route.",
		healthPlanJSON,
		"```go\npackage app\n\n// health handler\n```",
		"PASS\nThe handler is present.",
	)
	v := &fakeVCS{repo: true, branch: "main"}
	env := newTestEnv(t, client, v, Config{Push: true})

	tk := env.submit(t, "Add a health endpoint", "Expose GET /health on the API server.", true, true)
	require.NoError(t, env.orc.Run(ctx, tk.ID))
	assert.False(t, env.orc.Running(tk.ID))

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCompleted, cur.Status)

	logs := logText(cur)
	for _, want := range []string{
		"execution started",
		"analyze phase started",
		"analysis identified 1 candidate paths",
		"context built from",
		"plan accepted with 1 steps",
		"step 1 (Developer): Add the health handler",
		"execute finished: 1 completed, 0 failed",
		"validation passed",
		"committed 1 files as 01234567",
		"opened pull request #7",
		"task completed",
	} {
		assert.Contains(t, logs, want)
	}

	require.NotNil(t, cur.Plan)
	assert.Equal(t, "Expose a health endpoint", cur.Plan.Overview)
	require.Len(t, cur.Plan.Steps, 1)
	assert.Equal(t, task.StepCompleted, cur.Plan.Steps[0].Status)
	assert.Equal(t, []string{"internal/app/server.go"}, cur.Plan.Steps[0].ModifiedFiles)

	written, err := os.ReadFile(filepath.Join(env.root, "internal/app/server.go"))
	require.NoError(t, err)
	assert.Equal(t, "package app\n\n// health handler", string(written))

	branch := "taskd/task-" + tk.ID
	assert.Equal(t, branch, cur.PRBranch)
	assert.Equal(t, 7, cur.PRNumber)
	assert.Equal(t, "https://example.test/pull/7", cur.PRURL)
	assert.Equal(t, "Add a health endpoint", cur.PRTitle)
	assert.Contains(t, cur.PRDescription, "Expose a health endpoint")

	assert.Equal(t, []string{branch}, v.created)
	require.Len(t, v.staged, 1)
	assert.Equal(t, []string{"internal/app/server.go"}, v.staged[0])
	assert.Equal(t, []string{"taskd: Add a health endpoint"}, v.commits)
	assert.Equal(t, []string{"origin/" + branch}, v.pushed)
	require.Len(t, v.prs, 1)
	assert.Equal(t, branch, v.prs[0].Head)
	assert.Equal(t, "main", v.prs[0].Base)

	admin, err := env.docs.GetPaged(ctx, "agent_Admin", docstore.PageOptions{Limit: 50})
	require.NoError(t, err)
	var types []string
	for _, d := range admin.Documents {
		types = append(types, d.Metadata["type"].(string))
	}
	assert.Equal(t, []string{
		knowledge.TypeTaskAnalysis,
		knowledge.TypeContextSummary,
		knowledge.TypeTaskPlan,
		knowledge.TypeValidationReport,
		knowledge.TypePublicationRecord,
	}, types)

	dev, err := env.docs.GetPaged(ctx, "agent_Developer", docstore.PageOptions{Limit: 50})
	require.NoError(t, err)
	require.Equal(t, 1, dev.TotalCount)
	assert.Equal(t, knowledge.TypeStepResult, dev.Documents[0].Metadata["type"])
	assert.Equal(t, []any{"completed"}, dev.Documents[0].Metadata["tags"])
}

func TestRunBasicTaskSkipsContextAndKnowledge(t *testing.T) {
	ctx := context.Background()

	client := completion.NewScripted(
		"Touch internal/app/server.go.",
		healthPlanJSON,
		"package app",
		"PASS",
	)
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Small change", "Adjust the server.", false, false)
	require.NoError(t, env.orc.Run(ctx, tk.ID))

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCompleted, cur.Status)
	assert.NotContains(t, logText(cur), "build_context")
	assert.NotContains(t, logText(cur), "publish")

	// Four completions: analyze, plan, one step file, validate.
	assert.Len(t, client.Calls(), 4)

	// Basic runs leave no knowledge behind.
	names, err := env.docs.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStepFailureOutcomeFollowsVerdict(t *testing.T) {
	planJSON := "```json\n" +
		`{"overview": "Two files", "steps": [` +
		`{"description": "Write alpha", "files": ["alpha.go"], "role": "Developer"},` +
		`{"description": "Write beta", "files": ["beta.go"], "role": "Developer"}]}` +
		"\n```"

	tests := []struct {
		name       string
		verdict    string
		wantStatus task.Status
		wantLog    string
	}{
		{
			name:       "validator accepts the partial outcome",
			verdict:    "PASS\nThe remaining step was cosmetic.",
			wantStatus: task.StatusCompleted,
			wantLog:    "task completed",
		},
		{
			name:       "validator rejects the partial outcome",
			verdict:    "FAIL\nThe second file is required.",
			wantStatus: task.StatusFailed,
			wantLog:    "validate phase failed: validation verdict: fail",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			var calls atomic.Int32
			client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
				switch calls.Add(1) {
				case 1:
					return "Work on alpha.go and beta.go.", nil
				case 2:
					return planJSON, nil
				case 3:
					return "alpha content", nil
				case 4:
					return "", errors.New("model unavailable")
				default:
					return tt.verdict, nil
				}
			})
			env := newTestEnv(t, client, nil, Config{})

			tk := env.submit(t, "Two file change", "Write both files.", false, false)
			require.NoError(t, env.orc.Run(ctx, tk.ID))

			cur := env.reload(t, tk.ID)
			assert.Equal(t, tt.wantStatus, cur.Status)

			// The step failure is recorded either way.
			require.NotNil(t, cur.Plan)
			require.Len(t, cur.Plan.Steps, 2)
			assert.Equal(t, task.StepCompleted, cur.Plan.Steps[0].Status)
			assert.Equal(t, task.StepFailed, cur.Plan.Steps[1].Status)
			assert.Equal(t, "model unavailable", cur.Plan.Steps[1].Error)

			assert.FileExists(t, filepath.Join(env.root, "alpha.go"))
			assert.NoFileExists(t, filepath.Join(env.root, "beta.go"))

			logs := logText(cur)
			assert.Contains(t, logs, "step 2 failed on beta.go: model unavailable")
			assert.Contains(t, logs, "execute finished: 1 completed, 1 failed")
			assert.Contains(t, logs, tt.wantLog)
		})
	}
}

func TestMissingVerdictTreatedAsPass(t *testing.T) {
	ctx := context.Background()

	client := completion.NewScripted(
		"Touch internal/app/server.go.",
		healthPlanJSON,
		"package app",
		"Ship when convenient.",
	)
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Small change", "Adjust the server.", false, false)
	require.NoError(t, env.orc.Run(ctx, tk.ID))

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCompleted, cur.Status)
	assert.Contains(t, logText(cur), "validation output carries no explicit verdict, treating as pass")
}

func TestPhaseFailureRecordsErrorReport(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		if calls.Add(1) == 1 {
			return "Work on internal/app/server.go.", nil
		}
		return "", errors.New("model offline")
	})
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Doomed change", "Planning will fail.", true, false)
	require.NoError(t, env.orc.Run(ctx, tk.ID))

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusFailed, cur.Status)
	assert.Contains(t, logText(cur), "plan phase failed: model offline")

	admin, err := env.docs.GetPaged(ctx, "agent_Admin", docstore.PageOptions{Limit: 50})
	require.NoError(t, err)
	var types []string
	for _, d := range admin.Documents {
		types = append(types, d.Metadata["type"].(string))
	}
	assert.Equal(t, []string{
		knowledge.TypeTaskAnalysis,
		knowledge.TypeContextSummary,
		knowledge.TypeErrorReport,
	}, types)

	report := admin.Documents[len(admin.Documents)-1]
	assert.Contains(t, report.Content, "model offline")
	assert.Equal(t, []any{"error", "plan"}, report.Metadata["tags"])
}

func TestRunUnknownTask(t *testing.T) {
	env := newTestEnv(t, completion.NewScripted(), nil, Config{})

	err := env.orc.Run(context.Background(), "no-such-task")
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestRunRejectsSecondConcurrentRun(t *testing.T) {
	ctx := context.Background()

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "1. touch notes.txt", nil
	})
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Contended task", "Only one run at a time.", false, false)

	done := make(chan error, 1)
	go func() { done <- env.orc.Run(ctx, tk.ID) }()
	<-started
	assert.True(t, env.orc.Running(tk.ID))

	err := env.orc.Run(ctx, tk.ID)
	require.Error(t, err)
	assert.Equal(t, fault.CodeTaskRunning, fault.CodeOf(err))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, env.orc.Running(tk.ID))
}

func TestRunRejectsTerminalTask(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, completion.NewScripted(), nil, Config{})
	tk := env.submit(t, "Done already", "Nothing left.", false, false)
	_, err := env.tasks.Update(ctx, tk.ID, func(t *task.Task) error {
		return t.Transition(task.StatusCancelled)
	})
	require.NoError(t, err)

	err = env.orc.Run(ctx, tk.ID)
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
	assert.False(t, env.orc.Running(tk.ID))
	assert.Equal(t, task.StatusCancelled, env.reload(t, tk.ID).Status)
}

func TestCancelStopsRunAtPhaseBoundary(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return "analysis text", nil
	})
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Long task", "Takes a while.", false, false)

	done := make(chan error, 1)
	go func() { done <- env.orc.Run(ctx, tk.ID) }()
	<-started
	require.NoError(t, env.orc.Cancel(ctx, tk.ID))
	close(release)
	require.NoError(t, <-done)

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCancelled, cur.Status)
	assert.Contains(t, logText(cur), "analyze phase completed")
	assert.Contains(t, logText(cur), "execution cancelled")

	// The analyze completion went through; planning never started.
	assert.Equal(t, int32(1), calls.Load())
}

func TestContextCancellationDuringPhase(t *testing.T) {
	started := make(chan struct{})
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Interrupted task", "Dies mid-analysis.", false, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.orc.Run(ctx, tk.ID) }()
	<-started
	cancel()
	require.NoError(t, <-done)

	// The terminal write lands despite the dead context.
	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCancelled, cur.Status)
	assert.Contains(t, logText(cur), "execution cancelled during analyze phase")
}

func TestCancelBeforeRunCancelsDirectly(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, completion.NewScripted(), nil, Config{})
	tk := env.submit(t, "Never started", "Cancelled first.", false, false)

	require.NoError(t, env.orc.Cancel(ctx, tk.ID))
	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCancelled, cur.Status)
	assert.Contains(t, logText(cur), "cancelled before execution")

	// A second cancel finds a terminal task.
	err := env.orc.Cancel(ctx, tk.ID)
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
	assert.Contains(t, err.Error(), "already cancelled")
}

func TestCancelUnknownTask(t *testing.T) {
	env := newTestEnv(t, completion.NewScripted(), nil, Config{})

	err := env.orc.Cancel(context.Background(), "no-such-task")
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestPublishSkipsWithoutRepository(t *testing.T) {
	ctx := context.Background()

	client := completion.NewScripted(
		"Touch internal/app/server.go.",
		healthPlanJSON,
		"package app",
		"PASS",
	)
	v := &fakeVCS{repo: false}
	env := newTestEnv(t, client, v, Config{Push: true})

	tk := env.submit(t, "Publishable change", "Wants a pull request.", false, true)
	require.NoError(t, env.orc.Run(ctx, tk.ID))

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCompleted, cur.Status)
	assert.Contains(t, logText(cur), "workspace has no repository, skipping publish")
	assert.Empty(t, cur.PRBranch)
	assert.Empty(t, v.commits)

	warned := env.logs.FilterMessage("publish skipped, workspace is not a repository")
	assert.Equal(t, 1, warned.Len())
}

func TestPublishWithoutPushLeavesBranchLocal(t *testing.T) {
	ctx := context.Background()

	client := completion.NewScripted(
		"Touch internal/app/server.go.",
		healthPlanJSON,
		"package app",
		"PASS",
	)
	v := &fakeVCS{repo: true, branch: "main"}
	env := newTestEnv(t, client, v, Config{Push: false})

	tk := env.submit(t, "Local change", "Branch only.", false, true)
	require.NoError(t, env.orc.Run(ctx, tk.ID))

	cur := env.reload(t, tk.ID)
	assert.Equal(t, task.StatusCompleted, cur.Status)
	branch := "taskd/task-" + tk.ID
	assert.Contains(t, logText(cur), "push disabled, branch "+branch+" left local")
	assert.Equal(t, branch, cur.PRBranch)
	assert.Zero(t, cur.PRNumber)
	assert.Empty(t, cur.PRURL)

	assert.Equal(t, []string{branch}, v.created)
	assert.Len(t, v.commits, 1)
	assert.Empty(t, v.pushed)
	assert.Empty(t, v.prs)
}

func TestStartRunsInBackground(t *testing.T) {
	ctx := context.Background()

	client := completion.NewScripted(
		"Touch internal/app/server.go.",
		healthPlanJSON,
		"package app",
		"PASS",
	)
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Background task", "Runs detached.", false, false)
	require.NoError(t, env.orc.Start(ctx, tk.ID))

	require.Eventually(t, func() bool {
		cur, err := env.tasks.Get(context.Background(), tk.ID)
		return err == nil && cur.Status == task.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return !env.orc.Running(tk.ID)
	}, time.Second, 10*time.Millisecond)

	// Completed tasks cannot be executed again.
	err := env.orc.Run(ctx, tk.ID)
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
}

func TestDrainWaitsForDetachedRun(t *testing.T) {
	started := make(chan struct{})
	client := clientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	env := newTestEnv(t, client, nil, Config{})

	tk := env.submit(t, "Long task", "Outlives the listener.", false, false)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, env.orc.Start(ctx, tk.ID))
	<-started
	assert.Equal(t, []string{tk.ID}, env.orc.RunningIDs())

	// The run is parked inside analyze, a bounded drain gives up.
	short, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	require.ErrorIs(t, env.orc.Drain(short), context.DeadlineExceeded)

	// Cancelling the run context releases it; once the drain returns
	// the terminal status is already on disk.
	cancel()
	require.NoError(t, env.orc.Drain(context.Background()))
	assert.False(t, env.orc.Running(tk.ID))
	assert.Empty(t, env.orc.RunningIDs())
	assert.Equal(t, task.StatusCancelled, env.reload(t, tk.ID).Status)
}

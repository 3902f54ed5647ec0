// Package pipeline drives tasks through the phase state machine:
// Analyze, BuildContext, Plan, Execute, Validate, and Publish.
//
// Phases run strictly in order inside one goroutine per task. The
// RunRegistry admits one run per task id; the task record is the only
// externally visible state and every phase appends to its log. Phase
// errors mark the task failed and never escape a run: the error
// returned by Run and Start covers preconditions only. Cancellation
// is cooperative: polled between phases, never preempting an
// in-flight completion call or file write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/knowledge"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/steps"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/vcs"
)

const instrumentationName = "github.com/fyrsmithlabs/taskd/internal/pipeline"

// Phase names used in logs and metric labels.
const (
	phaseAnalyze      = "analyze"
	phaseBuildContext = "build_context"
	phasePlan         = "plan"
	phaseExecute      = "execute"
	phaseValidate     = "validate"
	phasePublish      = "publish"
)

// phaseTemperature keeps orchestrator-level completions focused.
const phaseTemperature = 0.3

// Config tunes the orchestrator.
type Config struct {
	// MaxSteps caps how many plan steps are accepted. Zero means no cap.
	MaxSteps int

	// Push uploads the task branch and opens a pull request during
	// publish. When false the branch and commit stay local.
	Push bool

	// Remote is the push target. Defaults to "origin".
	Remote string

	// BaseBranch is the pull request base when the pre-publish branch
	// cannot be determined.
	BaseBranch string
}

// Deps are the collaborators a run drives.
type Deps struct {
	Tasks    task.Store
	Docs     docstore.Store
	Recorder *knowledge.Recorder
	Executor *steps.Executor
	Client   completion.Client
	VCS      vcs.Client
	Files    *docstore.FileWriter
	Registry *RunRegistry
}

// Orchestrator owns task execution.
type Orchestrator struct {
	tasks    task.Store
	docs     docstore.Store
	recorder *knowledge.Recorder
	executor *steps.Executor
	client   completion.Client
	vcs      vcs.Client
	files    *docstore.FileWriter
	registry *RunRegistry
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewOrchestrator wires an orchestrator. VCS defaults to the no-repo
// client and Registry to a fresh one when nil.
func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Tasks == nil:
		return nil, errors.New("pipeline: task store cannot be nil")
	case deps.Docs == nil:
		return nil, errors.New("pipeline: document store cannot be nil")
	case deps.Recorder == nil:
		return nil, errors.New("pipeline: knowledge recorder cannot be nil")
	case deps.Executor == nil:
		return nil, errors.New("pipeline: step executor cannot be nil")
	case deps.Client == nil:
		return nil, errors.New("pipeline: completion client cannot be nil")
	case deps.Files == nil:
		return nil, errors.New("pipeline: file writer cannot be nil")
	}
	if deps.VCS == nil {
		deps.VCS = vcs.NopClient{}
	}
	if deps.Registry == nil {
		deps.Registry = NewRunRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}

	return &Orchestrator{
		tasks:    deps.Tasks,
		docs:     deps.Docs,
		recorder: deps.Recorder,
		executor: deps.Executor,
		client:   deps.Client,
		vcs:      deps.VCS,
		files:    deps.Files,
		registry: deps.Registry,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// run carries state across one task's phases.
type run struct {
	task       *task.Task
	analysis   string
	paths      []string
	contextRef string
	stepReport string
}

// Run executes the task synchronously. The returned error covers
// preconditions only: unknown task, a run already in flight, or a
// task whose status cannot enter the pipeline. Phase failures land in
// the task record, not here.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	st, err := o.begin(ctx, taskID)
	if err != nil {
		return err
	}
	o.runPhases(ctx, st)
	return nil
}

// Start is Run with the phases detached onto their own goroutine. The
// precondition checks stay synchronous so callers can answer 404 and
// 409 accurately; ctx governs the whole background run, so pass a
// lifecycle context rather than a request context.
func (o *Orchestrator) Start(ctx context.Context, taskID string) error {
	st, err := o.begin(ctx, taskID)
	if err != nil {
		return err
	}
	go o.runPhases(ctx, st)
	return nil
}

// Cancel requests cooperative cancellation of an in-flight run, or
// cancels a task directly when no run holds it.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if o.registry.Cancel(taskID) {
		o.logger.Info("cancellation requested", zap.String("task_id", taskID))
		return nil
	}

	_, err := o.tasks.Update(ctx, taskID, func(t *task.Task) error {
		if t.Status.Terminal() {
			return fault.New(fault.CodeValidation, "pipeline.Cancel", "task is already %s", t.Status)
		}
		if err := t.Transition(task.StatusCancelled); err != nil {
			return fault.Wrap(fault.CodeValidation, "pipeline.Cancel", err)
		}
		t.AppendLog("cancelled before execution")
		return nil
	})
	return err
}

// Running reports whether a run for taskID is in flight.
func (o *Orchestrator) Running(taskID string) bool {
	return o.registry.Running(taskID)
}

// RunningIDs returns the task ids with runs in flight.
func (o *Orchestrator) RunningIDs() []string {
	return o.registry.RunningIDs()
}

// Drain blocks until every in-flight run has finished or ctx expires.
// It stops nothing itself: cancel the context the runs were started
// with first, then drain so their terminal writes land.
func (o *Orchestrator) Drain(ctx context.Context) error {
	return o.registry.Drain(ctx)
}

func (o *Orchestrator) begin(ctx context.Context, taskID string) (*run, error) {
	if _, err := o.tasks.Get(ctx, taskID); err != nil {
		recordRejected(rejectionReason(err))
		return nil, err
	}

	if !o.registry.Begin(taskID) {
		recordRejected("task_running")
		return nil, fault.New(fault.CodeTaskRunning, "pipeline.Run", "task %q is already executing", taskID)
	}

	updated, err := o.tasks.Update(ctx, taskID, func(t *task.Task) error {
		if err := t.Transition(task.StatusAnalyzing); err != nil {
			return fault.Wrap(fault.CodeValidation, "pipeline.Run", err)
		}
		t.AppendLog("execution started")
		return nil
	})
	if err != nil {
		o.registry.End(taskID)
		recordRejected(rejectionReason(err))
		return nil, err
	}
	return &run{task: updated}, nil
}

func rejectionReason(err error) string {
	if code := fault.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}

func (o *Orchestrator) runPhases(ctx context.Context, st *run) {
	taskID := st.task.ID
	start := time.Now()
	defer o.registry.End(taskID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Bool("task.enhanced", st.task.UseEnhanced),
		))
	defer span.End()

	phases := []struct {
		name    string
		status  task.Status
		enabled bool
		fn      func(context.Context, *run) error
	}{
		{phaseAnalyze, task.StatusAnalyzing, true, o.analyze},
		{phaseBuildContext, task.StatusAnalyzing, st.task.UseEnhanced, o.buildContext},
		{phasePlan, task.StatusPlanning, true, o.plan},
		{phaseExecute, task.StatusExecuting, true, o.execute},
		{phaseValidate, task.StatusValidating, true, o.validate},
		{phasePublish, task.StatusValidating, st.task.CreatePR, o.publish},
	}

	for _, p := range phases {
		if !p.enabled {
			continue
		}
		if o.cancelRequested(ctx, taskID) {
			o.finish(ctx, st, task.StatusCancelled, "execution cancelled")
			recordRun("cancelled", start)
			return
		}
		if err := o.setStatus(ctx, st, p.status); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "status update failed")
			o.finish(ctx, st, task.StatusFailed, fmt.Sprintf("cannot enter %s phase: %v", p.name, err))
			recordRun("failed", start)
			return
		}

		o.logf(ctx, st, "%s phase started", p.name)
		err := o.runPhase(ctx, st, p.name, p.fn)
		if err != nil {
			recordPhase(p.name, "failed")
			span.RecordError(err)
			if wasCancelled(ctx, err) {
				o.finish(ctx, st, task.StatusCancelled, fmt.Sprintf("execution cancelled during %s phase", p.name))
				recordRun("cancelled", start)
				return
			}
			span.SetStatus(codes.Error, p.name+" phase failed")
			msg := fmt.Sprintf("%s phase failed: %v", p.name, err)
			o.finish(ctx, st, task.StatusFailed, msg)
			o.record(ctx, st, roles.AdminName, knowledge.TypeErrorReport, msg, []string{"error", p.name})
			recordRun("failed", start)
			return
		}
		recordPhase(p.name, "completed")
		o.logf(ctx, st, "%s phase completed", p.name)
	}

	o.finish(ctx, st, task.StatusCompleted, "task completed")
	recordRun("completed", start)
	o.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.Duration("duration", time.Since(start)),
	)
}

func (o *Orchestrator) runPhase(ctx context.Context, st *run, name string, fn func(context.Context, *run) error) error {
	ctx, span := o.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	err := fn(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func wasCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) cancelRequested(ctx context.Context, taskID string) bool {
	return o.registry.Cancelled(taskID) || ctx.Err() != nil
}

// setStatus advances the task to status when it is not already there.
func (o *Orchestrator) setStatus(ctx context.Context, st *run, status task.Status) error {
	if st.task.Status == status {
		return nil
	}
	updated, err := o.tasks.Update(ctx, st.task.ID, func(t *task.Task) error {
		return t.Transition(status)
	})
	if err != nil {
		return err
	}
	st.task = updated
	return nil
}

// finish moves the task to a terminal status. The write runs on a
// detached context so a cancelled run can still record its outcome.
func (o *Orchestrator) finish(ctx context.Context, st *run, status task.Status, msg string) {
	ctx = context.WithoutCancel(ctx)
	updated, err := o.tasks.Update(ctx, st.task.ID, func(t *task.Task) error {
		if err := t.Transition(status); err != nil {
			return err
		}
		t.AppendLog(msg)
		return nil
	})
	if err != nil {
		o.logger.Error("failed to finalize task",
			zap.String("task_id", st.task.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	st.task = updated
}

// logf appends a timestamped line to the task log. Log writes survive
// cancellation so the record explains what happened.
func (o *Orchestrator) logf(ctx context.Context, st *run, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	updated, err := o.tasks.Update(context.WithoutCancel(ctx), st.task.ID, func(t *task.Task) error {
		t.AppendLog(msg)
		return nil
	})
	if err != nil {
		o.logger.Warn("failed to append task log",
			zap.String("task_id", st.task.ID),
			zap.String("line", msg),
			zap.Error(err),
		)
		return
	}
	st.task = updated
}

// record persists a phase artifact for enhanced runs. Basic runs skip
// knowledge recording entirely.
func (o *Orchestrator) record(ctx context.Context, st *run, role, artifactType, content string, tags []string) {
	if !st.task.UseEnhanced {
		return
	}
	o.recorder.RecordPhaseArtifact(context.WithoutCancel(ctx), role, st.task.ID, artifactType, content, tags)
}

// complete issues one orchestrator-level completion request.
func (o *Orchestrator) complete(ctx context.Context, prompt string) (string, error) {
	return o.client.Complete(ctx, completion.Request{
		Prompt:      prompt,
		Temperature: phaseTemperature,
	})
}

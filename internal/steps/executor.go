// Package steps executes plan steps against the workspace.
//
// Steps run sequentially in plan order: later steps may read files an
// earlier step wrote, and commit ordering depends on completion order.
// A step that fails is marked failed and its error captured, but the
// remaining steps still run; independent steps may succeed even when
// one breaks. TargetSets exposes each step's file set so a scheduler
// could one day run provably disjoint steps concurrently.
package steps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// DefaultStepTimeout bounds one completion call.
const DefaultStepTimeout = 2 * time.Minute

// stepTemperature keeps file generation near-deterministic.
const stepTemperature = 0.2

// Config tunes the executor.
type Config struct {
	// StepTimeout bounds each completion call. Zero means
	// DefaultStepTimeout.
	StepTimeout time.Duration

	// Model and Provider override the completion registry defaults
	// when set.
	Model    string
	Provider string
}

// Executor runs plan steps: resolve a role, generate file content,
// write it through the safe file path.
type Executor struct {
	resolver *roles.Resolver
	client   completion.Client
	files    *docstore.FileWriter
	cfg      Config
	logger   *zap.Logger
}

// NewExecutor builds an executor.
func NewExecutor(resolver *roles.Resolver, client completion.Client, files *docstore.FileWriter, cfg Config, logger *zap.Logger) (*Executor, error) {
	if resolver == nil {
		return nil, errors.New("steps: resolver cannot be nil")
	}
	if client == nil {
		return nil, errors.New("steps: completion client cannot be nil")
	}
	if files == nil {
		return nil, errors.New("steps: file writer cannot be nil")
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{resolver: resolver, client: client, files: files, cfg: cfg, logger: logger}, nil
}

// Run executes every step of the plan in order, mutating each step's
// role, status, error, and modified-file list in place. Per-step log
// lines go through log. Step failures are contained; the only error
// Run returns is context cancellation, checked at step boundaries so
// an in-flight completion call or file write is never abandoned
// halfway.
func (e *Executor) Run(ctx context.Context, taskDescription string, plan *task.Plan, log func(string)) error {
	if log == nil {
		log = func(string) {}
	}
	if plan == nil || len(plan.Steps) == 0 {
		log("plan has no steps, nothing to execute")
		return nil
	}

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			log(fmt.Sprintf("execution stopped before step %d: %v", i+1, err))
			return err
		}
		e.executeStep(ctx, taskDescription, i+1, step, log)
	}
	return nil
}

func (e *Executor) executeStep(ctx context.Context, taskDescription string, num int, step *task.Step, log func(string)) {
	role := e.resolveRole(step)
	step.Role = role.Name
	log(fmt.Sprintf("step %d (%s): %s", num, role.Name, step.Description))

	for _, file := range step.Files {
		if err := e.generateFile(ctx, role, taskDescription, step, file); err != nil {
			step.Status = task.StepFailed
			step.Error = err.Error()
			log(fmt.Sprintf("step %d failed on %s: %v", num, file, err))
			e.logger.Warn("step failed",
				zap.Int("step", num),
				zap.String("file", file),
				zap.Error(err),
			)
			return
		}
		step.ModifiedFiles = append(step.ModifiedFiles, file)
		log(fmt.Sprintf("step %d wrote %s", num, file))
	}

	step.Status = task.StepCompleted
}

// resolveRole honors a role already named on the step when it exists,
// otherwise scans the step description.
func (e *Executor) resolveRole(step *task.Step) roles.Role {
	if step.Role != "" {
		if role, ok := e.resolver.Get(step.Role); ok {
			return role
		}
	}
	return e.resolver.Resolve(step.Description)
}

func (e *Executor) generateFile(ctx context.Context, role roles.Role, taskDescription string, step *task.Step, file string) error {
	current, exists, err := e.files.Read(ctx, file)
	if err != nil {
		return err
	}

	prompt := buildFilePrompt(role, taskDescription, step, file, current, exists)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	response, err := e.client.Complete(callCtx, completion.Request{
		Prompt:      prompt,
		Model:       e.cfg.Model,
		Provider:    e.cfg.Provider,
		Temperature: stepTemperature,
	})
	cancel()
	if err != nil {
		return err
	}

	content, unwrapped := ExtractFencedBlock(response)
	if !unwrapped {
		content = strings.TrimSpace(response)
	}
	if content == "" {
		return errors.New("completion produced no file content")
	}

	return e.files.Write(ctx, file, content)
}

func buildFilePrompt(role roles.Role, taskDescription string, step *task.Step, file, current string, exists bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s specialist. %s\n\n", role.Name, role.Instructions)
	fmt.Fprintf(&b, "Task: %s\n\n", taskDescription)
	fmt.Fprintf(&b, "Step: %s\n", step.Description)
	if step.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", step.Detail)
	}
	b.WriteString("\n")
	if exists {
		fmt.Fprintf(&b, "Current content of %s:\n```\n%s\n```\n\n", file, current)
	} else {
		fmt.Fprintf(&b, "The file %s does not exist yet. Create it from scratch.\n\n", file)
	}
	fmt.Fprintf(&b, "Reply with the complete updated content of %s in a single fenced code block.", file)
	return b.String()
}

// TargetSets returns each step's target files, deduplicated and
// sorted, in plan order. Steps with disjoint sets are candidates for
// concurrent execution under a future scheduler.
func TargetSets(plan *task.Plan) [][]string {
	if plan == nil {
		return nil
	}
	sets := make([][]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		seen := make(map[string]bool, len(step.Files))
		set := make([]string, 0, len(step.Files))
		for _, f := range step.Files {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			set = append(set, f)
		}
		sort.Strings(set)
		sets = append(sets, set)
	}
	return sets
}

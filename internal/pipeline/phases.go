package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/knowledge"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/vcs"
)

const (
	// contextKnowledgeLimit caps retrieved knowledge entries per role
	// collection during context building.
	contextKnowledgeLimit = 3

	// contextFileLimit caps how many analyzed paths are read back into
	// the context block.
	contextFileLimit = 5

	// contextSnippetLength truncates each context entry.
	contextSnippetLength = 600
)

const analyzePrompt = `You are the engineering lead of an automated delivery pipeline.

Task: %s

%s

Describe the intended approach in a short paragraph and name every file or directory the task will touch, with explicit paths.`

const planPrompt = `You are the engineering lead breaking a task into steps for specialist developers.

Task: %s

%s

Analysis:
%s
%sReply with JSON only, inside one fenced code block:
{"overview": "...", "steps": [{"description": "...", "files": ["path/to/file"], "role": "Developer", "detail": "..."}]}
Keep steps small and ordered, and list every file a step writes.`

const validatePrompt = `You are reviewing the outcome of an automated task execution.

Task: %s

Step results:
%s

Reply with PASS if the outcome is acceptable or FAIL if it is not, on the first line, followed by a short rationale.`

// analyze produces the task analysis artifact and the candidate paths
// later phases read back.
func (o *Orchestrator) analyze(ctx context.Context, st *run) error {
	prompt := fmt.Sprintf(analyzePrompt, st.task.Title, st.task.Description)
	out, err := o.complete(ctx, prompt)
	if err != nil {
		return err
	}

	st.analysis = out
	st.paths = extractPaths(out)
	o.logf(ctx, st, "analysis identified %d candidate paths", len(st.paths))
	o.record(ctx, st, roles.AdminName, knowledge.TypeTaskAnalysis, out, nil)
	return nil
}

// buildContext assembles prior knowledge and current file content into
// a context block for the planner. Pure retrieval: store reads plus
// file reads, no completion call. Missing collections and unreadable
// paths are skipped, not errors.
func (o *Orchestrator) buildContext(ctx context.Context, st *run) error {
	var b strings.Builder

	collections, err := o.docs.ListCollections(ctx)
	if err != nil {
		return err
	}

	query := strings.TrimSpace(st.task.Title + " " + st.task.Description)
	entries := 0
	for _, name := range collections {
		if !strings.HasPrefix(name, roles.CollectionPrefix) {
			continue
		}
		results, err := o.docs.Query(ctx, name, docstore.QueryOptions{
			Query: query,
			Limit: contextKnowledgeLimit,
		})
		if err != nil {
			o.logger.Warn("context query failed",
				zap.String("collection", name),
				zap.Error(err),
			)
			continue
		}
		for _, r := range results {
			if r.Score <= 0 {
				continue
			}
			fmt.Fprintf(&b, "[%s] %s\n\n", name, truncate(r.Content, contextSnippetLength))
			entries++
		}
	}

	filesRead := 0
	for _, p := range st.paths {
		if filesRead == contextFileLimit {
			break
		}
		content, exists, err := o.files.Read(ctx, p)
		if err != nil || !exists {
			continue
		}
		fmt.Fprintf(&b, "Current content of %s:\n%s\n\n", p, truncate(content, contextSnippetLength))
		filesRead++
	}

	st.contextRef = strings.TrimSpace(b.String())
	if st.contextRef == "" {
		st.contextRef = "No prior knowledge or readable files found for this task."
	}

	o.logf(ctx, st, "context built from %d knowledge entries and %d files", entries, filesRead)
	o.record(ctx, st, roles.AdminName, knowledge.TypeContextSummary, st.contextRef, nil)
	return nil
}

// plan asks for a step plan and persists the parsed result on the task.
func (o *Orchestrator) plan(ctx context.Context, st *run) error {
	contextBlock := ""
	if st.contextRef != "" {
		contextBlock = fmt.Sprintf("Context:\n%s\n\n", st.contextRef)
	}
	prompt := fmt.Sprintf(planPrompt, st.task.Title, st.task.Description, st.analysis, contextBlock)

	out, err := o.complete(ctx, prompt)
	if err != nil {
		return err
	}

	plan, ok := parsePlan(out, o.cfg.MaxSteps)
	if !ok {
		return errors.New("completion output contains no executable steps")
	}

	updated, err := o.tasks.Update(ctx, st.task.ID, func(t *task.Task) error {
		t.Plan = plan
		return nil
	})
	if err != nil {
		return err
	}
	st.task = updated

	o.logf(ctx, st, "plan accepted with %d steps", len(plan.Steps))
	o.record(ctx, st, roles.AdminName, knowledge.TypeTaskPlan, out, nil)
	return nil
}

// execute runs the plan steps. Step failures stay inside their step;
// the phase itself fails only on cancellation or a store write error.
func (o *Orchestrator) execute(ctx context.Context, st *run) error {
	plan := st.task.Plan

	runErr := o.executor.Run(ctx, st.task.Description, plan, func(line string) {
		o.logf(ctx, st, "%s", line)
	})

	// Step outcomes are persisted even when the run was cancelled.
	updated, err := o.tasks.Update(context.WithoutCancel(ctx), st.task.ID, func(t *task.Task) error {
		t.Plan = plan
		return nil
	})
	if err != nil {
		return err
	}
	st.task = updated

	completed, failed, pending := 0, 0, 0
	if plan != nil {
		for _, s := range plan.Steps {
			switch s.Status {
			case task.StepCompleted:
				completed++
			case task.StepFailed:
				failed++
			default:
				pending++
			}
		}
	}
	recordSteps(completed, failed, pending)

	if runErr != nil {
		return runErr
	}

	st.stepReport = stepReport(plan)
	o.logf(ctx, st, "execute finished: %d completed, %d failed", completed, failed)

	if st.task.UseEnhanced && plan != nil {
		for _, s := range plan.Steps {
			role := s.Role
			if role == "" {
				role = roles.DefaultName
			}
			o.record(ctx, st, role, knowledge.TypeStepResult, stepArtifact(s), []string{string(s.Status)})
		}
	}
	return nil
}

// validate asks for a verdict over the step report. A missing verdict
// counts as a pass with a warning line; an explicit fail fails the
// task.
func (o *Orchestrator) validate(ctx context.Context, st *run) error {
	report := st.stepReport
	if report == "" {
		report = stepReport(st.task.Plan)
	}

	out, err := o.complete(ctx, fmt.Sprintf(validatePrompt, st.task.Title, report))
	if err != nil {
		return err
	}

	pass, found := parseVerdict(out)
	if !found {
		o.logf(ctx, st, "validation output carries no explicit verdict, treating as pass")
		pass = true
	}

	verdict := "pass"
	if !pass {
		verdict = "fail"
	}
	o.record(ctx, st, roles.AdminName, knowledge.TypeValidationReport, out, []string{verdict})

	if !pass {
		return errors.New("validation verdict: fail")
	}
	o.logf(ctx, st, "validation passed")
	return nil
}

// publish branches, commits, and (when pushing is enabled) opens a
// pull request for the files the run modified. A workspace without a
// repository downgrades the whole phase to a logged skip.
func (o *Orchestrator) publish(ctx context.Context, st *run) error {
	if !o.vcs.IsRepository(ctx) {
		o.logf(ctx, st, "workspace has no repository, skipping publish")
		o.logger.Warn("publish skipped, workspace is not a repository",
			zap.String("task_id", st.task.ID))
		return nil
	}

	modified := modifiedFiles(st.task.Plan)
	if len(modified) == 0 {
		o.logf(ctx, st, "no files were modified, skipping publish")
		return nil
	}

	base, err := o.vcs.CurrentBranch(ctx)
	if err != nil {
		base = o.cfg.BaseBranch
	}

	branch := "taskd/task-" + st.task.ID
	if err := o.vcs.CreateBranch(ctx, branch); err != nil {
		return err
	}
	if err := o.vcs.StageFiles(ctx, modified); err != nil {
		return err
	}

	commitID, err := o.vcs.Commit(ctx, "taskd: "+st.task.Title)
	if err != nil {
		return err
	}
	o.logf(ctx, st, "committed %d files as %s", len(modified), shortCommit(commitID))

	title := st.task.Title
	body := prBody(st.task)

	var prNumber int
	var prURL string
	if o.cfg.Push {
		if err := o.vcs.Push(ctx, o.cfg.Remote, branch); err != nil {
			return err
		}
		result, err := o.vcs.OpenPullRequest(ctx, vcs.PullRequest{
			Title: title,
			Body:  body,
			Head:  branch,
			Base:  base,
		})
		if err != nil {
			return err
		}
		prNumber = result.Number
		prURL = result.URL
		o.logf(ctx, st, "opened pull request #%d: %s", prNumber, prURL)
	} else {
		o.logf(ctx, st, "push disabled, branch %s left local", branch)
	}

	updated, err := o.tasks.Update(ctx, st.task.ID, func(t *task.Task) error {
		t.PRBranch = branch
		t.PRNumber = prNumber
		t.PRURL = prURL
		t.PRTitle = title
		t.PRDescription = body
		return nil
	})
	if err != nil {
		return err
	}
	st.task = updated

	record := fmt.Sprintf("branch %s, commit %s, %d files", branch, shortCommit(commitID), len(modified))
	if prURL != "" {
		record += ", pull request " + prURL
	}
	o.record(ctx, st, roles.AdminName, knowledge.TypePublicationRecord, record, nil)
	return nil
}

func stepArtifact(s *task.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step: %s\nStatus: %s\n", s.Description, s.Status)
	if len(s.ModifiedFiles) > 0 {
		fmt.Fprintf(&b, "Modified: %s\n", strings.Join(s.ModifiedFiles, ", "))
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", s.Error)
	}
	return b.String()
}

func stepReport(plan *task.Plan) string {
	if plan == nil || len(plan.Steps) == 0 {
		return "The plan had no steps."
	}
	var b strings.Builder
	for i, s := range plan.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, s.Status, s.Description)
		if len(s.ModifiedFiles) > 0 {
			fmt.Fprintf(&b, " (modified %s)", strings.Join(s.ModifiedFiles, ", "))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, " error: %s", s.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func modifiedFiles(plan *task.Plan) []string {
	if plan == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range plan.Steps {
		for _, f := range s.ModifiedFiles {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func prBody(t *task.Task) string {
	var b strings.Builder
	b.WriteString(t.Description)
	if t.Plan != nil && t.Plan.Overview != "" {
		b.WriteString("\n\n")
		b.WriteString(t.Plan.Overview)
	}
	b.WriteString("\n\n")
	b.WriteString(stepReport(t.Plan))
	return b.String()
}

func shortCommit(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package task defines the persisted task record and its status state
// machine, plus the file-backed store tasks live in.
//
// A task moves through submitted, analyzing, planning, executing,
// validating and completed in order. Any state before completed may fall
// to failed or cancelled; nothing leaves a terminal state. The record's
// log lines are the durable audit trail of a run.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusAnalyzing  Status = "analyzing"
	StatusPlanning   Status = "planning"
	StatusExecuting  Status = "executing"
	StatusValidating Status = "validating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions maps each status to its legal successors.
var transitions = map[Status][]Status{
	StatusSubmitted:  {StatusAnalyzing, StatusFailed, StatusCancelled},
	StatusAnalyzing:  {StatusPlanning, StatusFailed, StatusCancelled},
	StatusPlanning:   {StatusExecuting, StatusFailed, StatusCancelled},
	StatusExecuting:  {StatusValidating, StatusFailed, StatusCancelled},
	StatusValidating: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return st, nil
}

// StepStatus is the lifecycle state of one plan step. Steps fail
// independently; one step's outcome never rewrites another's.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one unit of a plan: a description of the work, the files it
// targets, and the specialist role that carries it out.
type Step struct {
	Description   string     `json:"description"`
	Files         []string   `json:"files"`
	Role          string     `json:"role"`
	Detail        string     `json:"detail"`
	Status        StepStatus `json:"status"`
	Error         string     `json:"error"`
	ModifiedFiles []string   `json:"modified_files"`
}

// Plan is the ordered work breakdown produced by the planning phase.
type Plan struct {
	Overview string  `json:"overview"`
	Steps    []*Step `json:"steps"`
}

// Task is the persisted record of one unit of requested work. It is
// stored as one JSON file per task; every field is always present in
// the file so the on-disk shape is stable across the lifecycle (plan
// and PR fields hold their zero values until the owning phase runs).
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Status        Status   `json:"status"`
	Timestamp     string   `json:"timestamp"`
	Logs          []string `json:"logs"`
	Plan          *Plan    `json:"plan"`
	PRBranch      string   `json:"pr_branch"`
	PRNumber      int      `json:"pr_number"`
	PRURL         string   `json:"pr_url"`
	PRTitle       string   `json:"pr_title"`
	PRDescription string   `json:"pr_description"`
	UseEnhanced   bool     `json:"use_enhanced"`
	CreatePR      bool     `json:"create_pr"`
}

// New creates a submitted task with a fresh id.
func New(title, description string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Status:      StatusSubmitted,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Logs:        []string{},
	}
}

// Transition moves the task to a new status, enforcing the state
// machine. The caller is responsible for appending a log line.
func (t *Task) Transition(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown task status %q", to)
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal status transition from %s to %s", t.Status, to)
	}
	t.Status = to
	return nil
}

// AppendLog adds a timestamped line to the task's audit trail.
func (t *Task) AppendLog(msg string) {
	t.Logs = append(t.Logs, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg))
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (t *Task) Clone() *Task {
	out := *t
	out.Logs = make([]string, len(t.Logs))
	copy(out.Logs, t.Logs)
	if t.Plan != nil {
		p := &Plan{
			Overview: t.Plan.Overview,
			Steps:    make([]*Step, len(t.Plan.Steps)),
		}
		for i, st := range t.Plan.Steps {
			c := *st
			c.Files = append([]string(nil), st.Files...)
			c.ModifiedFiles = append([]string(nil), st.ModifiedFiles...)
			p.Steps[i] = &c
		}
		out.Plan = p
	}
	return &out
}

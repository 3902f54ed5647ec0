package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/taskd/internal/steps"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// maxExtractedPaths caps path extraction from free-text analysis.
const maxExtractedPaths = 50

// Completion output is free text; these parsers are best-effort with
// an explicit no-match outcome, never an error. Structured output was
// considered and rejected: the JSON plan shape is tried first, but a
// model that answers in prose still yields a usable plan through the
// list fallback.

// planDoc is the preferred JSON plan shape requested from the model.
type planDoc struct {
	Overview string        `json:"overview"`
	Steps    []planStepDoc `json:"steps"`
}

type planStepDoc struct {
	Description string   `json:"description"`
	Files       []string `json:"files"`
	Role        string   `json:"role"`
	Detail      string   `json:"detail"`
}

var listItemPattern = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+)$`)

// parsePlan turns completion output into a plan. It unwraps a fenced
// block if present, tries the JSON shape, and falls back to numbered
// or bulleted list items with per-line path extraction. Steps beyond
// maxSteps are dropped. Returns ok=false when no step can be read.
func parsePlan(text string, maxSteps int) (*task.Plan, bool) {
	body, _ := steps.ExtractFencedBlock(text)
	body = strings.TrimSpace(body)

	if plan, ok := parsePlanJSON(body); ok {
		return capPlan(plan, maxSteps), true
	}
	if plan, ok := parsePlanList(text); ok {
		return capPlan(plan, maxSteps), true
	}
	return nil, false
}

func parsePlanJSON(body string) (*task.Plan, bool) {
	if body == "" {
		return nil, false
	}

	var doc planDoc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		// Some models answer with a bare step array.
		var arr []planStepDoc
		if err := json.Unmarshal([]byte(body), &arr); err != nil {
			return nil, false
		}
		doc.Steps = arr
	}

	plan := &task.Plan{Overview: strings.TrimSpace(doc.Overview)}
	for _, s := range doc.Steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		plan.Steps = append(plan.Steps, &task.Step{
			Description: desc,
			Files:       cleanPaths(s.Files),
			Role:        strings.TrimSpace(s.Role),
			Detail:      strings.TrimSpace(s.Detail),
			Status:      task.StepPending,
		})
	}
	return plan, len(plan.Steps) > 0
}

func parsePlanList(text string) (*task.Plan, bool) {
	plan := &task.Plan{}
	var overview []string

	for _, line := range strings.Split(text, "\n") {
		m := listItemPattern.FindStringSubmatch(line)
		if m == nil {
			if len(plan.Steps) == 0 {
				if s := strings.TrimSpace(line); s != "" && !strings.HasPrefix(s, "```") {
					overview = append(overview, s)
				}
			}
			continue
		}
		desc := strings.TrimSpace(m[1])
		if desc == "" {
			continue
		}
		plan.Steps = append(plan.Steps, &task.Step{
			Description: desc,
			Files:       extractPaths(desc),
			Status:      task.StepPending,
		})
	}

	plan.Overview = strings.Join(overview, " ")
	return plan, len(plan.Steps) > 0
}

func capPlan(plan *task.Plan, maxSteps int) *task.Plan {
	if maxSteps > 0 && len(plan.Steps) > maxSteps {
		plan.Steps = plan.Steps[:maxSteps]
	}
	return plan
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "./"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pathPattern matches file-ish tokens: anything with a directory
// separator, or a bare name with a short extension.
var pathPattern = regexp.MustCompile(`\b(?:[\w.-]+/)+[\w.-]+/?|\b[\w-]+\.\w{1,8}\b`)

// extractPaths pulls candidate file and directory paths out of free
// text, deduplicated in first-seen order. Callers treat the result as
// hints, not truth.
func extractPaths(text string) []string {
	matches := pathPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		m = strings.TrimPrefix(m, "./")
		m = strings.TrimRight(m, ".")
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
		if len(out) == maxExtractedPaths {
			break
		}
	}
	return out
}

var (
	failPattern = regexp.MustCompile(`(?i)\bfail(?:ed|s|ures?)?\b`)
	passPattern = regexp.MustCompile(`(?i)\bpass(?:ed|es)?\b`)
)

// parseVerdict reads a validation verdict out of free text. The first
// non-empty line is authoritative when it carries a marker; otherwise
// a fail marker anywhere in the text wins over a pass marker, so "3
// passed, 1 failed" reads as a failure. found=false means the text
// carries no verdict at all and the caller decides the default.
func parseVerdict(text string) (pass, found bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if failPattern.MatchString(line) {
			return false, true
		}
		if passPattern.MatchString(line) {
			return true, true
		}
		break
	}
	if failPattern.MatchString(text) {
		return false, true
	}
	if passPattern.MatchString(text) {
		return true, true
	}
	return false, false
}

package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// MetadataAllowList enumerates the metadata keys accepted on ingestion.
// Any other key is silently dropped, never an error.
var MetadataAllowList = map[string]struct{}{
	"title":        {},
	"type":         {},
	"timestamp":    {},
	"tags":         {},
	"source":       {},
	"author":       {},
	"version":      {},
	"priority":     {},
	"status":       {},
	"category":     {},
	"related":      {},
	"filepath":     {},
	"language":     {},
	"dependencies": {},
	"task_id":      {},
	"confidence":   {},
}

// typeRequirements maps a declared document type to the metadata keys it
// must carry. Phase artifacts must reference their task; learnings must
// be taggable for later retrieval.
var typeRequirements = map[string][]string{
	"task_analysis":      {"task_id"},
	"context_summary":    {"task_id"},
	"task_plan":          {"task_id"},
	"step_result":        {"task_id"},
	"validation_report":  {"task_id"},
	"publication_record": {"task_id"},
	"learning":           {"tags"},
}

// SanitizeMetadata returns a copy of md containing only allow-listed
// keys, with list-valued fields coerced to []string. A nil map comes
// back as an empty one so callers can always index the result.
func SanitizeMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if _, ok := MetadataAllowList[k]; !ok {
			continue
		}
		switch k {
		case "tags", "related", "dependencies":
			out[k] = coerceStringList(v)
		default:
			out[k] = v
		}
	}
	return out
}

// coerceStringList normalizes a metadata list field. Scalars become a
// one-element list; heterogeneous lists are stringified element-wise.
func coerceStringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}

// ValidateDocument checks document content and sanitized metadata against
// the schema. It returns every problem found, not just the first, so
// callers can report them all at once.
func ValidateDocument(content string, md map[string]any) []fault.FieldError {
	var issues []fault.FieldError

	if strings.TrimSpace(content) == "" {
		issues = append(issues, fault.FieldError{
			Field:   "document",
			Message: "content cannot be empty",
		})
	}

	docType := ""
	if raw, ok := md["type"]; ok {
		s, isStr := raw.(string)
		if !isStr || s == "" {
			issues = append(issues, fault.FieldError{
				Field:   "type",
				Message: "must be a non-empty string",
			})
		} else {
			docType = s
		}
	}

	for _, required := range typeRequirements[docType] {
		if !hasValue(md, required) {
			issues = append(issues, fault.FieldError{
				Field:   required,
				Message: fmt.Sprintf("required for documents of type %q", docType),
			})
		}
	}

	if raw, ok := md["timestamp"]; ok {
		s, isStr := raw.(string)
		if !isStr {
			issues = append(issues, fault.FieldError{
				Field:   "timestamp",
				Message: "must be an RFC3339 string",
			})
		} else if _, err := time.Parse(time.RFC3339, s); err != nil {
			issues = append(issues, fault.FieldError{
				Field:   "timestamp",
				Message: fmt.Sprintf("not a valid RFC3339 timestamp: %q", s),
			})
		}
	}

	if raw, ok := md["confidence"]; ok {
		f, isNum := toFloat(raw)
		if !isNum {
			issues = append(issues, fault.FieldError{
				Field:   "confidence",
				Message: "must be a number",
			})
		} else if f < 0 || f > 1 {
			issues = append(issues, fault.FieldError{
				Field:   "confidence",
				Message: fmt.Sprintf("must be between 0 and 1, got %v", f),
			})
		}
	}

	return issues
}

func hasValue(md map[string]any, key string) bool {
	v, ok := md[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return val != ""
	case []string:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// validationFault folds a non-empty issue list into a VALIDATION fault
// that keeps the per-field detail addressable via fault.FieldsOf.
func validationFault(op string, issues []fault.FieldError) error {
	return fault.NewValidation(op, issues)
}

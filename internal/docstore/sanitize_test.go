package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMetadataDropsUnknownKeys(t *testing.T) {
	out := SanitizeMetadata(map[string]any{
		"title":        "kept",
		"task_id":      "42",
		"secret_field": "gone",
		"x-custom":     123,
	})

	assert.Equal(t, "kept", out["title"])
	assert.Equal(t, "42", out["task_id"])
	assert.NotContains(t, out, "secret_field")
	assert.NotContains(t, out, "x-custom")
}

func TestSanitizeMetadataKeepsAllowedKeys(t *testing.T) {
	in := make(map[string]any, len(MetadataAllowList))
	for k := range MetadataAllowList {
		in[k] = "v"
	}
	out := SanitizeMetadata(in)
	assert.Len(t, out, len(MetadataAllowList))
}

func TestSanitizeMetadataCoercesLists(t *testing.T) {
	out := SanitizeMetadata(map[string]any{
		"tags":         []any{"a", "b", 3},
		"related":      "solo",
		"dependencies": []string{"x"},
	})

	assert.Equal(t, []string{"a", "b", "3"}, out["tags"])
	assert.Equal(t, []string{"solo"}, out["related"])
	assert.Equal(t, []string{"x"}, out["dependencies"])
}

func TestSanitizeMetadataNilInput(t *testing.T) {
	out := SanitizeMetadata(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestValidateDocumentEmptyContent(t *testing.T) {
	issues := ValidateDocument("", nil)
	require.Len(t, issues, 1)
	assert.Equal(t, "document", issues[0].Field)

	issues = ValidateDocument("   \n\t", nil)
	require.Len(t, issues, 1)
}

func TestValidateDocumentTypeRequirements(t *testing.T) {
	// Phase artifacts need a task_id.
	issues := ValidateDocument("analysis text", map[string]any{"type": "task_analysis"})
	require.Len(t, issues, 1)
	assert.Equal(t, "task_id", issues[0].Field)

	issues = ValidateDocument("analysis text", map[string]any{
		"type":    "task_analysis",
		"task_id": "42",
	})
	assert.Empty(t, issues)

	// Learnings need tags.
	issues = ValidateDocument("lesson learned", map[string]any{"type": "learning"})
	require.Len(t, issues, 1)
	assert.Equal(t, "tags", issues[0].Field)

	issues = ValidateDocument("lesson learned", map[string]any{
		"type": "learning",
		"tags": []string{"retries"},
	})
	assert.Empty(t, issues)

	// Empty list does not satisfy a required list field.
	issues = ValidateDocument("lesson learned", map[string]any{
		"type": "learning",
		"tags": []string{},
	})
	require.Len(t, issues, 1)
}

func TestValidateDocumentCollectsAllIssues(t *testing.T) {
	issues := ValidateDocument("", map[string]any{
		"type":      "task_analysis",
		"timestamp": "yesterday",
	})
	require.Len(t, issues, 3)

	fields := make(map[string]bool)
	for _, issue := range issues {
		fields[issue.Field] = true
	}
	assert.True(t, fields["document"])
	assert.True(t, fields["task_id"])
	assert.True(t, fields["timestamp"])
}

func TestValidateDocumentTimestamp(t *testing.T) {
	issues := ValidateDocument("content", map[string]any{"timestamp": "2026-02-14T09:30:00Z"})
	assert.Empty(t, issues)

	issues = ValidateDocument("content", map[string]any{"timestamp": "14/02/2026"})
	require.Len(t, issues, 1)
	assert.Equal(t, "timestamp", issues[0].Field)

	issues = ValidateDocument("content", map[string]any{"timestamp": 1739523000})
	require.Len(t, issues, 1)
}

func TestValidateDocumentConfidence(t *testing.T) {
	issues := ValidateDocument("content", map[string]any{"confidence": 0.85})
	assert.Empty(t, issues)

	issues = ValidateDocument("content", map[string]any{"confidence": 1.5})
	require.Len(t, issues, 1)
	assert.Equal(t, "confidence", issues[0].Field)

	issues = ValidateDocument("content", map[string]any{"confidence": -0.1})
	require.Len(t, issues, 1)

	issues = ValidateDocument("content", map[string]any{"confidence": "high"})
	require.Len(t, issues, 1)
}

func TestValidateDocumentBadType(t *testing.T) {
	issues := ValidateDocument("content", map[string]any{"type": 7})
	require.Len(t, issues, 1)
	assert.Equal(t, "type", issues[0].Field)

	issues = ValidateDocument("content", map[string]any{"type": ""})
	require.Len(t, issues, 1)
}

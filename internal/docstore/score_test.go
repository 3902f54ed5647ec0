package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "hello"}, tokenize("Hello, World! hello"))
	assert.Equal(t, []string{"task", "42"}, tokenize("Task 42"))
	assert.Empty(t, tokenize("...!!!"))
	assert.Empty(t, tokenize(""))
}

func TestCosineSimilarity(t *testing.T) {
	a := termFrequencies(tokenize("alpha beta gamma"))

	assert.InDelta(t, 1.0, cosineSimilarity(a, a), 1e-9)

	b := termFrequencies(tokenize("delta epsilon"))
	assert.Equal(t, 0.0, cosineSimilarity(a, b))

	assert.Equal(t, 0.0, cosineSimilarity(a, map[string]float64{}))
	assert.Equal(t, 0.0, cosineSimilarity(map[string]float64{}, map[string]float64{}))
}

func TestScoreDocumentOrdersByRelevance(t *testing.T) {
	query := termFrequencies(tokenize("task 42 analysis"))

	exact := scoreDocument(query, "Task 42 analysis of the failing importer")
	partial := scoreDocument(query, "general analysis of build times")
	unrelated := scoreDocument(query, "grocery list for the weekend")

	assert.Greater(t, exact, partial)
	assert.Greater(t, partial, unrelated)
	assert.Equal(t, 0.0, unrelated)
}

func TestScoreDocumentCaseInsensitive(t *testing.T) {
	query := termFrequencies(tokenize("IMPORTER"))

	lower := scoreDocument(query, "the importer is slow")
	upper := scoreDocument(query, "the IMPORTER is slow")
	assert.Equal(t, lower, upper)
	assert.Greater(t, lower, 0.0)
}

package docstore

import (
	"math"
	"strings"
	"unicode"
)

// tokenize lowercases text and splits it on anything that is not a
// letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termFrequencies builds a term -> count vector.
func termFrequencies(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	return freq
}

// cosineSimilarity computes the cosine of the angle between two term
// vectors. Either vector being empty yields 0.
func cosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Iterate the smaller vector for the dot product.
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	var dot float64
	for term, count := range small {
		if other, ok := large[term]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}

	var normA, normB float64
	for _, count := range a {
		normA += count * count
	}
	for _, count := range b {
		normB += count * count
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// scoreDocument ranks a document's content against pre-tokenized query
// frequencies.
func scoreDocument(queryFreq map[string]float64, content string) float64 {
	return cosineSimilarity(queryFreq, termFrequencies(tokenize(content)))
}

// Package docstore provides collection-oriented JSON persistence with
// per-collection locking, metadata validation, and atomic rewrite.
//
// A collection is a named bag of documents stored as one pretty-printed
// JSON file. Mutations take the collection's lock and rewrite the whole
// file through a temp-file rename, so readers never observe a partial
// write. Read paths are deliberately lock-free: they may see a stale
// snapshot, never a corrupt one.
package docstore

import "encoding/json"

// Document is one stored knowledge item. Metadata is restricted to the
// allow-listed keys in MetadataAllowList.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"document"`
	Metadata map[string]any `json:"metadata"`
}

// collectionFile is the on-disk shape of a collection.
type collectionFile struct {
	Documents []Document `json:"documents"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (d Document) Clone() Document {
	out := Document{ID: d.ID, Content: d.Content}
	if d.Metadata != nil {
		// Round-trip through JSON clones nested values.
		raw, err := json.Marshal(d.Metadata)
		if err == nil {
			var md map[string]any
			if json.Unmarshal(raw, &md) == nil {
				out.Metadata = md
			}
		}
	}
	return out
}

// QueryOptions controls Query.
type QueryOptions struct {
	// Query is free text matched by bag-of-words cosine similarity.
	// Empty returns documents in insertion order with score 1.0.
	Query string
	// Limit caps the result size. Non-positive limits fall back to
	// DefaultQueryLimit.
	Limit int
	// Filters are exact-match metadata constraints applied before
	// scoring.
	Filters map[string]any
}

// ScoredDocument pairs a document with its query score.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// Sort directions accepted by PageOptions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// PageOptions controls GetPaged.
type PageOptions struct {
	// Limit caps the page size at MaxPageSize. Zero takes the
	// configured default; negative limits are rejected.
	Limit int
	// Page is 1-based and clamped to >= 1.
	Page int
	// SortBy may be "timestamp" or empty for insertion order.
	SortBy string
	// SortDir is "asc" or "desc"; defaults to ascending.
	SortDir string
}

// Page is one page of documents plus paging bookkeeping.
type Page struct {
	Documents  []Document `json:"documents"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
	HasMore    bool       `json:"has_more"`
}

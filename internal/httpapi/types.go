// Package httpapi provides the HTTP API for taskd.
package httpapi

import (
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SubmitTaskRequest is the request body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	UseEnhanced bool   `json:"use_enhanced"`
	CreatePR    bool   `json:"create_pr"`
}

// TaskListResponse is the response body for GET /api/v1/tasks.
type TaskListResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Count int          `json:"count"`
}

// CollectionsResponse is the response body for GET /api/v1/collections.
type CollectionsResponse struct {
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

// QueryResponse is the response body for GET /api/v1/collections/:name/query.
type QueryResponse struct {
	Results []docstore.ScoredDocument `json:"results"`
	Count   int                       `json:"count"`
}

// ErrorResponse carries a failed request's fault code and, for
// validation faults, the offending fields.
type ErrorResponse struct {
	Error  string             `json:"error"`
	Code   string             `json:"code,omitempty"`
	Fields []fault.FieldError `json:"fields,omitempty"`
}

// Package knowledge records pipeline phase artifacts into per-role
// knowledge collections.
//
// Recording is a pure side effect of the pipeline: a failed write is
// logged and dropped, never surfaced to the phase that produced the
// artifact. Collections are created lazily by the document store on
// first write.
package knowledge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/roles"
)

// Source marks every recorded artifact's origin.
const Source = "pipeline"

// Artifact types written by the pipeline phases.
const (
	TypeTaskAnalysis      = "task_analysis"
	TypeContextSummary    = "context_summary"
	TypeTaskPlan          = "task_plan"
	TypeStepResult        = "step_result"
	TypeValidationReport  = "validation_report"
	TypePublicationRecord = "publication_record"
	TypeErrorReport       = "error_report"
)

// Recorder appends phase artifacts to role knowledge collections.
type Recorder struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewRecorder creates a recorder backed by the given store.
func NewRecorder(store docstore.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fault.New(fault.CodeValidation, "knowledge.NewRecorder", "store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}, nil
}

// RecordPhaseArtifact appends content into the role's knowledge
// collection, tagged with the artifact type, task id, and timestamp.
// Failures are logged and swallowed so a knowledge outage can never
// fail the phase that produced the artifact.
func (r *Recorder) RecordPhaseArtifact(ctx context.Context, role, taskID, artifactType, content string, tags []string) {
	collection := roles.CollectionPrefix + role

	metadata := map[string]any{
		"type":      artifactType,
		"task_id":   taskID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"source":    Source,
	}
	if len(tags) > 0 {
		metadata["tags"] = tags
	}

	doc, err := r.store.AddDocument(ctx, collection, content, metadata)
	if err != nil {
		r.logger.Warn("failed to record phase artifact",
			zap.String("collection", collection),
			zap.String("type", artifactType),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}

	r.logger.Debug("recorded phase artifact",
		zap.String("collection", collection),
		zap.String("type", artifactType),
		zap.String("task_id", taskID),
		zap.String("document_id", doc.ID),
	)
}

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/locking"
)

const instrumentationName = "github.com/fyrsmithlabs/taskd/internal/docstore"

// DefaultQueryLimit applies when QueryOptions.Limit is zero or negative.
const DefaultQueryLimit = 10

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("document store is closed")

// Store defines the document store interface.
//
// Writes serialize per collection behind a bounded lock and rewrite the
// collection file whole via write-to-temp plus rename. Reads are
// deliberately lock-free: they may observe a stale collection state but
// never a partially written one.
type Store interface {
	// CreateCollection creates an empty collection file. It reports
	// whether the collection was created; false means it already existed.
	CreateCollection(ctx context.Context, name string) (bool, error)

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns the names of all collections, sorted.
	ListCollections(ctx context.Context) ([]string, error)

	// CollectionExists reports whether a collection file exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// AddDocument appends a document with a freshly generated id.
	// Metadata is sanitized against the allow-list and validated per the
	// declared document type before anything is written; content larger
	// than the configured size cap is rejected.
	AddDocument(ctx context.Context, collection, content string, metadata map[string]any) (*Document, error)

	// GetDocument returns a single document by id.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// UpdateDocument replaces a document's content and metadata in place,
	// keeping its id and position.
	UpdateDocument(ctx context.Context, collection, id, content string, metadata map[string]any) (*Document, error)

	// DeleteDocument removes a single document by id.
	DeleteDocument(ctx context.Context, collection, id string) error

	// Query scores documents against a bag-of-words query after applying
	// exact-match metadata filters. An empty query returns documents in
	// insertion order with score 1.0.
	Query(ctx context.Context, collection string, opts QueryOptions) ([]ScoredDocument, error)

	// GetPaged returns one page of documents with paging metadata,
	// optionally sorted by the timestamp metadata field.
	GetPaged(ctx context.Context, collection string, opts PageOptions) (*Page, error)

	// Close marks the store closed. Subsequent operations fail.
	Close() error
}

// Config holds document store configuration.
type Config struct {
	// Dir is the directory holding one JSON file per collection.
	Dir string

	// LockTimeout bounds how long a writer waits for a collection lock.
	LockTimeout time.Duration

	// MaxDocumentKB caps document content size on writes, in kilobytes.
	MaxDocumentKB int

	// DefaultPageSize applies when GetPaged is called without a limit.
	DefaultPageSize int

	// MaxPageSize caps the page limit.
	MaxPageSize int
}

// DefaultConfig returns a default store configuration.
func DefaultConfig() Config {
	return Config{
		LockTimeout:     locking.DefaultTimeout,
		MaxDocumentKB:   1024,
		DefaultPageSize: 100,
		MaxPageSize:     500,
	}
}

// store implements Store.
type store struct {
	config Config
	dir    string
	locks  *locking.Manager
	logger *zap.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	closed bool
}

// NewStore creates a file-backed document store rooted at cfg.Dir.
// A nil locks manager gets created from cfg.LockTimeout.
func NewStore(cfg Config, locks *locking.Manager, logger *zap.Logger) (Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("store directory is required")
	}
	if cfg.MaxDocumentKB <= 0 {
		cfg.MaxDocumentKB = 1024
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	if locks == nil {
		locks = locking.NewManager(cfg.LockTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Lock keys are absolute file paths, so the directory must be
	// resolved before any path is derived from it.
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &store{
		config: cfg,
		dir:    dir,
		locks:  locks,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

func (s *store) CreateCollection(ctx context.Context, name string) (created bool, err error) {
	start := time.Now()
	defer func() { recordOperation("create_collection", start, err) }()

	ctx, span := s.tracer.Start(ctx, "docstore.create_collection",
		trace.WithAttributes(attribute.String("docstore.collection", name)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return false, err
	}
	if err = ValidateCollectionName(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return false, err
	}

	release, err := s.acquire(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return false, err
	}
	defer release()

	path := s.collectionPath(name)
	_, statErr := os.Stat(path)
	if statErr == nil {
		return false, nil
	}
	if !errors.Is(statErr, os.ErrNotExist) {
		err = fault.Wrap(fault.CodeFilesystem, "docstore.CreateCollection", statErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stat failed")
		return false, err
	}

	if err = s.save(name, &collectionFile{Documents: []Document{}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return false, err
	}

	s.logger.Info("collection created", zap.String("collection", name))
	return true, nil
}

func (s *store) DeleteCollection(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { recordOperation("delete_collection", start, err) }()

	ctx, span := s.tracer.Start(ctx, "docstore.delete_collection",
		trace.WithAttributes(attribute.String("docstore.collection", name)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return err
	}
	if err = ValidateCollectionName(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return err
	}

	release, err := s.acquire(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return err
	}
	defer release()

	path := s.collectionPath(name)
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		err = fault.New(fault.CodeNotFound, "docstore.DeleteCollection", "collection %q not found", name)
		span.RecordError(err)
		span.SetStatus(codes.Error, "collection not found")
		return err
	}

	if rmErr := os.Remove(path); rmErr != nil {
		err = fault.Wrap(fault.CodeFilesystem, "docstore.DeleteCollection", rmErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove failed")
		return err
	}

	collectionDocuments.DeleteLabelValues(name)
	s.logger.Info("collection deleted", zap.String("collection", name))
	return nil
}

func (s *store) ListCollections(ctx context.Context) (names []string, err error) {
	start := time.Now()
	defer func() { recordOperation("list_collections", start, err) }()

	_, span := s.tracer.Start(ctx, "docstore.list_collections")
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}

	entries, readErr := os.ReadDir(s.dir)
	if readErr != nil {
		err = fault.Wrap(fault.CodeFilesystem, "docstore.ListCollections", readErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read dir failed")
		return nil, err
	}

	names = make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := collectionNameFromFile(entry.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	span.SetAttributes(attribute.Int("docstore.collections", len(names)))
	return names, nil
}

func (s *store) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	_, err := os.Stat(s.collectionPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fault.Wrap(fault.CodeFilesystem, "docstore.CollectionExists", err)
	}
	return true, nil
}

func (s *store) AddDocument(ctx context.Context, collection, content string, metadata map[string]any) (doc *Document, err error) {
	start := time.Now()
	defer func() { recordOperation("add_document", start, err) }()

	ctx, span := s.tracer.Start(ctx, "docstore.add_document",
		trace.WithAttributes(attribute.String("docstore.collection", collection)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = ValidateCollectionName(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return nil, err
	}

	// Validate before taking the lock so rejected documents never
	// touch the file.
	sanitized := SanitizeMetadata(metadata)
	if err = s.validateForWrite("docstore.AddDocument", content, sanitized); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	release, err := s.acquire(ctx, collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer release()

	cf, err := s.loadOrInit(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	d := Document{
		ID:       uuid.New().String(),
		Content:  content,
		Metadata: sanitized,
	}
	cf.Documents = append(cf.Documents, d)

	if err = s.save(collection, cf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}

	recordCollectionSize(collection, len(cf.Documents))
	span.SetAttributes(attribute.String("docstore.document_id", d.ID))
	s.logger.Debug("document added",
		zap.String("collection", collection),
		zap.String("document_id", d.ID),
	)

	out := d.Clone()
	return &out, nil
}

func (s *store) GetDocument(ctx context.Context, collection, id string) (doc *Document, err error) {
	start := time.Now()
	defer func() { recordOperation("get_document", start, err) }()

	_, span := s.tracer.Start(ctx, "docstore.get_document",
		trace.WithAttributes(
			attribute.String("docstore.collection", collection),
			attribute.String("docstore.document_id", id),
		),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = ValidateCollectionName(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return nil, err
	}

	cf, err := s.load(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	for i := range cf.Documents {
		if cf.Documents[i].ID == id {
			out := cf.Documents[i].Clone()
			return &out, nil
		}
	}

	err = fault.New(fault.CodeNotFound, "docstore.GetDocument", "document %q not found in collection %q", id, collection)
	span.RecordError(err)
	span.SetStatus(codes.Error, "document not found")
	return nil, err
}

func (s *store) UpdateDocument(ctx context.Context, collection, id, content string, metadata map[string]any) (doc *Document, err error) {
	start := time.Now()
	defer func() { recordOperation("update_document", start, err) }()

	ctx, span := s.tracer.Start(ctx, "docstore.update_document",
		trace.WithAttributes(
			attribute.String("docstore.collection", collection),
			attribute.String("docstore.document_id", id),
		),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = ValidateCollectionName(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return nil, err
	}

	sanitized := SanitizeMetadata(metadata)
	if err = s.validateForWrite("docstore.UpdateDocument", content, sanitized); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	release, err := s.acquire(ctx, collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer release()

	cf, err := s.load(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	idx := -1
	for i := range cf.Documents {
		if cf.Documents[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		err = fault.New(fault.CodeNotFound, "docstore.UpdateDocument", "document %q not found in collection %q", id, collection)
		span.RecordError(err)
		span.SetStatus(codes.Error, "document not found")
		return nil, err
	}

	cf.Documents[idx].Content = content
	cf.Documents[idx].Metadata = sanitized

	if err = s.save(collection, cf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}

	s.logger.Debug("document updated",
		zap.String("collection", collection),
		zap.String("document_id", id),
	)

	out := cf.Documents[idx].Clone()
	return &out, nil
}

func (s *store) DeleteDocument(ctx context.Context, collection, id string) (err error) {
	start := time.Now()
	defer func() { recordOperation("delete_document", start, err) }()

	ctx, span := s.tracer.Start(ctx, "docstore.delete_document",
		trace.WithAttributes(
			attribute.String("docstore.collection", collection),
			attribute.String("docstore.document_id", id),
		),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return err
	}
	if err = ValidateCollectionName(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return err
	}

	release, err := s.acquire(ctx, collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return err
	}
	defer release()

	cf, err := s.load(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return err
	}

	idx := -1
	for i := range cf.Documents {
		if cf.Documents[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		err = fault.New(fault.CodeNotFound, "docstore.DeleteDocument", "document %q not found in collection %q", id, collection)
		span.RecordError(err)
		span.SetStatus(codes.Error, "document not found")
		return err
	}

	cf.Documents = append(cf.Documents[:idx], cf.Documents[idx+1:]...)

	if err = s.save(collection, cf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return err
	}

	recordCollectionSize(collection, len(cf.Documents))
	s.logger.Debug("document deleted",
		zap.String("collection", collection),
		zap.String("document_id", id),
	)
	return nil
}

func (s *store) Query(ctx context.Context, collection string, opts QueryOptions) (results []ScoredDocument, err error) {
	start := time.Now()
	defer func() { recordOperation("query", start, err) }()

	_, span := s.tracer.Start(ctx, "docstore.query",
		trace.WithAttributes(attribute.String("docstore.collection", collection)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = ValidateCollectionName(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return nil, err
	}

	cf, err := s.load(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	filtered := make([]Document, 0, len(cf.Documents))
	for _, d := range cf.Documents {
		if matchesFilters(d.Metadata, opts.Filters) {
			filtered = append(filtered, d)
		}
	}

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		if len(filtered) > limit {
			filtered = filtered[:limit]
		}
		results = make([]ScoredDocument, 0, len(filtered))
		for _, d := range filtered {
			results = append(results, ScoredDocument{Document: d.Clone(), Score: 1.0})
		}
		span.SetAttributes(attribute.Int("docstore.results", len(results)))
		return results, nil
	}

	queryFreq := termFrequencies(tokenize(query))
	scored := make([]ScoredDocument, 0, len(filtered))
	for _, d := range filtered {
		scored = append(scored, ScoredDocument{
			Document: d.Clone(),
			Score:    scoreDocument(queryFreq, d.Content),
		})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	span.SetAttributes(attribute.Int("docstore.results", len(scored)))
	return scored, nil
}

func (s *store) GetPaged(ctx context.Context, collection string, opts PageOptions) (page *Page, err error) {
	start := time.Now()
	defer func() { recordOperation("get_paged", start, err) }()

	_, span := s.tracer.Start(ctx, "docstore.get_paged",
		trace.WithAttributes(attribute.String("docstore.collection", collection)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = ValidateCollectionName(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection name")
		return nil, err
	}
	if opts.Limit < 0 {
		err = fault.New(fault.CodeValidation, "docstore.GetPaged", "limit cannot be negative, got %d", opts.Limit)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid limit")
		return nil, err
	}

	cf, err := s.load(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	// Zero means the caller left the limit unset.
	limit := opts.Limit
	if limit == 0 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}
	pageNum := opts.Page
	if pageNum < 1 {
		pageNum = 1
	}

	docs := make([]Document, len(cf.Documents))
	for i := range cf.Documents {
		docs[i] = cf.Documents[i].Clone()
	}

	if opts.SortBy == "timestamp" {
		desc := opts.SortDir == SortDesc
		sort.SliceStable(docs, func(i, j int) bool {
			ti := metadataString(docs[i].Metadata, "timestamp")
			tj := metadataString(docs[j].Metadata, "timestamp")
			if desc {
				return ti > tj
			}
			return ti < tj
		})
	}

	total := len(docs)
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}

	from := (pageNum - 1) * limit
	if from > total {
		from = total
	}
	to := from + limit
	if to > total {
		to = total
	}

	page = &Page{
		Documents:  docs[from:to],
		TotalCount: total,
		Page:       pageNum,
		TotalPages: totalPages,
		HasMore:    pageNum < totalPages,
	}
	span.SetAttributes(
		attribute.Int("docstore.page", pageNum),
		attribute.Int("docstore.total", total),
	)
	return page, nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// validateForWrite runs schema validation plus the store's content size
// cap, folding every issue into one VALIDATION fault.
func (s *store) validateForWrite(op, content string, md map[string]any) error {
	issues := ValidateDocument(content, md)
	if len(content) > s.config.MaxDocumentKB*1024 {
		issues = append(issues, fault.FieldError{
			Field:   "document",
			Message: fmt.Sprintf("content is %d bytes, limit is %dKB", len(content), s.config.MaxDocumentKB),
		})
	}
	if len(issues) == 0 {
		return nil
	}
	return validationFault(op, issues)
}

// acquire takes the collection's write lock, recording how long the
// caller waited. Locks are keyed by the normalized absolute file path
// so every writer to one collection contends on the same entry.
func (s *store) acquire(ctx context.Context, collection string) (func(), error) {
	waitStart := time.Now()
	release, err := s.locks.Acquire(ctx, s.collectionPath(collection))
	recordLockWait(waitStart)
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (s *store) collectionPath(name string) string {
	return filepath.Join(s.dir, collectionFileName(name))
}

// load reads a collection file. A missing file is a NOT_FOUND fault.
func (s *store) load(name string) (*collectionFile, error) {
	data, err := os.ReadFile(s.collectionPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fault.New(fault.CodeNotFound, "docstore.load", "collection %q not found", name)
	}
	if err != nil {
		return nil, fault.Wrap(fault.CodeFilesystem, "docstore.load", err)
	}

	var cf collectionFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fault.Wrap(fault.CodeFilesystem, "docstore.load", fmt.Errorf("collection %q is corrupt: %w", name, err))
	}
	if cf.Documents == nil {
		cf.Documents = []Document{}
	}
	return &cf, nil
}

// loadOrInit reads a collection file, initializing an empty collection
// when the file does not exist yet. Collections are created lazily on
// first write.
func (s *store) loadOrInit(name string) (*collectionFile, error) {
	cf, err := s.load(name)
	if fault.Is(err, fault.CodeNotFound) {
		return &collectionFile{Documents: []Document{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return cf, nil
}

// save rewrites the collection file whole. The content lands in a temp
// file in the same directory first and is renamed into place so readers
// never observe a partial write.
func (s *store) save(name string, cf *collectionFile) error {
	const op = "docstore.save"

	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}

	path := s.collectionPath(name)
	tmp, err := os.CreateTemp(s.dir, "."+collectionFileName(name)+".tmp-*")
	if err != nil {
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}
	return nil
}

// matchesFilters reports whether metadata satisfies every exact-match
// filter.
func matchesFilters(md map[string]any, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	for key, want := range filters {
		got, ok := md[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	if s, ok := md[key].(string); ok {
		return s
	}
	return ""
}

package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/locking"
)

const instrumentationName = "github.com/fyrsmithlabs/taskd/internal/task"

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("task store is closed")

// idPattern matches valid task ids (uuid or similar opaque tokens).
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Store persists tasks as one JSON file per task. Writes serialize per
// task behind a bounded lock; reads are lock-free and may observe a
// stale but never partially written record.
type Store interface {
	// Create persists a new task. The task id must be unused.
	Create(ctx context.Context, t *Task) error

	// Get loads a task by id.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns all tasks ordered by submission time, then id.
	List(ctx context.Context) ([]*Task, error)

	// Update applies fn to the current record under the task's write
	// lock and persists the result. fn returning an error aborts the
	// update with nothing written.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)

	// Delete removes a task record.
	Delete(ctx context.Context, id string) error

	// Close marks the store closed. Subsequent operations fail.
	Close() error
}

// Config holds task store configuration.
type Config struct {
	// Dir is the directory holding one JSON file per task.
	Dir string

	// LockTimeout bounds how long a writer waits for a task's lock.
	LockTimeout time.Duration
}

// store implements Store.
type store struct {
	config Config
	dir    string
	locks  *locking.Manager
	logger *zap.Logger
	tracer trace.Tracer
	meter  metric.Meter

	mu     sync.RWMutex
	closed bool

	createsTotal metric.Int64Counter
	updatesTotal metric.Int64Counter
	deletesTotal metric.Int64Counter
}

// NewStore creates a file-backed task store rooted at cfg.Dir.
func NewStore(cfg Config, locks *locking.Manager, logger *zap.Logger) (Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("task store directory is required")
	}
	if locks == nil {
		locks = locking.NewManager(cfg.LockTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Lock keys are absolute file paths.
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve task store directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create task store directory: %w", err)
	}

	s := &store{
		config: cfg,
		dir:    dir,
		locks:  locks,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *store) initMetrics() {
	var err error
	s.createsTotal, err = s.meter.Int64Counter(
		"task.creates",
		metric.WithDescription("Total tasks created"),
	)
	if err != nil {
		s.logger.Warn("failed to create creates counter", zap.Error(err))
	}
	s.updatesTotal, err = s.meter.Int64Counter(
		"task.updates",
		metric.WithDescription("Total task record updates"),
	)
	if err != nil {
		s.logger.Warn("failed to create updates counter", zap.Error(err))
	}
	s.deletesTotal, err = s.meter.Int64Counter(
		"task.deletes",
		metric.WithDescription("Total tasks deleted"),
	)
	if err != nil {
		s.logger.Warn("failed to create deletes counter", zap.Error(err))
	}
}

func (s *store) Create(ctx context.Context, t *Task) (err error) {
	ctx, span := s.tracer.Start(ctx, "task.create",
		trace.WithAttributes(attribute.String("task.id", t.ID)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return err
	}
	if err = validateID(t.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid task id")
		return err
	}

	release, err := s.locks.Acquire(ctx, s.taskPath(t.ID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return err
	}
	defer release()

	path := s.taskPath(t.ID)
	if _, statErr := os.Stat(path); statErr == nil {
		err = fault.New(fault.CodeValidation, "task.Create", "task %q already exists", t.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate task id")
		return err
	}

	if err = s.save(t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return err
	}

	s.createsTotal.Add(ctx, 1)
	s.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("title", t.Title),
	)
	return nil
}

func (s *store) Get(ctx context.Context, id string) (t *Task, err error) {
	_, span := s.tracer.Start(ctx, "task.get",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid task id")
		return nil, err
	}

	t, err = s.load(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	return t, nil
}

func (s *store) List(ctx context.Context) (tasks []*Task, err error) {
	_, span := s.tracer.Start(ctx, "task.list")
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}

	entries, readErr := os.ReadDir(s.dir)
	if readErr != nil {
		err = fault.Wrap(fault.CodeFilesystem, "task.List", readErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read dir failed")
		return nil, err
	}

	tasks = make([]*Task, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		if validateID(id) != nil {
			continue
		}
		t, loadErr := s.load(id)
		if loadErr != nil {
			// A record deleted between ReadDir and load is not an error.
			if fault.Is(loadErr, fault.CodeNotFound) {
				continue
			}
			s.logger.Warn("skipping unreadable task record",
				zap.String("task_id", id),
				zap.Error(loadErr),
			)
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Timestamp != tasks[j].Timestamp {
			return tasks[i].Timestamp < tasks[j].Timestamp
		}
		return tasks[i].ID < tasks[j].ID
	})

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

func (s *store) Update(ctx context.Context, id string, fn func(*Task) error) (t *Task, err error) {
	ctx, span := s.tracer.Start(ctx, "task.update",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid task id")
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, s.taskPath(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer release()

	t, err = s.load(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	if err = fn(t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update rejected")
		return nil, err
	}

	if err = s.save(t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}

	s.updatesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", string(t.Status))),
	)
	return t.Clone(), nil
}

func (s *store) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "task.delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err = s.checkOpen(); err != nil {
		return err
	}
	if err = validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid task id")
		return err
	}

	release, err := s.locks.Acquire(ctx, s.taskPath(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return err
	}
	defer release()

	path := s.taskPath(id)
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		err = fault.New(fault.CodeNotFound, "task.Delete", "task %q not found", id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "task not found")
		return err
	}

	if rmErr := os.Remove(path); rmErr != nil {
		err = fault.Wrap(fault.CodeFilesystem, "task.Delete", rmErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove failed")
		return err
	}

	s.deletesTotal.Add(ctx, 1)
	s.logger.Info("task deleted", zap.String("task_id", id))
	return nil
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

func (s *store) taskPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func validateID(id string) error {
	if id == "" {
		return fault.New(fault.CodeValidation, "task.validateID", "task id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fault.New(fault.CodeValidation, "task.validateID", "task id %q contains invalid characters", id)
	}
	return nil
}

// load reads a task record. A missing file is a NOT_FOUND fault.
func (s *store) load(id string) (*Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fault.New(fault.CodeNotFound, "task.load", "task %q not found", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.CodeFilesystem, "task.load", err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fault.Wrap(fault.CodeFilesystem, "task.load", fmt.Errorf("task %q is corrupt: %w", id, err))
	}
	if t.Logs == nil {
		t.Logs = []string{}
	}
	return &t, nil
}

// save rewrites the task file whole via write-to-temp plus rename.
func (s *store) save(t *Task) error {
	const op = "task.save"

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}

	path := s.taskPath(t.ID)
	tmp, err := os.CreateTemp(s.dir, "."+t.ID+".tmp-*")
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

// Package monitor watches an inbox directory for dropped task files.
//
// A JSON file {title, description, use_enhanced, create_pr} written
// into the inbox becomes a submitted task; the file then moves to
// inbox/processed/, or to inbox/failed/ when it cannot be read,
// parsed, or stored. Files already present at start are picked up by
// an initial scan, so tasks dropped while the daemon was down are not
// lost.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/task"
)

// DefaultDebounce is the quiet period after the last write event
// before a dropped file is read. Editors and copies produce several
// events per file; reading too early sees a partial document.
const DefaultDebounce = 500 * time.Millisecond

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Config holds inbox monitor configuration.
type Config struct {
	// Dir is the inbox directory. Created if missing.
	Dir string

	// Debounce is the quiet period before reading a dropped file.
	Debounce time.Duration
}

// Monitor watches the inbox and submits dropped task files.
type Monitor struct {
	cfg     Config
	tasks   task.Store
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// taskFile is the JSON shape accepted in the inbox.
type taskFile struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	UseEnhanced bool   `json:"use_enhanced"`
	CreatePR    bool   `json:"create_pr"`
}

// New creates an inbox monitor. Call Start to begin watching.
func New(cfg Config, tasks task.Store, logger *zap.Logger) (*Monitor, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if tasks == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		cfg:     cfg,
		tasks:   tasks,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start creates the inbox layout, runs the initial scan, and begins
// watching. ctx bounds the background loop and every submission.
func (m *Monitor) Start(ctx context.Context) error {
	for _, dir := range []string{m.cfg.Dir, filepath.Join(m.cfg.Dir, processedDir), filepath.Join(m.cfg.Dir, failedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	if err := watcher.Add(m.cfg.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	m.watcher = watcher

	// Files dropped while the daemon was down. The watcher is already
	// live, so a duplicate event for a scanned file just finds it gone.
	m.scan(ctx)

	go m.run(ctx)

	m.logger.Info("inbox monitor started",
		zap.String("dir", m.cfg.Dir),
		zap.Duration("debounce", m.cfg.Debounce),
	)
	return nil
}

// Stop terminates the watcher and waits for in-flight submissions.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
		return
	default:
	}
	close(m.stop)
	if m.watcher != nil {
		_ = m.watcher.Close()
		<-m.done
	}

	m.mu.Lock()
	for path, t := range m.pending {
		if t.Stop() {
			m.wg.Done()
		}
		delete(m.pending, path)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				m.schedule(ctx, event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		m.logger.Warn("inbox scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isTaskFile(e.Name()) {
			continue
		}
		m.process(ctx, filepath.Join(m.cfg.Dir, e.Name()))
	}
}

// schedule arms (or re-arms) the debounce timer for path. One timer
// per path, so a burst of write events reads the file once.
func (m *Monitor) schedule(ctx context.Context, path string) {
	if !isTaskFile(filepath.Base(path)) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.pending[path]; ok {
		t.Reset(m.cfg.Debounce)
		return
	}
	m.wg.Add(1)
	m.pending[path] = time.AfterFunc(m.cfg.Debounce, func() {
		defer m.wg.Done()
		m.mu.Lock()
		delete(m.pending, path)
		m.mu.Unlock()
		m.process(ctx, path)
	})
}

func (m *Monitor) process(ctx context.Context, path string) {
	if ctx.Err() != nil {
		// Shutting down; leave the file for the next start's scan.
		return
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		m.fail(path, err)
		return
	}

	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		m.fail(path, fmt.Errorf("not a valid task file: %w", err))
		return
	}
	title := strings.TrimSpace(tf.Title)
	if title == "" {
		m.fail(path, errors.New("task file has no title"))
		return
	}

	t := task.New(title, strings.TrimSpace(tf.Description))
	t.UseEnhanced = tf.UseEnhanced
	t.CreatePR = tf.CreatePR

	if err := m.tasks.Create(ctx, t); err != nil {
		m.fail(path, err)
		return
	}

	m.move(path, processedDir)
	m.logger.Info("task submitted from inbox",
		zap.String("task_id", t.ID),
		zap.String("file", filepath.Base(path)),
		zap.String("title", t.Title),
	)
}

func (m *Monitor) fail(path string, err error) {
	m.logger.Warn("failed to process inbox file",
		zap.String("file", filepath.Base(path)),
		zap.Error(err),
	)
	m.move(path, failedDir)
}

func (m *Monitor) move(path, sub string) {
	dest := filepath.Join(m.cfg.Dir, sub, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		m.logger.Warn("failed to move inbox file",
			zap.String("file", filepath.Base(path)),
			zap.String("dest", sub),
			zap.Error(err),
		)
	}
}

func isTaskFile(name string) bool {
	return filepath.Ext(name) == ".json" && !strings.HasPrefix(name, ".")
}

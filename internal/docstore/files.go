package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// protectedDirs are directory names a workspace write may never touch.
var protectedDirs = map[string]struct{}{
	".git":         {},
	".taskd":       {},
	"node_modules": {},
	"vendor":       {},
}

// allowedExtensions enumerates file extensions a workspace write may
// target. Everything else is rejected as a policy violation.
var allowedExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {},
	".java": {}, ".rb": {}, ".rs": {}, ".c": {}, ".h": {}, ".cpp": {}, ".hpp": {},
	".cs": {}, ".php": {}, ".swift": {}, ".kt": {}, ".scala": {},
	".sh": {}, ".sql": {}, ".html": {}, ".css": {}, ".scss": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".xml": {},
	".md": {}, ".txt": {}, ".cfg": {}, ".ini": {}, ".proto": {},
}

const backupSuffix = ".bak"

// FileWriter performs policy-checked workspace writes with
// backup-before-write and automatic restore when a write fails.
// Every file the step executor touches goes through this path.
type FileWriter struct {
	root   string
	logger *zap.Logger

	// writeFile is swappable so tests can force write failures.
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewFileWriter creates a FileWriter rooted at dir. Writes resolving
// outside dir are rejected with a SECURITY fault.
func NewFileWriter(root string, logger *zap.Logger) (*FileWriter, error) {
	if root == "" {
		return nil, errors.New("workspace root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWriter{
		root:      absRoot,
		logger:    logger,
		writeFile: os.WriteFile,
	}, nil
}

// Root returns the absolute workspace root.
func (w *FileWriter) Root() string {
	return w.root
}

// Resolve validates a workspace-relative path against the write policy
// and returns its absolute location.
//
// Rejected (SECURITY): empty paths, traversal outside the root,
// protected directories, and disallowed extensions.
func (w *FileWriter) Resolve(path string) (string, error) {
	const op = "docstore.FileWriter.Resolve"

	if strings.TrimSpace(path) == "" {
		return "", fault.New(fault.CodeSecurity, op, "path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return "", fault.New(fault.CodeSecurity, op, "path %q contains directory traversal", path)
	}

	clean := filepath.Clean(path)
	abs := clean
	if !filepath.IsAbs(clean) {
		abs = filepath.Join(w.root, clean)
	}

	rel, err := filepath.Rel(w.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fault.New(fault.CodeSecurity, op, "path %q escapes the workspace root", path)
	}

	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if _, protected := protectedDirs[part]; protected {
			return "", fault.New(fault.CodeSecurity, op, "path %q targets protected directory %q", path, part)
		}
	}

	ext := strings.ToLower(filepath.Ext(rel))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", fault.New(fault.CodeSecurity, op, "file extension %q is not allowed", ext)
	}

	return abs, nil
}

// Read returns the current content of a workspace file and whether it
// exists. Policy checks apply to reads as well so a step can never be
// fed protected content.
func (w *FileWriter) Read(ctx context.Context, path string) (string, bool, error) {
	const op = "docstore.FileWriter.Read"

	abs, err := w.Resolve(path)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fault.Wrap(fault.CodeFilesystem, op, err)
	}
	return string(data), true, nil
}

// Write replaces a workspace file's content. An existing file is backed
// up first; if the write then fails, the backup is restored byte-for-byte
// and the restoration is logged. The backup is removed on success.
func (w *FileWriter) Write(ctx context.Context, path, content string) error {
	const op = "docstore.FileWriter.Write"

	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}

	backup := abs + backupSuffix
	original, err := os.ReadFile(abs)
	hadOriginal := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}
	if hadOriginal {
		if err := w.writeFile(backup, original, 0644); err != nil {
			return fault.Wrap(fault.CodeFilesystem, op, fmt.Errorf("backup failed: %w", err))
		}
	}

	if err := w.writeFile(abs, []byte(content), 0644); err != nil {
		if hadOriginal {
			if restoreErr := os.WriteFile(abs, original, 0644); restoreErr != nil {
				w.logger.Error("restore from backup failed",
					zap.String("path", abs),
					zap.Error(restoreErr),
				)
			} else {
				w.logger.Warn("write failed, restored original from backup",
					zap.String("path", abs),
				)
			}
		}
		return fault.Wrap(fault.CodeFilesystem, op, err)
	}

	if hadOriginal {
		if err := os.Remove(backup); err != nil {
			w.logger.Warn("failed to remove backup", zap.String("path", backup), zap.Error(err))
		}
	}

	return nil
}

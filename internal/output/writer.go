// Package output writes the final text artifact of a run.
package output

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// Storage reports whether a path lies inside the session state directory
type Storage interface {
	Contains(path string) bool
}

// Writer is a best-effort text writer. Failures are logged, never returned,
// so a completed run is not failed by its output file.
type Writer struct {
	storage Storage
	workDir string
	log     *zap.Logger

	mkdirAll  func(path string, perm os.FileMode) error
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewWriter creates a writer. Fallback files land in workDir, or the
// process working directory when empty.
func NewWriter(storage Storage, workDir string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		storage:   storage,
		workDir:   workDir,
		log:       log,
		mkdirAll:  os.MkdirAll,
		writeFile: os.WriteFile,
	}
}

// Write stores content at path and returns where it was written, or "" when
// nothing was written.
func (w *Writer) Write(path, content string) string {
	if path == "" {
		return ""
	}
	if strings.TrimSpace(content) == "" {
		w.log.Info("Output skipped, no content to save")
		return ""
	}
	target, err := filepath.Abs(path)
	if err != nil {
		w.log.Warn("Output skipped, bad path", zap.String("path", path), zap.Error(err))
		return ""
	}
	if w.storage != nil && w.storage.Contains(target) {
		w.log.Warn("Output skipped, refusing to write inside session storage", zap.String("path", target))
		return ""
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	err = w.put(target, content)
	if err == nil {
		w.log.Info("Saved output", zap.String("path", target))
		return target
	}
	if !IsPermission(err) {
		w.log.Warn("Output write failed, run completed anyway", zap.String("path", target), zap.Error(err))
		return ""
	}

	fallback := w.fallbackPath(target)
	if fallback == "" {
		w.log.Warn("Output write failed and fallback is inside session storage", zap.String("path", target), zap.Error(err))
		return ""
	}
	if ferr := w.put(fallback, content); ferr != nil {
		w.log.Warn("Output fallback failed, run completed anyway",
			zap.String("path", target), zap.NamedError("original", err), zap.Error(ferr))
		return ""
	}
	w.log.Info("Saved output to fallback", zap.String("path", fallback), zap.NamedError("original", err))
	return fallback
}

func (w *Writer) put(path, content string) error {
	if err := w.mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return w.writeFile(path, []byte(content), 0o644)
}

// fallbackPath is <workDir>/<stem>.fallback<ext>, or "" when that would land
// inside session storage
func (w *Writer) fallbackPath(target string) string {
	dir := w.workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = wd
	}
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(filepath.Base(target), ext)
	fallback, err := filepath.Abs(filepath.Join(dir, stem+".fallback"+ext))
	if err != nil {
		return ""
	}
	if w.storage != nil && w.storage.Contains(fallback) {
		return ""
	}
	return fallback
}

// IsPermission reports whether err is a permission-class failure: access
// denied, operation not permitted, or a read-only filesystem
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS)
}

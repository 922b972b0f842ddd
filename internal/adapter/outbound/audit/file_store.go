// Package audit provides security audit sinks: a JSON Lines file store with
// daily rotation, size caps and retention cleanup, and a log-backed store.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/audit"
)

// auditFilePattern matches audit log filenames: audit-YYYY-MM-DD.log or audit-YYYY-MM-DD-N.log
var auditFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// parseAuditFilename returns the date and suffix of an audit filename.
func parseAuditFilename(name string) (date string, suffix int, ok bool) {
	m := auditFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		suffix = n
	}
	return m[1], suffix, true
}

// FileConfig holds configuration for the file-based audit store.
type FileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string
	// RetentionDays is the number of days to keep audit files (default 30).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
	// CleanupInterval is how often retention runs (default 1h).
	CleanupInterval time.Duration
}

// FileStore implements audit.Store as JSON Lines files, one per UTC day.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFileStore creates the directory if needed, opens today's file, runs
// retention once and starts the periodic cleanup goroutine. Close stops it.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	return newFileStore(cfg, logger, time.Now)
}

func newFileStore(cfg FileConfig, logger *slog.Logger, now func() time.Time) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Create directory with restricted permissions
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		now:           now,
		logger:        logger,
		stop:          make(chan struct{}),
	}

	today := now().UTC().Format(time.DateOnly)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.runCleanup()

	s.wg.Add(1)
	go s.cleanupLoop(cfg.CleanupInterval)

	return s, nil
}

// Append writes events as JSON lines, rotating by event date and file size.
func (s *FileStore) Append(ctx context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit store closed")
	}

	for _, e := range events {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		date := ts.UTC().Format(time.DateOnly)

		switch {
		case date != s.currentDate:
			if err := s.rotateLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		case s.currentSize >= s.maxFileSize:
			if err := s.rotateLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit event: %w", err)
		}
		s.currentSize += int64(n)
	}
	return nil
}

// Close stops the cleanup goroutine, syncs and closes the current file.
// Safe to call multiple times.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	f := s.currentFile
	s.currentFile = nil
	s.mu.Unlock()

	s.wg.Wait()

	if f == nil {
		return nil
	}
	_ = f.Sync()
	return f.Close()
}

func filename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", date)
	}
	return fmt.Sprintf("audit-%s-%d.log", date, suffix)
}

// highestSuffix returns the highest existing suffix for date, or 0 if none.
func (s *FileStore) highestSuffix(date string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		d, suffix, ok := parseAuditFilename(e.Name())
		if ok && d == date && suffix > highest {
			highest = suffix
		}
	}
	return highest
}

// openLocked opens (appending) the file for date and suffix.
// Must be called with s.mu held or before the store is shared.
func (s *FileStore) openLocked(date string, suffix int) error {
	name := filename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat file %s: %w", name, err)
	}
	s.currentFile = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

// rotateLocked closes the current file and opens date/suffix.
// Must be called with s.mu held.
func (s *FileStore) rotateLocked(date string, suffix int) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}
	return s.openLocked(date, suffix)
}

// runCleanup deletes audit files older than the retention period.
func (s *FileStore) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		date, _, ok := parseAuditFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse(time.DateOnly, date)
		if err != nil || !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Error("audit cleanup: failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// Compile-time interface verification.
var _ audit.Store = (*FileStore)(nil)

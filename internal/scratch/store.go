package scratch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/textern/internal/log"
)

// BackupRetention is how long backup copies survive before a sweep removes them.
const BackupRetention = 24 * time.Hour

// maxPrefixLen caps the escaped URL part of a file name so names stay well below NAME_MAX.
const maxPrefixLen = 128

var (
	// ErrNotFound is returned for names or paths that are not active sessions.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate is returned when a freshly built name is already taken.
	ErrDuplicate = errors.New("duplicate session file name")
)

// CleanupReport summarizes a backup retention sweep.
type CleanupReport struct {
	DeletedFiles int
}

// Store owns the private scratch directory and the session registry.
// All methods are safe for concurrent use; each holds the store lock for its
// whole duration, including the file I/O it performs.
type Store struct {
	mu        sync.Mutex
	dir       string
	backupDir string
	sessions  map[string]any // relative name -> opaque session value
	opened    int

	now      func() time.Time
	newToken func() string
	logger   *slog.Logger
}

// DefaultParent returns $XDG_RUNTIME_DIR/textern when XDG_RUNTIME_DIR is set and the
// directory can be created, and "" (the system temp dir) otherwise.
func DefaultParent() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return ""
	}
	parent := filepath.Join(runtimeDir, "textern")
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return ""
	}
	return parent
}

// New creates a scratch directory named textern-<random> under parent.
// An empty parent means DefaultParent.
func New(parent string) (*Store, error) {
	if parent == "" {
		parent = DefaultParent()
	}
	dir, err := os.MkdirTemp(parent, "textern-")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		sessions: make(map[string]any),
		now:      time.Now,
		newToken: uuid.NewString,
		logger:   log.WithComponent("scratch"),
	}
	s.logger.Debug("scratch directory created", "dir", dir)
	return s, nil
}

// Dir returns the absolute path of the scratch directory.
func (s *Store) Dir() string {
	return s.dir
}

// New creates the backing file for a session, writes text into it and registers
// opaque under the file's relative name. It returns the absolute path.
//
// The session is registered before the content is written, so the close-write
// notification caused by the initial write always finds it.
func (s *Store) New(text, sourceURL, extension string, opaque any) (string, error) {
	if strings.ContainsAny(extension, `/\`+"\x00") {
		return "", fmt.Errorf("invalid file extension %q", extension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	relName := escapeURL(sourceURL) + "-" + s.newToken()
	if extension != "" {
		relName += "." + extension
	}
	if _, taken := s.sessions[relName]; taken {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, relName)
	}

	absPath := filepath.Join(s.dir, relName)
	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrDuplicate, relName)
		}
		return "", fmt.Errorf("create session file: %w", err)
	}

	s.sessions[relName] = opaque
	s.opened++

	_, werr := io.WriteString(f, text)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		delete(s.sessions, relName)
		_ = os.Remove(absPath)
		return "", fmt.Errorf("write session file: %w", err)
	}

	s.logger.Debug("session file created", "file", relName, "bytes", len(text))
	return absPath, nil
}

// Delete forgets the session backed by absPath and unlinks its file.
func (s *Store) Delete(absPath string) error {
	relName := filepath.Base(absPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[relName]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, relName)
	}
	delete(s.sessions, relName)

	if err := os.Remove(filepath.Join(s.dir, relName)); err != nil {
		return fmt.Errorf("remove session file: %w", err)
	}
	s.logger.Debug("session file removed", "file", relName)
	return nil
}

// Get returns the current content of a session file and its opaque value.
func (s *Store) Get(relName string) (string, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opaque, ok := s.sessions[relName]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, relName)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, relName))
	if err != nil {
		return "", nil, fmt.Errorf("read session file: %w", err)
	}
	return string(data), opaque, nil
}

// Contains reports whether relName is an active session.
func (s *Store) Contains(relName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[relName]
	return ok
}

// Empty reports whether there are no active sessions.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) == 0
}

// Drained reports whether at least one session was opened and all of them are gone.
func (s *Store) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened > 0 && len(s.sessions) == 0
}

// Backup copies a non-empty session file into the backup directory under the same
// name. It does nothing when backups are disabled or the file is empty; editors
// commonly truncate the file before writing, and that intermediate state is not
// worth keeping.
func (s *Store) Backup(relName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backupDir == "" {
		return nil
	}
	if _, ok := s.sessions[relName]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, relName)
	}

	src := filepath.Join(s.dir, relName)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat session file: %w", err)
	}
	if info.Size() == 0 {
		s.logger.Debug("skipping backup of empty file", "file", relName)
		return nil
	}

	if err := copyFile(src, filepath.Join(s.backupDir, relName)); err != nil {
		return fmt.Errorf("backup %s: %w", relName, err)
	}
	s.logger.Debug("backup written", "file", relName, "dir", s.backupDir)
	return nil
}

// BackupDir returns the configured backup directory, "" when disabled.
func (s *Store) BackupDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupDir
}

// UpdateBackupDir reconfigures the backup directory. An empty path disables
// backups. Otherwise the directory is created if needed and regular files older
// than BackupRetention are removed. Failing to create the directory is an error;
// problems during the sweep are only logged.
func (s *Store) UpdateBackupDir(path string) (CleanupReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backupDir = path
	if path == "" {
		return CleanupReport{}, nil
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return CleanupReport{}, fmt.Errorf("create backup directory: %w", err)
	}
	return s.sweepLocked(), nil
}

func (s *Store) sweepLocked() CleanupReport {
	report := CleanupReport{}

	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		s.logger.Warn("backup sweep: read directory failed", "dir", s.backupDir, "error", err)
		return report
	}

	cutoff := s.now().Add(-BackupRetention)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.backupDir, entry.Name())); err != nil {
			s.logger.Warn("backup sweep: remove failed", "file", entry.Name(), "error", err)
			continue
		}
		report.DeletedFiles++
	}
	if report.DeletedFiles > 0 {
		s.logger.Info("expired backups removed", "dir", s.backupDir, "count", report.DeletedFiles)
	}
	return report
}

// Close removes the scratch directory and everything still in it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}
	s.logger.Debug("scratch directory removed", "dir", s.dir)
	return nil
}

// escapeURL percent-encodes everything outside the unreserved set and trims the
// result to maxPrefixLen without splitting an escape triplet.
func escapeURL(raw string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(raw), "+", "%20")
	if len(escaped) <= maxPrefixLen {
		return escaped
	}
	cut := maxPrefixLen
	if i := strings.LastIndexByte(escaped[cut-2:cut], '%'); i >= 0 {
		cut = cut - 2 + i
	}
	return escaped[:cut]
}

// copyFile writes dst through a temporary sibling and renames it into place, so a
// reader never observes a partial backup.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

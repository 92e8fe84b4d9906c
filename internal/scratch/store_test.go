package scratch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewCreatesPrivateScratchDir(t *testing.T) {
	parent := t.TempDir()
	s, err := New(parent)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, parent, filepath.Dir(s.Dir()))
	assert.True(t, strings.HasPrefix(filepath.Base(s.Dir()), "textern-"))

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestDefaultParent(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	assert.Equal(t, filepath.Join(runtimeDir, "textern"), DefaultParent())

	info, err := os.Stat(filepath.Join(runtimeDir, "textern"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, "", DefaultParent())

	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, nil, 0o600))
	t.Setenv("XDG_RUNTIME_DIR", notADir)
	assert.Equal(t, "", DefaultParent(), "unusable runtime dir falls back to the system temp dir")
}

func TestStoreNewWritesContentAndRegisters(t *testing.T) {
	s := newTestStore(t)

	absPath, err := s.New("héllo\n", "https://example.com/a b?q=1", "txt", "id-1")
	require.NoError(t, err)

	assert.Equal(t, s.Dir(), filepath.Dir(absPath))
	rel := filepath.Base(absPath)
	assert.True(t, strings.HasPrefix(rel, "https%3A%2F%2Fexample.com%2Fa%20b%3Fq%3D1-"), rel)
	assert.True(t, strings.HasSuffix(rel, ".txt"), rel)

	data, err := os.ReadFile(absPath)
	require.NoError(t, err)
	assert.Equal(t, "héllo\n", string(data))

	info, err := os.Stat(absPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	text, opaque, err := s.Get(rel)
	require.NoError(t, err)
	assert.Equal(t, "héllo\n", text)
	assert.Equal(t, "id-1", opaque)
	assert.True(t, s.Contains(rel))
	assert.False(t, s.Empty())
}

func TestStoreNewNamesAreUnique(t *testing.T) {
	s := newTestStore(t)

	seen := make(map[string]bool)
	for i := range 100 {
		absPath, err := s.New("x", "http://x/y", "txt", i)
		require.NoError(t, err)
		rel := filepath.Base(absPath)
		assert.False(t, seen[rel], "duplicate name %s", rel)
		seen[rel] = true
	}
}

func TestStoreNewDuplicateToken(t *testing.T) {
	s := newTestStore(t)
	s.newToken = func() string { return "fixed" }

	_, err := s.New("a", "http://x/y", "txt", 1)
	require.NoError(t, err)

	_, err = s.New("b", "http://x/y", "txt", 2)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestStoreNewExtension(t *testing.T) {
	s := newTestStore(t)
	s.newToken = func() string { return "tok" }

	absPath, err := s.New("", "u", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "u-tok", filepath.Base(absPath))

	_, err = s.New("", "u", "../evil", 2)
	assert.Error(t, err)
}

func TestEscapeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "unreserved kept", in: "aZ09-_.~", want: "aZ09-_.~"},
		{name: "space is %20", in: "a b", want: "a%20b"},
		{name: "plus escaped", in: "a+b", want: "a%2Bb"},
		{name: "slashes escaped", in: "http://x/y", want: "http%3A%2F%2Fx%2Fy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeURL(tt.in))
		})
	}
}

func TestEscapeURLTruncatesOnTripletBoundary(t *testing.T) {
	for pad := range 3 {
		in := strings.Repeat("a", pad) + strings.Repeat("/", 60)
		got := escapeURL(in)
		assert.LessOrEqual(t, len(got), maxPrefixLen)
		if i := strings.LastIndexByte(got, '%'); i >= 0 {
			assert.Equal(t, len(got)-3, i, "escape triplet split in %q", got)
		}
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	absPath, err := s.New("x", "u", "txt", 1)
	require.NoError(t, err)
	require.NoError(t, s.Delete(absPath))

	_, err = os.Stat(absPath)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, s.Empty())
	assert.True(t, s.Drained())

	assert.ErrorIs(t, s.Delete(absPath), ErrNotFound)
	_, _, err = s.Get(filepath.Base(absPath))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDrained(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.Empty())
	assert.False(t, s.Drained(), "a store that never held a session is not drained")

	a, err := s.New("a", "u", "txt", 1)
	require.NoError(t, err)
	b, err := s.New("b", "u", "txt", 2)
	require.NoError(t, err)

	require.NoError(t, s.Delete(a))
	assert.False(t, s.Drained())
	require.NoError(t, s.Delete(b))
	assert.True(t, s.Drained())
}

func TestStoreBackup(t *testing.T) {
	s := newTestStore(t)
	backupDir := filepath.Join(t.TempDir(), "backups")

	absPath, err := s.New("", "u", "txt", 1)
	require.NoError(t, err)
	rel := filepath.Base(absPath)
	backupPath := filepath.Join(backupDir, rel)

	// disabled: never copies
	require.NoError(t, os.WriteFile(absPath, []byte("content"), 0o600))
	require.NoError(t, s.Backup(rel))
	assert.NoDirExists(t, backupDir)

	_, err = s.UpdateBackupDir(backupDir)
	require.NoError(t, err)
	assert.DirExists(t, backupDir)

	// empty file: skipped
	require.NoError(t, os.WriteFile(absPath, nil, 0o600))
	require.NoError(t, s.Backup(rel))
	assert.NoFileExists(t, backupPath)

	// non-empty: copied, then overwritten
	require.NoError(t, os.WriteFile(absPath, []byte("first"), 0o600))
	require.NoError(t, s.Backup(rel))
	got, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	require.NoError(t, os.WriteFile(absPath, []byte("second"), 0o600))
	require.NoError(t, s.Backup(rel))
	got, err = os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	// truncation after a real save keeps the last good copy
	require.NoError(t, os.WriteFile(absPath, nil, 0o600))
	require.NoError(t, s.Backup(rel))
	got, err = os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	assert.ErrorIs(t, s.Backup("unknown.txt"), ErrNotFound)

	// disabling again
	_, err = s.UpdateBackupDir("")
	require.NoError(t, err)
	assert.Equal(t, "", s.BackupDir())
}

func TestUpdateBackupDirRetentionSweep(t *testing.T) {
	s := newTestStore(t)
	backupDir := t.TempDir()

	now := time.Now().Truncate(time.Second)
	s.now = func() time.Time { return now }

	files := map[string]time.Time{
		"young.txt":   now.Add(-time.Hour),
		"exact.txt":   now.Add(-BackupRetention),
		"old.txt":     now.Add(-BackupRetention - time.Second),
		"ancient.txt": now.Add(-30 * 24 * time.Hour),
	}
	for name, mtime := range files {
		path := filepath.Join(backupDir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	oldDir := filepath.Join(backupDir, "old-subdir")
	require.NoError(t, os.Mkdir(oldDir, 0o700))
	require.NoError(t, os.Chtimes(oldDir, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))

	report, err := s.UpdateBackupDir(backupDir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeletedFiles)

	assert.FileExists(t, filepath.Join(backupDir, "young.txt"))
	assert.FileExists(t, filepath.Join(backupDir, "exact.txt"))
	assert.NoFileExists(t, filepath.Join(backupDir, "old.txt"))
	assert.NoFileExists(t, filepath.Join(backupDir, "ancient.txt"))
	assert.DirExists(t, oldDir, "only regular files are swept")
}

func TestUpdateBackupDirCreateFailure(t *testing.T) {
	s := newTestStore(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := s.UpdateBackupDir(filepath.Join(blocker, "backups"))
	assert.Error(t, err)
}

func TestStoreClose(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.New("x", "u", "txt", 1)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NoDirExists(t, s.Dir())
}

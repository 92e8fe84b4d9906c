//go:build linux

package host

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/textern/internal/protocol"
	"github.com/mattjoyce/textern/internal/scratch"
	"github.com/mattjoyce/textern/internal/watch"
)

func newWatchedHarness(t *testing.T) *harness {
	t.Helper()
	store, err := scratch.New(t.TempDir())
	require.NoError(t, err)
	w, err := watch.New(store.Dir())
	require.NoError(t, err)

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	stdout := &syncBuffer{}
	return &harness{
		store:  store,
		stdin:  pw,
		frames: protocol.NewWriter(pw),
		stdout: stdout,
		host:   New(store, w, protocol.NewReader(pr), protocol.NewWriter(stdout), Options{}),
	}
}

// textUpdates returns the text of every text_update before the final death_notice.
func textUpdates(t *testing.T, msgs []protocol.Envelope, wantID string) []string {
	t.Helper()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, protocol.TypeDeathNotice, last.Type)
	assert.Equal(t, wantID, payloadID(t, last))

	var texts []string
	for _, env := range msgs[:len(msgs)-1] {
		require.Equal(t, protocol.TypeTextUpdate, env.Type)
		var update protocol.TextUpdate
		require.NoError(t, json.Unmarshal(env.Payload, &update))
		assert.Equal(t, wantID, string(update.ID))
		texts = append(texts, update.Text)
	}
	return texts
}

func TestRunForwardsEditorWrites(t *testing.T) {
	requireTools(t, "sh", "sleep")
	h := newWatchedHarness(t)
	done := h.start()

	backups := filepath.Join(t.TempDir(), "backups")
	msg := newText(`["sh", "-c", "sleep 0.3; printf edited > \"$1\"; sleep 0.3", "sh", "%s"]`)
	msg.ID = json.RawMessage(`"tab-7"`)
	msg.Prefs.BackupDir = backups
	h.sendNewText(t, msg)

	require.NoError(t, wait(t, done))

	texts := textUpdates(t, h.messages(t), `"tab-7"`)
	assert.Equal(t, []string{"hello", "edited"}, texts, "initial write is echoed, then the edit")

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".txt", filepath.Ext(entries[0].Name()))
	data, err := os.ReadFile(filepath.Join(backups, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "edited", string(data))
}

// An editor that saves immediately may have its close-write merged with the
// store's initial one; the saved content must still reach the extension.
func TestRunForwardsImmediateSave(t *testing.T) {
	requireTools(t, "sh", "sleep")

	for i := 0; i < 10; i++ {
		h := newWatchedHarness(t)
		done := h.start()

		h.sendNewText(t, newText(`["sh", "-c", "printf edited > \"$1\"; sleep 0.3", "sh", "%s"]`))
		require.NoError(t, wait(t, done))

		texts := textUpdates(t, h.messages(t), "1")
		require.NotEmpty(t, texts, "run %d: no text_update", i)
		assert.Equal(t, "edited", texts[len(texts)-1], "run %d: saved content lost", i)
		for _, text := range texts {
			assert.Contains(t, []string{"hello", "edited"}, text, "run %d", i)
		}
	}
}

func TestRunForwardsEveryWrite(t *testing.T) {
	requireTools(t, "sh", "sleep")
	h := newWatchedHarness(t)
	done := h.start()

	script := `sleep 0.3; printf one > \"$1\"; sleep 0.3; printf two > \"$1\"; sleep 0.3`
	h.sendNewText(t, newText(`["sh", "-c", "`+script+`", "sh", "%s"]`))
	require.NoError(t, wait(t, done))

	texts := textUpdates(t, h.messages(t), "1")
	assert.Equal(t, []string{"hello", "one", "two"}, texts)
}

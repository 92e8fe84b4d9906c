// Package host connects the extension's message stream to the scratch store, the
// editor supervisor and the scratch directory watcher.
package host

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/textern/internal/editor"
	"github.com/mattjoyce/textern/internal/log"
	"github.com/mattjoyce/textern/internal/protocol"
	"github.com/mattjoyce/textern/internal/scratch"
	"github.com/mattjoyce/textern/internal/watch"
)

// Emitter sends outbound messages to the extension. protocol.Writer implements it.
type Emitter interface {
	editor.Emitter
	TextUpdate(id json.RawMessage, text string) error
}

// MessageReader yields inbound envelopes. protocol.Reader implements it.
type MessageReader interface {
	ReadMessage() (protocol.Envelope, error)
}

// Source is a closable stream of write-closed file names in the scratch directory.
type Source interface {
	watch.Source
	io.Closer
}

// Options tune host behavior that the extension does not control.
type Options struct {
	// DefaultKillTimeout applies when a new_text omits kill_editors_timeout.
	DefaultKillTimeout time.Duration
}

// Host owns one native-messaging session with the browser.
type Host struct {
	store      *scratch.Store
	supervisor *editor.Supervisor
	source     Source
	reader     MessageReader
	emit       Emitter
	opts       Options
	logger     *slog.Logger

	// events serializes everything that emits per-session messages or closes
	// sessions, so a text_update is never sent after its session's death_notice.
	events sync.Mutex
}

// New creates a Host. The store's directory must already be watched by source.
func New(store *scratch.Store, source Source, reader MessageReader, emit Emitter, opts Options) *Host {
	if opts.DefaultKillTimeout <= 0 {
		opts.DefaultKillTimeout = editor.DefaultKillTimeout
	}
	return &Host{
		store:      store,
		supervisor: editor.NewSupervisor(store, emit),
		source:     source,
		reader:     reader,
		emit:       emit,
		opts:       opts,
		logger:     log.WithComponent("host"),
	}
}

// Run serves the extension until standard input ends or every opened session has
// been closed. On return the watcher is closed, running editors are terminated if
// the extension allowed it, and the scratch directory is removed.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.logger.Info("host started", "scratch_dir", h.store.Dir())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := h.stdinLoop(gctx)
		if cerr := h.source.Close(); cerr != nil {
			h.logger.Warn("failed to close watcher", "error", cerr)
		}
		return err
	})
	g.Go(func() error {
		err := h.watchLoop(gctx)
		cancel()
		return err
	})
	runErr := g.Wait()

	h.supervisor.TerminateAll()
	if err := h.store.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if runErr != nil {
		h.logger.Error("host stopped", "error", runErr)
		return runErr
	}
	h.logger.Info("host stopped")
	return nil
}

type inboundFrame struct {
	env protocol.Envelope
	err error
}

// stdinLoop handles inbound messages. Frames are read on a separate goroutine so
// the loop can stop on ctx while a read is still blocked.
func (h *Host) stdinLoop(ctx context.Context) error {
	frames := make(chan inboundFrame)
	go func() {
		for {
			env, err := h.reader.ReadMessage()
			select {
			case frames <- inboundFrame{env: env, err: err}:
			case <-ctx.Done():
				// The host is stopping: a frame read at this point is dropped and
				// a read still blocked on stdin ends with the process.
				if err == nil {
					h.logger.Debug("dropping message received during shutdown", "type", env.Type)
				}
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var frame inboundFrame
		select {
		case <-ctx.Done():
			return nil
		case frame = <-frames:
		}

		if errors.Is(frame.err, io.EOF) {
			h.logger.Info("standard input closed")
			return nil
		}
		if frame.err != nil {
			return fmt.Errorf("read message: %w", frame.err)
		}

		if err := h.dispatch(frame.env); err != nil {
			return err
		}
		if err := h.poll(); err != nil {
			return err
		}
		if h.store.Drained() {
			h.logger.Info("all sessions closed")
			return nil
		}
	}
}

func (h *Host) dispatch(env protocol.Envelope) error {
	msg, err := protocol.Decode(env)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case protocol.NewText:
		return h.handleNewText(m)
	default:
		return fmt.Errorf("%w: no handler for %T", protocol.ErrUnknownType, msg)
	}
}

func (h *Host) handleNewText(msg protocol.NewText) error {
	logger := log.WithSession(string(msg.ID)).With("component", "host")

	// The initial write is reported back like any other, which gives the
	// extension immediate feedback that the editor session is live.
	absPath, err := h.store.New(msg.Text, msg.URL, msg.Prefs.Extension, msg.ID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	logger.Info("session opened", "file", filepath.Base(absPath), "url", msg.URL)

	if _, err := h.store.UpdateBackupDir(msg.Prefs.BackupDir); err != nil {
		return err
	}

	h.supervisor.ConfigureTermination(msg.Prefs.KillEditorsAllow,
		killTimeout(msg.Prefs.KillEditorsTimeout, h.opts.DefaultKillTimeout))

	tokens, err := editor.ParseCommand(msg.Prefs.Editor)
	if err != nil {
		logger.Warn("rejecting session with invalid editor command", "error", err)
		return h.abandon(absPath, msg.ID, fmt.Sprintf("invalid editor command: %v", err))
	}

	line, column := editor.OffsetToLineColumn(msg.Text, msg.Caret)
	args := editor.ExpandArgs(tokens, absPath, line, column)

	if err := h.supervisor.Launch(absPath, msg.ID, args); err != nil {
		if errors.Is(err, editor.ErrLaunch) {
			logger.Warn("session left without editor", "error", err)
			return nil
		}
		return err
	}
	return nil
}

// abandon reports msg for a session that cannot get an editor and closes it.
func (h *Host) abandon(absPath string, id json.RawMessage, msg string) error {
	h.events.Lock()
	defer h.events.Unlock()

	if err := h.emit.Error(msg); err != nil {
		return err
	}
	if err := h.emit.DeathNotice(id); err != nil {
		return err
	}
	return h.store.Delete(absPath)
}

func (h *Host) watchLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		names, err := h.source.NextBatch()
		if errors.Is(err, watch.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("watch scratch directory: %w", err)
		}

		for _, name := range names {
			if err := h.forward(name); err != nil {
				return err
			}
		}
		if err := h.poll(); err != nil {
			return err
		}
		if h.store.Drained() {
			h.logger.Info("all sessions closed")
			return nil
		}
	}
	return nil
}

// forward sends the current content of a written session file and backs it up.
func (h *Host) forward(name string) error {
	h.events.Lock()
	defer h.events.Unlock()

	text, opaque, err := h.store.Get(name)
	if errors.Is(err, scratch.ErrNotFound) {
		h.logger.Debug("ignoring change to unknown file", "file", name)
		return nil
	}
	if err != nil {
		return err
	}
	id, _ := opaque.(json.RawMessage)

	if err := h.emit.TextUpdate(id, text); err != nil {
		return err
	}
	digest := blake3.Sum256([]byte(text))
	log.WithSession(string(id)).Debug("text update sent",
		"component", "host",
		"bytes", len(text),
		"blake3", hex.EncodeToString(digest[:]),
	)

	if err := h.store.Backup(name); err != nil {
		h.logger.Warn("backup failed", "file", name, "error", err)
	}
	return nil
}

// maxKillTimeout is the largest grace period representable as a time.Duration.
const maxKillTimeout = time.Duration(math.MaxInt64)

// killTimeout converts the extension's kill_editors_timeout, in seconds, into a
// grace period. Absent or NaN values use fallback; the result is clamped into
// [0, maxKillTimeout] before conversion.
func killTimeout(seconds *float64, fallback time.Duration) time.Duration {
	if seconds == nil || math.IsNaN(*seconds) {
		return fallback
	}
	switch {
	case *seconds <= 0:
		return 0
	case *seconds >= maxKillTimeout.Seconds():
		return maxKillTimeout
	}
	return time.Duration(*seconds * float64(time.Second))
}

func (h *Host) poll() error {
	h.events.Lock()
	defer h.events.Unlock()
	return h.supervisor.Poll()
}

package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/textern/internal/log"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/mattjoyce/textern/internal/editor Emitter,SessionCloser

// DefaultKillTimeout is the termination grace period used until configured otherwise.
const DefaultKillTimeout = time.Second

// ErrLaunch is returned by Launch when the editor could not be started. The error
// has already been reported to the extension.
var ErrLaunch = errors.New("editor launch failed")

// Emitter delivers session messages to the extension.
type Emitter interface {
	Error(msg string) error
	DeathNotice(id json.RawMessage) error
}

// SessionCloser forgets a session and removes its backing file.
type SessionCloser interface {
	Delete(absPath string) error
}

type editorProcess struct {
	name string
	id   json.RawMessage
	cmd  *exec.Cmd

	// done is closed once Wait has returned; exitCode is valid after that.
	done     chan struct{}
	exitCode int
}

func (p *editorProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor runs one editor per session, keyed by the session's absolute file path.
type Supervisor struct {
	mu          sync.Mutex
	editors     map[string]*editorProcess
	sessions    SessionCloser
	emit        Emitter
	killAllowed bool
	killTimeout time.Duration
	logger      *slog.Logger
}

// NewSupervisor creates a Supervisor that closes finished sessions through sessions
// and reports them through emit.
func NewSupervisor(sessions SessionCloser, emit Emitter) *Supervisor {
	return &Supervisor{
		editors:     make(map[string]*editorProcess),
		sessions:    sessions,
		emit:        emit,
		killTimeout: DefaultKillTimeout,
		logger:      log.WithComponent("editor"),
	}
}

// Launch starts args[0] with the remaining args for the session backed by absPath.
// The editor's stdin, stdout and stderr are bound to a null device opened for this
// launch only. When the process cannot be started an error message naming the
// editor is sent and ErrLaunch is returned; no editor is registered.
func (s *Supervisor) Launch(absPath string, id json.RawMessage, args []string) error {
	if len(args) == 0 {
		return errors.New("launch: empty command")
	}
	name := args[0]
	logger := log.WithSession(string(id)).With("component", "editor", "editor", name)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(name, args[1:]...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		logger.Warn("editor failed to start", "error", err)
		if emitErr := s.emit.Error(fmt.Sprintf("could not find editor '%s'", name)); emitErr != nil {
			return emitErr
		}
		return fmt.Errorf("%w: %s: %v", ErrLaunch, name, err)
	}

	p := &editorProcess{
		name: name,
		id:   id,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				logger.Warn("unexpected wait error", "error", err)
			}
		}
		p.exitCode = cmd.ProcessState.ExitCode()
		close(p.done)
	}()

	s.mu.Lock()
	s.editors[absPath] = p
	s.mu.Unlock()

	logger.Info("editor launched", "pid", cmd.Process.Pid, "args", args[1:])
	return nil
}

// Poll reaps every editor that has exited without blocking on running ones. For
// each exited editor it reports a non-zero exit status as an error, then sends the
// death notice and closes the session.
func (s *Supervisor) Poll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for absPath, p := range s.editors {
		if !p.exited() {
			continue
		}
		delete(s.editors, absPath)

		logger := log.WithSession(string(p.id)).With("component", "editor", "editor", p.name)
		logger.Info("editor exited", "exit_code", p.exitCode)

		if p.exitCode != 0 {
			if err := s.emit.Error(fmt.Sprintf("editor '%s' did not exit successfully", p.name)); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.emit.DeathNotice(p.id); err != nil {
			errs = append(errs, err)
		}
		if err := s.sessions.Delete(absPath); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of tracked editors, running or awaiting a Poll.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.editors)
}

// ConfigureTermination records whether TerminateAll may signal editors and how long
// it waits between SIGTERM and SIGKILL.
func (s *Supervisor) ConfigureTermination(allowed bool, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killAllowed = allowed
	s.killTimeout = max(0, timeout)
}

// TerminateAll stops editors that are still running at shutdown: SIGTERM, then up
// to the grace period for them to exit, then SIGKILL for the rest. It does nothing
// when termination is not allowed.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.killAllowed || len(s.editors) == 0 {
		return
	}

	running := make([]*editorProcess, 0, len(s.editors))
	for _, p := range s.editors {
		if p.exited() {
			continue
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn("failed to send SIGTERM", "editor", p.name, "error", err)
		}
		running = append(running, p)
	}
	if len(running) == 0 {
		return
	}
	s.logger.Info("terminating editors", "count", len(running), "grace", s.killTimeout)

	grace := time.NewTimer(s.killTimeout)
	defer grace.Stop()

waiting:
	for _, p := range running {
		select {
		case <-p.done:
		case <-grace.C:
			break waiting
		}
	}

	for _, p := range running {
		if p.exited() {
			continue
		}
		s.logger.Warn("editor did not exit after SIGTERM, sending SIGKILL", "editor", p.name)
		if err := p.cmd.Process.Kill(); err != nil {
			s.logger.Error("failed to send SIGKILL", "editor", p.name, "error", err)
			continue
		}
		<-p.done
	}
}

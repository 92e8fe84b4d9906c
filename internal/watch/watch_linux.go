//go:build linux

package watch

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/textern/internal/log"
)

// nameMax is NAME_MAX on Linux; the read buffer holds 64 maximal events.
const nameMax = 255

// Watcher delivers IN_CLOSE_WRITE events for one directory.
type Watcher struct {
	mu     sync.Mutex // held while the fd is in use
	fd     int
	buffer []byte

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error

	logger *slog.Logger
}

var _ Source = (*Watcher)(nil)

// New starts watching dir. The caller must Close the watcher.
func New(dir string) (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, dir, unix.IN_CLOSE_WRITE); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", dir, err)
	}
	return &Watcher{
		fd:     fd,
		buffer: make([]byte, 64*(unix.SizeofInotifyEvent+nameMax+1)),
		stop:   make(chan struct{}),
		logger: log.WithComponent("watch"),
	}, nil
}

// NextBatch blocks for at most pollInterval and returns the names of files closed
// after writing since the previous call. It returns an empty batch on timeout and
// ErrClosed once the watcher has been closed.
func (w *Watcher) NextBatch() ([]string, error) {
	select {
	case <-w.stop:
		return nil, ErrClosed
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fd < 0 {
		return nil, ErrClosed
	}

	for {
		pollDescriptors := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, int(pollInterval.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("poll inotify fd: %w", err)
		}
		if count == 0 {
			return nil, nil
		}

		bytesRead, err := unix.Read(w.fd, w.buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return nil, nil
			}
			return nil, fmt.Errorf("read inotify fd: %w", err)
		}
		names, overflowed := parseEvents(w.buffer[:bytesRead])
		if overflowed {
			w.logger.Warn("inotify queue overflowed; some file changes were not reported")
		}
		return names, nil
	}
}

// Close stops the watcher and releases the inotify descriptor. It waits for an
// in-flight NextBatch, which returns within pollInterval. Safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.mu.Lock()
		defer w.mu.Unlock()
		w.closeErr = unix.Close(w.fd)
		w.fd = -1
	})
	return w.closeErr
}

// parseEvents extracts names of IN_CLOSE_WRITE events from a raw inotify buffer
// and reports whether the kernel signalled a queue overflow.
//
// Inotify event layout (from inotify(7)):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, padded to alignment
//	};
func parseEvents(buffer []byte) (names []string, overflowed bool) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}

		if mask&unix.IN_Q_OVERFLOW != 0 {
			overflowed = true
		}
		if mask&unix.IN_CLOSE_WRITE != 0 && nameLength > 0 {
			nameBytes := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
			names = append(names, nullTerminatedString(nameBytes))
		}

		offset += eventSize
	}
	return names, overflowed
}

func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

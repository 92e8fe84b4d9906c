// Package watch reports files in a directory that were closed after being written.
package watch

import (
	"errors"
	"time"
)

// pollInterval bounds how long NextBatch blocks without events.
const pollInterval = 100 * time.Millisecond

var (
	// ErrClosed is returned by NextBatch after Close.
	ErrClosed = errors.New("watcher closed")
	// ErrUnsupported is returned by New on platforms without a backend.
	ErrUnsupported = errors.New("file watching is not supported on this platform")
)

// Source yields batches of file names closed after writing. A batch may be empty
// when nothing happened for a while; callers use that as a tick.
type Source interface {
	NextBatch() ([]string, error)
}

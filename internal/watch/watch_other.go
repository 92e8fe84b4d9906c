//go:build !linux

package watch

// Watcher is unavailable on this platform; New always fails.
type Watcher struct{}

func New(dir string) (*Watcher, error) {
	return nil, ErrUnsupported
}

func (w *Watcher) NextBatch() ([]string, error) {
	return nil, ErrUnsupported
}

func (w *Watcher) Close() error {
	return nil
}

package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/starford/semdex/internal/apperr"
)

// writeLock is the non-reentrant guard around every mutating operation. It
// combines an in-process flag with an advisory file lock so that a second
// process (a CLI rebuild next to a running server) is refused as well.
type writeLock struct {
	busy atomic.Bool
}

// acquire fails fast with apperr.ErrBusy. The returned release must be
// called exactly once.
func (l *writeLock) acquire(lockPath string) (func(), error) {
	if !l.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("index: another operation is running: %w", apperr.ErrBusy)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		l.busy.Store(false)
		return nil, fmt.Errorf("index: create state dir: %w", err)
	}
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		l.busy.Store(false)
		return nil, fmt.Errorf("index: lock %s: %w", lockPath, err)
	}
	if !ok {
		l.busy.Store(false)
		return nil, fmt.Errorf("index: locked by another process: %w", apperr.ErrBusy)
	}
	return func() {
		_ = fl.Unlock()
		l.busy.Store(false)
	}, nil
}

func (l *writeLock) held() bool { return l.busy.Load() }

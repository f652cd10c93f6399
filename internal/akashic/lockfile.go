package akashic

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrLockTimeout indicates the sidecar lock could not be acquired within
// the configured window.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// fileLock is a cross-process advisory lock implemented as a sidecar file
// created with O_EXCL. Appends from concurrent processes serialize on it;
// it is held only around the append critical section.
type fileLock struct {
	path string
}

func newFileLock(target string) *fileLock {
	return &fileLock{path: target + ".lock"}
}

// acquire polls until the sidecar can be created exclusively or the
// timeout elapses.
func (l *fileLock) acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s held for over %s", ErrLockTimeout, l.path, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// release removes the sidecar. Safe to call when the file is already gone.
func (l *fileLock) release() {
	_ = os.Remove(l.path)
}

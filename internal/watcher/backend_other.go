//go:build !linux

package watcher

import (
	"fmt"
	"runtime"
)

// newInotifyBackend is a stub that should never be called on non-Linux platforms.
// It exists only to satisfy the compiler when FactoryFor references it.
func newInotifyBackend(_ BackendConfig) (Backend, error) {
	return nil, fmt.Errorf("inotify backend not available on %s", runtime.GOOS)
}

package watcher

import (
	"fmt"
	"log/slog"
	"runtime"
)

// Backend is a native watch on one path. It reports raw changes through
// the callbacks given at construction.
type Backend interface {
	// SetEnabled switches event reporting on or off. A new backend starts off.
	SetEnabled(on bool)

	// Enabled reports whether the backend is still raising events. It turns
	// false on its own when the native watch stops, for example because the
	// watched directory was removed.
	Enabled() bool

	// SetRecursive extends or narrows the watch to the whole tree below the path.
	SetRecursive(on bool) error

	// Close releases the native resources. It is safe to call more than once.
	Close() error
}

// BackendConfig carries what a BackendFactory needs to start a watch.
type BackendConfig struct {
	Path      string
	Recursive bool
	Logger    *slog.Logger

	// OnEvent receives every raw change while the backend is enabled.
	OnEvent func(Event)

	// OnError receives failures of the native watch such as queue overflow.
	OnError func(error)
}

// BackendFactory opens a native watch.
type BackendFactory func(cfg BackendConfig) (Backend, error)

// BackendKind selects the native watch implementation.
type BackendKind string

// Supported backend kinds.
const (
	BackendAuto     BackendKind = "auto"
	BackendFsnotify BackendKind = "fsnotify"
	BackendInotify  BackendKind = "inotify"
)

// FactoryFor returns the factory for kind. Auto picks inotify on Linux
// and fsnotify elsewhere.
func FactoryFor(kind BackendKind) (BackendFactory, error) {
	switch kind {
	case BackendAuto, "":
		if runtime.GOOS == "linux" {
			return newInotifyBackend, nil
		}
		return newFsnotifyBackend, nil
	case BackendFsnotify:
		return newFsnotifyBackend, nil
	case BackendInotify:
		if runtime.GOOS != "linux" {
			return nil, fmt.Errorf("inotify backend not available on %s", runtime.GOOS)
		}
		return newInotifyBackend, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

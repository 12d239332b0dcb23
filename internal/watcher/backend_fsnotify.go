package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	domainerrors "github.com/listenupapp/fen/internal/errors"
)

// renameWindow is how long a rename waits for the matching create before
// it is reported as a deletion.
const renameWindow = 50 * time.Millisecond

// fsnotifyBackend implements Backend on top of fsnotify. fsnotify reports
// the two halves of a rename separately, so a Rename followed closely by a
// Create is joined into one rename event.
type fsnotifyBackend struct {
	logger  *slog.Logger
	cfg     BackendConfig
	watcher *fsnotify.Watcher

	root string
	// file is set when the watched path is a regular file; its parent
	// directory is watched and everything else is filtered out.
	file bool

	mu        sync.Mutex // protects the fields below
	recursive bool
	watched   map[string]struct{}
	rename    *pendingRename

	enabled   atomic.Bool
	stopped   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type pendingRename struct {
	path  string
	timer *time.Timer
}

// newFsnotifyBackend opens an fsnotify watch for cfg.Path.
func newFsnotifyBackend(cfg BackendConfig) (Backend, error) {
	root := filepath.Clean(cfg.Path)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &fsnotifyBackend{
		logger:  logger,
		cfg:     cfg,
		watcher: w,
		root:    root,
		file:    !info.IsDir(),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.file {
		err = b.add(filepath.Dir(root))
	} else {
		err = b.add(root)
		if err == nil && cfg.Recursive {
			b.recursive = true
			b.addTree(root)
		}
	}
	b.mu.Unlock()
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	b.wg.Add(1)
	go b.processEvents()

	return b, nil
}

func (b *fsnotifyBackend) SetEnabled(on bool) {
	b.enabled.Store(on)
}

func (b *fsnotifyBackend) Enabled() bool {
	return b.enabled.Load() && !b.stopped.Load()
}

func (b *fsnotifyBackend) SetRecursive(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file || on == b.recursive {
		return nil
	}
	b.recursive = on
	if on {
		b.addTree(b.root)
		return nil
	}
	for p := range b.watched {
		if p != b.root {
			_ = b.watcher.Remove(p)
			delete(b.watched, p)
		}
	}
	return nil
}

func (b *fsnotifyBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.watcher.Close()
		b.wg.Wait()

		b.mu.Lock()
		if b.rename != nil {
			b.rename.timer.Stop()
			b.rename = nil
		}
		clear(b.watched)
		b.mu.Unlock()
	})
	return err
}

// add watches a single directory. Callers hold b.mu.
func (b *fsnotifyBackend) add(dir string) error {
	if _, ok := b.watched[dir]; ok {
		return nil
	}
	if err := b.watcher.Add(dir); err != nil {
		return err
	}
	b.watched[dir] = struct{}{}
	b.logger.Debug("added watch", "path", dir)
	return nil
}

// addTree watches every directory below dir. Callers hold b.mu.
func (b *fsnotifyBackend) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			b.logger.Warn("failed to access path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := b.add(p); err != nil {
			b.logger.Warn("failed to add watch", "path", p, "error", err)
		}
		return nil
	})
}

func (b *fsnotifyBackend) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				b.stopped.Store(true)
				return
			}
			b.handle(event)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				b.stopped.Store(true)
				return
			}
			if err != nil && b.cfg.OnError != nil {
				b.cfg.OnError(domainerrors.NativeWatchFailure(err, b.root))
			}
		}
	}
}

func (b *fsnotifyBackend) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if b.file && path != b.root {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case event.Has(fsnotify.Create):
		if b.rename != nil {
			b.rename.timer.Stop()
			old := b.rename.path
			b.rename = nil
			b.emit(Event{Type: EventRenamed, Path: path, OldPath: old})
		} else {
			b.emit(Event{Type: EventCreated, Path: path})
		}
		if b.recursive {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				b.addTree(path)
			}
		}

	case event.Has(fsnotify.Remove):
		delete(b.watched, path)
		b.emit(Event{Type: EventDeleted, Path: path})
		if path == b.root {
			b.stopped.Store(true)
		}

	case event.Has(fsnotify.Rename):
		delete(b.watched, path)
		if path == b.root {
			b.emit(Event{Type: EventDeleted, Path: path})
			b.stopped.Store(true)
			return
		}
		b.flushRename()
		p := &pendingRename{path: path}
		p.timer = time.AfterFunc(renameWindow, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.rename == p {
				b.flushRename()
			}
		})
		b.rename = p

	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		b.emit(Event{Type: EventChanged, Path: path})
	}
}

// flushRename reports an unmatched rename as a deletion. Callers hold b.mu.
func (b *fsnotifyBackend) flushRename() {
	if b.rename == nil {
		return
	}
	b.rename.timer.Stop()
	b.emit(Event{Type: EventDeleted, Path: b.rename.path})
	b.rename = nil
}

// emit forwards ev to the owner. Callers hold b.mu.
func (b *fsnotifyBackend) emit(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}
	if !b.enabled.Load() || b.cfg.OnEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.cfg.OnEvent(ev)
}

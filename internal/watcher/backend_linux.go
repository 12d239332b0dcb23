//go:build linux

package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	domainerrors "github.com/listenupapp/fen/internal/errors"
	"golang.org/x/sys/unix"
)

// errQueueOverflow is reported when the kernel dropped events.
var errQueueOverflow = errors.New("inotify event queue overflow")

// pollTimeout bounds how long the reader blocks before it checks for Close.
const pollTimeout = 200 // milliseconds

// watchMask is the set of inotify events translated into change events.
const watchMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_DELETE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF

// inotifyBackend implements Backend using Linux inotify directly.
// Rename halves are joined by their cookie.
type inotifyBackend struct {
	logger *slog.Logger
	cfg    BackendConfig
	fd     int

	root string
	file bool

	mu        sync.Mutex // protects the fields below
	recursive bool
	watches   map[string]int
	wdPaths   map[int]string
	rootWd    int

	enabled   atomic.Bool
	stopped   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newInotifyBackend opens an inotify watch for cfg.Path.
func newInotifyBackend(cfg BackendConfig) (Backend, error) {
	root := filepath.Clean(cfg.Path)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &inotifyBackend{
		logger:  logger,
		cfg:     cfg,
		fd:      fd,
		root:    root,
		file:    !info.IsDir(),
		watches: make(map[string]int),
		wdPaths: make(map[int]string),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	dir := root
	if b.file {
		dir = filepath.Dir(root)
	}
	b.rootWd, err = b.addWatch(dir)
	if err == nil && !b.file && cfg.Recursive {
		b.recursive = true
		b.addTree(root)
	}
	b.mu.Unlock()
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	b.wg.Add(1)
	go b.readEvents()

	return b, nil
}

func (b *inotifyBackend) SetEnabled(on bool) {
	b.enabled.Store(on)
}

func (b *inotifyBackend) Enabled() bool {
	return b.enabled.Load() && !b.stopped.Load()
}

func (b *inotifyBackend) SetRecursive(on bool) error {
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
	for p, wd := range b.watches {
		if wd != b.rootWd {
			b.removeWatch(p)
		}
	}
	return nil
}

func (b *inotifyBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		err = unix.Close(b.fd)
	})
	return err
}

// addWatch adds an inotify watch for a directory. Callers hold b.mu.
func (b *inotifyBackend) addWatch(path string) (int, error) {
	if wd, exists := b.watches[path]; exists {
		return wd, nil
	}

	wd, err := unix.InotifyAddWatch(b.fd, path, watchMask)
	if err != nil {
		return -1, fmt.Errorf("inotify_add_watch failed: %w", err)
	}

	b.watches[path] = wd
	b.wdPaths[wd] = path
	b.logger.Debug("added watch", "path", path, "wd", wd)
	return wd, nil
}

// removeWatch drops the watch for path. Callers hold b.mu.
func (b *inotifyBackend) removeWatch(path string) {
	wd, exists := b.watches[path]
	if !exists {
		return
	}

	//nolint:gosec // G115: wd is always a small non-negative int from inotify
	_, _ = unix.InotifyRmWatch(b.fd, uint32(wd))

	delete(b.watches, path)
	delete(b.wdPaths, wd)
	b.logger.Debug("removed watch", "path", path, "wd", wd)
}

// addTree watches every directory below dir. Callers hold b.mu.
func (b *inotifyBackend) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			b.logger.Warn("failed to access path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, err := b.addWatch(p); err != nil {
			b.logger.Warn("failed to add watch", "path", p, "error", err)
		}
		return nil
	})
}

// readEvents reads events from inotify until Close.
func (b *inotifyBackend) readEvents() {
	defer b.wg.Done()

	buf := make([]byte, (unix.SizeofInotifyEvent+unix.NAME_MAX+1)*64)
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}} //nolint:gosec // fd fits in int32

	for {
		select {
		case <-b.done:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			b.fail(fmt.Errorf("poll inotify: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(b.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			b.fail(fmt.Errorf("failed to read inotify events: %w", err))
			return
		}
		if n < unix.SizeofInotifyEvent {
			continue
		}

		b.parseEvents(buf[:n])
	}
}

// fail reports a fatal read error and marks the backend stopped.
func (b *inotifyBackend) fail(err error) {
	b.stopped.Store(true)
	if b.cfg.OnError != nil {
		b.cfg.OnError(domainerrors.NativeWatchFailure(err, b.root))
	}
}

// parseEvents parses one read worth of raw inotify events.
func (b *inotifyBackend) parseEvents(buf []byte) {
	moves := make(map[uint32]string)

	b.mu.Lock()
	defer b.mu.Unlock()

	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		//nolint:gosec // G103: Legitimate use of unsafe for syscall interface with inotify
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameEnd := offset + unix.SizeofInotifyEvent + int(raw.Len)
		if nameEnd > len(buf) {
			break
		}

		name := ""
		if raw.Len > 0 {
			nameBytes := buf[offset+unix.SizeofInotifyEvent : nameEnd]
			name = string(nameBytes[:clen(nameBytes)])
		}
		offset = nameEnd

		if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
			if b.cfg.OnError != nil {
				b.cfg.OnError(domainerrors.NativeWatchFailure(errQueueOverflow, b.root))
			}
			continue
		}

		dir, ok := b.wdPaths[int(raw.Wd)]
		if !ok {
			continue
		}
		b.processEvent(int(raw.Wd), dir, name, raw.Mask, raw.Cookie, moves)
	}

	// A move whose destination is outside the watch is a deletion.
	for _, old := range moves {
		b.emit(Event{Type: EventDeleted, Path: old})
	}
}

// processEvent translates a single inotify event. Callers hold b.mu.
func (b *inotifyBackend) processEvent(wd int, dir, name string, mask, cookie uint32, moves map[uint32]string) {
	path := dir
	if name != "" {
		path = filepath.Join(dir, name)
	}

	if mask&unix.IN_IGNORED != 0 {
		delete(b.watches, dir)
		delete(b.wdPaths, wd)
		if wd == b.rootWd {
			b.stopped.Store(true)
		}
		return
	}

	if mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
		if wd == b.rootWd {
			if !b.file {
				b.emit(Event{Type: EventDeleted, Path: b.root})
			}
			b.stopped.Store(true)
		}
		return
	}

	if b.file {
		if path != b.root {
			return
		}
		if mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0 {
			b.emit(Event{Type: EventDeleted, Path: path})
			b.stopped.Store(true)
			return
		}
	}
	isDir := mask&unix.IN_ISDIR != 0

	switch {
	case mask&unix.IN_CREATE != 0:
		b.emit(Event{Type: EventCreated, Path: path})
		if isDir && b.recursive {
			b.addTree(path)
		}

	case mask&unix.IN_MOVED_FROM != 0:
		moves[cookie] = path
		if isDir {
			b.dropTree(path)
		}

	case mask&unix.IN_MOVED_TO != 0:
		if old, ok := moves[cookie]; ok {
			delete(moves, cookie)
			b.emit(Event{Type: EventRenamed, Path: path, OldPath: old})
		} else {
			b.emit(Event{Type: EventCreated, Path: path})
		}
		if isDir && b.recursive {
			b.addTree(path)
		}

	case mask&unix.IN_DELETE != 0:
		b.emit(Event{Type: EventDeleted, Path: path})

	case mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0:
		b.emit(Event{Type: EventChanged, Path: path})
	}
}

// dropTree forgets the watches of a directory moved away. Callers hold b.mu.
func (b *inotifyBackend) dropTree(path string) {
	key := pathKey(path)
	for p := range b.watches {
		if k := pathKey(p); k == key || within(key, k) {
			b.removeWatch(p)
		}
	}
}

// emit forwards ev to the owner. Callers hold b.mu.
func (b *inotifyBackend) emit(ev Event) {
	if !b.enabled.Load() || b.cfg.OnEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.cfg.OnEvent(ev)
}

// clen returns the length of a null-terminated byte slice.
func clen(n []byte) int {
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}

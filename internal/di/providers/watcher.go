package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/config"
	"github.com/listenupapp/fen/internal/logger"
	"github.com/listenupapp/fen/internal/metrics"
	"github.com/listenupapp/fen/internal/sse"
	"github.com/listenupapp/fen/internal/watcher"
)

// RegistryHandle wraps the watch registry with shutdown capability.
type RegistryHandle struct {
	*watcher.Registry
}

// Shutdown implements do.Shutdownable.
func (h *RegistryHandle) Shutdown() error {
	return h.Close()
}

// ProvideRegistry provides the watch registry configured from the notifier settings.
func ProvideRegistry(i do.Injector) (*RegistryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	registryLog := log.WithComponent("watcher").Logger
	n := cfg.Notifier

	r, err := watcher.NewRegistry(registryLog, watcher.Options{
		ConsolidationInterval: n.ConsolidationInterval,
		PollInterval:          n.PollInterval,
		PendingPollInterval:   n.PendingPollInterval,
		ReinitInterval:        n.ReinitInterval,
		DispatchWorkers:       n.DispatchWorkers,
		Backend:               watcher.BackendKind(n.Backend),
		Prober:                watcher.NewOSProber(registryLog, nil, n.ProbeTimeout),
		Metrics:               m,
		IgnoreHidden:          n.IgnoreHidden,
		IgnorePatterns:        n.IgnorePatterns,
	})
	if err != nil {
		return nil, err
	}

	return &RegistryHandle{Registry: r}, nil
}

// WatchListHandle holds the subscriptions created from the watch list.
type WatchListHandle struct {
	registry      *watcher.Registry
	Subscriptions []*watcher.Subscription
}

// Shutdown implements do.Shutdownable.
func (h *WatchListHandle) Shutdown() error {
	for _, sub := range h.Subscriptions {
		if sub.Active() {
			_, _ = h.registry.Unsubscribe(sub)
		}
	}
	return nil
}

// ProvideWatchList subscribes every entry of the configured watch list. The
// consolidated events it receives are logged and published to the event stream.
func ProvideWatchList(i do.Injector) (*WatchListHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	registry := do.MustInvoke[*RegistryHandle](i)
	stream := do.MustInvoke[*EventStreamHandle](i)

	entries, err := config.LoadWatchList(cfg.Watches.File)
	if err != nil {
		return nil, err
	}

	handle := &WatchListHandle{registry: registry.Registry}
	for _, entry := range entries {
		types, err := watcher.ParseEventTypes(entry.Types)
		if err != nil {
			_ = handle.Shutdown()
			return nil, err
		}

		watch := entry.Path
		entryLog := log.WithComponent("events").WithField("watch", watch)
		sub, err := registry.Subscribe(entry.Path, watcher.Filter{
			Types:                 types,
			Patterns:              entry.Patterns,
			IncludeSubdirectories: entry.Recursive,
			AutoRestore:           entry.AutoRestore,
		}, func(ev watcher.Event) {
			args := []any{"type", ev.Type.String(), "path", ev.Path}
			if ev.OldPath != "" {
				args = append(args, "old_path", ev.OldPath)
			}
			entryLog.Info("file event", args...)
			stream.Emit(sse.NewFileEvent(watch, ev))
		})
		if err != nil {
			_ = handle.Shutdown()
			return nil, err
		}

		handle.Subscriptions = append(handle.Subscriptions, sub)
		go func() {
			<-sub.Done()
			if err := sub.Err(); err != nil {
				entryLog.Warn("watch ended", "error", err)
			}
		}()
		log.Info("Watching path", "path", entry.Path, "recursive", entry.Recursive, "auto_restore", entry.AutoRestore)
	}

	if len(entries) == 0 {
		log.Warn("Watch list is empty; nothing to watch", "file", cfg.Watches.File)
	}

	return handle, nil
}

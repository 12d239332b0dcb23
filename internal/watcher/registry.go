package watcher

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	domainerrors "github.com/listenupapp/fen/internal/errors"
	"github.com/listenupapp/fen/internal/ratelimit"
	"github.com/listenupapp/fen/internal/validation"
)

// Registry is the entry point for watching paths. It maps each watched
// path to one engine, hands out subscription ids and folds subscriptions
// for a directory into an engine that already watches one of its ancestors.
//
// Folding only goes one way: subscribing to an ancestor of an existing
// engine's path creates a second engine instead of merging the two.
type Registry struct {
	logger    *slog.Logger
	opts      Options
	validator *validation.Validator
	deps      engineDeps

	mu      sync.Mutex
	engines map[string]*engine
	ids     idPool
	closed  bool
}

// subscribeRequest is validated before a subscription is created.
type subscribeRequest struct {
	Path     string   `json:"path" validate:"required"`
	Callback Callback `json:"callback" validate:"required"`
	Filter   Filter   `json:"filter"`
}

// NewRegistry creates a registry. Call Close to release every watch.
func NewRegistry(logger *slog.Logger, opts Options) (*Registry, error) {
	opts.setDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	backends := opts.NewBackend
	if backends == nil {
		var err error
		backends, err = FactoryFor(opts.Backend)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInvalidWatchRequest, "invalid backend")
		}
	}

	prober := opts.Prober
	if prober == nil {
		prober = NewOSProber(logger, nil, DefaultProbeTimeout)
	}

	r := &Registry{
		logger:    logger,
		opts:      opts,
		validator: validation.New(),
		engines:   make(map[string]*engine),
	}
	r.deps = engineDeps{
		opts:     &r.opts,
		logger:   logger,
		prober:   prober,
		backends: backends,
		observer: r,
		dispatch: newDispatcher(logger, opts.Metrics, opts.DispatchWorkers),
		// One reinitialization per interval per path, with a small burst.
		reinits: ratelimit.New(1/opts.ReinitInterval.Seconds(), 3),
	}

	logger.Info("watch registry created",
		"backend", string(opts.Backend),
		"consolidation_interval", opts.ConsolidationInterval,
		"poll_interval", opts.PollInterval,
		"dispatch_workers", opts.DispatchWorkers,
	)

	return r, nil
}

// Subscribe registers callback for changes below path. The path does not
// need to exist yet; an unreachable path is watched as soon as it appears
// and subscribers then receive an Enabled event.
func (r *Registry) Subscribe(path string, filter Filter, callback Callback) (*Subscription, error) {
	req := subscribeRequest{Path: path, Callback: callback, Filter: filter}
	if err := r.validator.Validate(req); err != nil {
		return nil, err
	}

	sub := &Subscription{
		Path:     normalizePath(path),
		Filter:   filter,
		Callback: callback,
	}
	sub.Filter.Patterns = slices.Clone(filter.Patterns)
	key := pathKey(path)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domainerrors.Disposedf("registry is closed")
	}

	subID := r.ids.acquire()
	var created *engine
	for {
		e := r.findEngine(key)
		if e == nil {
			e = newEngine(sub.Path, r.deps)
			sub.assign(subID, e.key)
			if err := e.add(sub); err != nil {
				r.abandon(sub)
				r.mu.Unlock()
				// e was never published. Disposing it first makes its
				// goroutines exit as soon as start launches them.
				e.dispose()
				e.start()
				return nil, err
			}
			r.engines[e.key] = e
			created = e
			break
		}

		sub.assign(subID, e.key)
		err := e.add(sub)
		if err == nil {
			break
		}
		if !domainerrors.Is(err, domainerrors.ErrDisposed) {
			r.abandon(sub)
			r.mu.Unlock()
			return nil, err
		}
		if r.engines[e.key] == e {
			delete(r.engines, e.key)
		}
	}
	r.mu.Unlock()

	if created != nil {
		created.start()
	}

	r.logger.Debug("subscribed", "id", subID, "path", sub.Path, "engine_path", sub.rootKey())
	return sub, nil
}

// Unsubscribe detaches sub and frees its id. It reports whether the
// subscription was still attached to an engine. Unsubscribing twice, or
// unsubscribing a subscription that was never registered, fails with
// ErrInvalidSubscription.
func (r *Registry) Unsubscribe(sub *Subscription) (bool, error) {
	if sub == nil {
		return false, domainerrors.InvalidSubscription("subscription is nil")
	}

	r.mu.Lock()
	subID, ok := sub.release()
	if !ok {
		r.mu.Unlock()
		return false, domainerrors.InvalidSubscription("subscription is not registered")
	}
	r.ids.release(subID)
	e := r.engines[sub.rootKey()]
	r.mu.Unlock()

	if e == nil {
		r.finish(sub, nil)
		return false, nil
	}
	removed := e.remove(sub)
	r.finish(sub, nil)
	r.logger.Debug("unsubscribed", "id", subID, "path", sub.Path, "removed", removed)
	return removed, nil
}

// Engines returns a snapshot of every live engine, ordered by path.
func (r *Registry) Engines() []EngineInfo {
	r.mu.Lock()
	engines := make([]*engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	infos := make([]EngineInfo, 0, len(engines))
	for _, e := range engines {
		infos = append(infos, e.info())
	}
	slices.SortFunc(infos, func(a, b EngineInfo) int { return strings.Compare(a.Path, b.Path) })
	return infos
}

// Close disposes every engine and waits for queued callbacks to finish.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	engines := make([]*engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		e.dispose()
	}
	for _, e := range engines {
		e.wait()
	}
	r.deps.dispatch.close()

	r.logger.Info("watch registry closed", "engines", len(engines))
	return nil
}

// findEngine returns the live engine for key or for its nearest ancestor.
// Callers hold r.mu.
func (r *Registry) findEngine(key string) *engine {
	if e, ok := r.engines[key]; ok {
		if e.State() != StateDisposed {
			return e
		}
		delete(r.engines, key)
	}

	var best *engine
	for k, e := range r.engines {
		if e.State() == StateDisposed || !within(k, key) {
			continue
		}
		if best == nil || len(k) > len(best.key) {
			best = e
		}
	}
	return best
}

// engineDisposed implements engineObserver.
func (r *Registry) engineDisposed(e *engine, remaining []*Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engines[e.key] == e {
		delete(r.engines, e.key)
	}
	r.releaseAll(remaining, domainerrors.Disposedf("watch on %s was disposed", e.path))
}

// subscriptionsDropped implements engineObserver.
func (r *Registry) subscriptionsDropped(e *engine, dropped []*Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseAll(dropped, domainerrors.Disposedf("watch on %s was dropped on recovery without auto restore", e.path))
}

// abandon undoes a failed Subscribe so the id is handed out again.
// Callers hold r.mu.
func (r *Registry) abandon(sub *Subscription) {
	r.releaseAll([]*Subscription{sub}, nil)
}

// releaseAll frees the ids of subs and ends them with cause. Callers hold r.mu.
func (r *Registry) releaseAll(subs []*Subscription, cause error) {
	for _, sub := range subs {
		if subID, ok := sub.release(); ok {
			r.ids.release(subID)
			r.finish(sub, cause)
		}
	}
}

// finish ends sub after the events already queued for it. Once the
// dispatcher is closed nothing is queued and sub ends right away.
func (r *Registry) finish(sub *Subscription, cause error) {
	if !r.deps.dispatch.submit(dispatchJob{sub: sub, final: true, cause: cause}) {
		sub.finish(cause)
	}
}

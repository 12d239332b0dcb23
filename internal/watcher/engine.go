package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	domainerrors "github.com/listenupapp/fen/internal/errors"
	"github.com/listenupapp/fen/internal/id"
	"github.com/listenupapp/fen/internal/ratelimit"
)

// State is the lifecycle state of a watch engine.
type State int32

// stateNone is the "from" state reported when an engine is created.
const stateNone State = -1

const (
	// StatePending means the path has never been reachable; it is polled.
	StatePending State = iota
	// StateEnabled means the native watch is running.
	StateEnabled
	// StateDisabled means the path went away; it is polled until it returns.
	StateDisabled
	// StateDisposed is terminal.
	StateDisposed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateDisposed:
		return "disposed"
	case stateNone:
		return "none"
	default:
		return "unknown"
	}
}

// engineObserver is told about subscriptions leaving an engine without an
// Unsubscribe call. The registry implements it.
type engineObserver interface {
	// engineDisposed is called exactly once per engine with the
	// subscriptions it still held.
	engineDisposed(e *engine, remaining []*Subscription)

	// subscriptionsDropped is called when recovery discards subscriptions
	// that did not ask to be restored.
	subscriptionsDropped(e *engine, dropped []*Subscription)
}

// engineDeps are the collaborators an engine shares with its registry.
type engineDeps struct {
	opts     *Options
	logger   *slog.Logger
	prober   Prober
	backends BackendFactory
	observer engineObserver
	dispatch *dispatcher
	reinits  *ratelimit.KeyedRateLimiter
}

// engine watches one path on behalf of all subscriptions homed on it.
//
// Lock order: mu may be taken while holding nothing; subsMu and eventsMu
// are leaves. tickMu only serializes consolidation ticks.
type engine struct {
	engineDeps

	id       string
	path     string
	key      string
	volatile bool
	created  time.Time

	state atomic.Int32

	mu        sync.Mutex // protects backend and recursive
	backend   Backend
	recursive bool

	subsMu sync.Mutex
	subs   []*Subscription

	eventsMu sync.Mutex
	events   []*bufferedEvent

	tickMu sync.Mutex

	reinit atomic.Bool
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newEngine(path string, deps engineDeps) *engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &engine{
		engineDeps: deps,
		id:         id.MustGenerate(id.PrefixEngine),
		path:       path,
		key:        pathKey(path),
		volatile:   deps.prober.Volatile(path),
		created:    time.Now(),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.logger = deps.logger.With("engine", e.id, "path", path)
	// consolidationLoop and pollLoop, launched by start.
	e.wg.Add(2)
	e.state.Store(int32(StatePending))
	e.opts.Metrics.EngineStateChanged(stateNone, StatePending)
	return e
}

// start opens the native watch when the path is local and reachable, and
// launches the consolidation and polling goroutines. Network paths are
// never probed here; the poller handles them right away.
//
// The goroutines are counted in newEngine and always launched, so wait
// never returns early for an engine that was disposed before start ran.
// They exit at once when the engine is already disposed.
func (e *engine) start() {
	defer func() {
		go e.consolidationLoop()
		go e.pollLoop()
	}()

	if e.State() == StateDisposed {
		return
	}

	if isNetworkPath(e.path) {
		e.poke()
	} else if e.prober.Available(e.ctx, e.path) {
		if err := e.openBackend(); err != nil {
			e.logger.Warn("failed to open native watch", "error", err)
		} else {
			e.transition(StatePending, StateEnabled)
		}
	}

	e.logger.Debug("engine started", "state", e.State().String(), "volatile", e.volatile)
}

// State returns the current lifecycle state.
func (e *engine) State() State {
	return State(e.state.Load())
}

// transition moves from one state to another. It fails if the engine is no
// longer in from, which is how concurrent disposal wins.
func (e *engine) transition(from, to State) bool {
	if !e.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	e.opts.Metrics.EngineStateChanged(from, to)
	e.logger.Debug("engine state changed", "from", from.String(), "to", to.String())
	return true
}

// add attaches sub. It fails with ErrDisposed when the engine is already
// disposed so the registry can create a fresh one.
func (e *engine) add(sub *Subscription) error {
	if sub.rootKey() != e.key {
		return domainerrors.InvalidWatchRequestf("subscription for %s does not belong to engine %s", sub.Path, e.path)
	}

	e.subsMu.Lock()
	if e.State() == StateDisposed {
		e.subsMu.Unlock()
		return domainerrors.Disposedf("engine for %s is disposed", e.path)
	}
	if slices.Contains(e.subs, sub) {
		e.subsMu.Unlock()
		return nil
	}
	e.subs = append(e.subs, sub)
	first := len(e.subs) == 1
	e.subsMu.Unlock()

	e.opts.Metrics.SubscriptionsChanged(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return nil
	}
	if first {
		e.backend.SetEnabled(true)
	}
	if sub.needsRecursion() && !e.recursive {
		if err := e.backend.SetRecursive(true); err != nil {
			e.logger.Warn("failed to extend watch to subdirectories", "error", err)
			return nil
		}
		e.recursive = true
	}
	return nil
}

// remove detaches sub and disposes the engine when it was the last one.
// It reports whether sub was attached.
func (e *engine) remove(sub *Subscription) bool {
	e.subsMu.Lock()
	i := slices.Index(e.subs, sub)
	if i < 0 {
		e.subsMu.Unlock()
		return false
	}
	e.subs = slices.Delete(e.subs, i, i+1)
	empty := len(e.subs) == 0 && e.claimDisposal()
	e.subsMu.Unlock()

	e.opts.Metrics.SubscriptionsChanged(-1)
	if empty {
		e.teardown(nil)
	}
	return true
}

// dispose tears the engine down. Safe to call more than once.
func (e *engine) dispose() {
	e.subsMu.Lock()
	claimed := e.claimDisposal()
	remaining := e.subs
	if claimed {
		e.subs = nil
	}
	e.subsMu.Unlock()

	if claimed {
		if len(remaining) > 0 {
			e.opts.Metrics.SubscriptionsChanged(-len(remaining))
		}
		e.teardown(remaining)
	}
}

// claimDisposal marks the engine disposed. Callers hold subsMu; only the
// first caller gets true.
func (e *engine) claimDisposal() bool {
	for {
		cur := e.State()
		if cur == StateDisposed {
			return false
		}
		if e.transition(cur, StateDisposed) {
			return true
		}
	}
}

func (e *engine) teardown(remaining []*Subscription) {
	e.cancel()

	e.mu.Lock()
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Debug("failed to close native watch", "error", err)
		}
		e.backend = nil
	}
	e.mu.Unlock()

	e.eventsMu.Lock()
	e.events = nil
	e.eventsMu.Unlock()

	e.reinits.Forget(e.key)
	e.logger.Debug("engine disposed")
	e.observer.engineDisposed(e, remaining)
}

// wait blocks until the engine goroutines have exited. Only valid after dispose.
func (e *engine) wait() {
	e.wg.Wait()
}

func (e *engine) subscriptions() []*Subscription {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	return slices.Clone(e.subs)
}

func (e *engine) subCount() int {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	return len(e.subs)
}

func (e *engine) needsRecursion() bool {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	return slices.ContainsFunc(e.subs, (*Subscription).needsRecursion)
}

// openBackend replaces the native watch with a fresh one.
func (e *engine) openBackend() error {
	recursive := e.needsRecursion()
	enabled := e.subCount() > 0

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return domainerrors.Disposedf("engine for %s is disposed", e.path)
	}
	if e.backend != nil {
		_ = e.backend.Close()
		e.backend = nil
	}

	b, err := e.backends(BackendConfig{
		Path:      e.path,
		Recursive: recursive,
		Logger:    e.logger,
		OnEvent:   e.onEvent,
		OnError:   e.onError,
	})
	if err != nil {
		return domainerrors.NativeWatchFailure(err, e.path)
	}
	b.SetEnabled(enabled)
	e.backend = b
	e.recursive = recursive
	return nil
}

func (e *engine) closeBackend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		_ = e.backend.Close()
		e.backend = nil
	}
}

// backendRunning reports whether the native watch is still raising events.
func (e *engine) backendRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend != nil && e.backend.Enabled()
}

// onEvent buffers a raw change from the backend.
func (e *engine) onEvent(ev Event) {
	if e.State() != StateEnabled || e.opts.shouldIgnore(e.path, ev.Path) {
		return
	}
	e.opts.Metrics.EventReceived(ev.Type)

	e.eventsMu.Lock()
	e.events = append(e.events, newBufferedEvent(ev))
	e.eventsMu.Unlock()
}

// onError handles a failure of the native watch. Recovery happens on the
// polling goroutine.
func (e *engine) onError(err error) {
	e.opts.Metrics.NativeFailure()
	e.logger.Warn("native watch failed", "error", err)
	e.reinit.Store(true)
	e.poke()
}

// poke wakes the polling goroutine.
func (e *engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// raise delivers a synthetic event to every interested subscription.
func (e *engine) raise(t EventType) {
	ev := newBufferedEvent(Event{Type: t, Path: e.path, Time: time.Now()})
	e.dispatchEvents([]*bufferedEvent{ev})
}

// dispatchEvents hands events to the dispatcher, one job per matching subscription.
func (e *engine) dispatchEvents(events []*bufferedEvent) {
	if len(events) == 0 {
		return
	}
	subs := e.subscriptions()

	var jobs []dispatchJob
	for _, ev := range events {
		for _, sub := range subs {
			if sub.wants(ev) {
				jobs = append(jobs, dispatchJob{sub: sub, event: ev.Event})
			}
		}
	}
	e.dispatch.submit(jobs...)
}

// pollLoop runs availability checks and recovery.
func (e *engine) pollLoop() {
	defer e.wg.Done()

	timer := time.NewTimer(e.pollInterval())
	defer timer.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
		case <-e.wake:
		}

		e.poll()
		timer.Reset(e.pollInterval())
	}
}

func (e *engine) pollInterval() time.Duration {
	if e.State() == StatePending {
		return e.opts.PendingPollInterval
	}
	return e.opts.PollInterval
}

func (e *engine) poll() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("availability check panicked", "error", fmt.Sprint(r))
		}
	}()

	switch e.State() {
	case StatePending:
		e.pollPending()
	case StateEnabled, StateDisabled:
		e.check()
	case StateDisposed:
	}
}

// pollPending enables an engine whose path was never reachable.
func (e *engine) pollPending() {
	if !e.prober.Available(e.ctx, e.path) {
		return
	}
	if e.subCount() == 0 {
		e.dispose()
		return
	}
	if err := e.openBackend(); err != nil {
		e.logger.Warn("failed to open native watch", "error", err)
		return
	}
	if e.transition(StatePending, StateEnabled) {
		e.logger.Info("watched path became available")
		e.raise(EventEnabled)
	}
}

// check compares the path's availability with the engine state and
// recovers from native failures.
func (e *engine) check() {
	state := e.State()
	reinit := e.reinit.Swap(false)
	running := state != StateEnabled || e.backendRunning()

	if !e.volatile && !reinit && running && state == StateEnabled {
		return
	}

	if reinit && !e.reinits.Allow(e.key) {
		e.logger.Debug("reinitialization deferred")
		e.reinit.Store(true)
		reinit = false
	}

	available := e.prober.Available(e.ctx, e.path)
	switch {
	case state == StateEnabled && !available:
		e.disable()
	case state == StateDisabled && available:
		e.restore()
	case state == StateEnabled && reinit:
		e.reinitialize()
	case state == StateEnabled && !running:
		e.logger.Warn("native watch stopped while path is available")
		e.disable()
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.opts.SafetyNetDelay):
		}
		e.restore()
	}
}

// disable closes the native watch and tells subscribers the path is gone.
func (e *engine) disable() {
	if !e.transition(StateEnabled, StateDisabled) {
		return
	}
	e.closeBackend()

	e.eventsMu.Lock()
	e.events = nil
	e.eventsMu.Unlock()

	e.logger.Info("watched path became unavailable")
	e.raise(EventDisabled)
}

// restore re-enables a disabled engine. Subscriptions without AutoRestore
// are dropped first; if none are left the engine disposes itself.
func (e *engine) restore() {
	e.subsMu.Lock()
	var dropped []*Subscription
	kept := e.subs[:0]
	for _, sub := range e.subs {
		if sub.Filter.AutoRestore {
			kept = append(kept, sub)
		} else {
			dropped = append(dropped, sub)
		}
	}
	clear(e.subs[len(kept):])
	e.subs = kept
	empty := len(kept) == 0 && e.claimDisposal()
	e.subsMu.Unlock()

	if len(dropped) > 0 {
		e.opts.Metrics.SubscriptionsChanged(-len(dropped))
		e.logger.Info("dropped subscriptions without auto restore", "count", len(dropped))
		e.observer.subscriptionsDropped(e, dropped)
	}
	if empty {
		e.teardown(nil)
		return
	}

	if err := e.reopen(); err != nil {
		e.logger.Warn("failed to restore native watch", "error", err)
		return
	}
	if e.transition(StateDisabled, StateEnabled) {
		e.logger.Info("watched path restored")
		e.raise(EventEnabled)
	}
}

// reinitialize recreates the native watch after a failure, keeping every
// subscription. No synthetic events are raised.
func (e *engine) reinitialize() {
	e.opts.Metrics.Reinitialized()
	e.logger.Info("reinitializing native watch")
	e.closeBackend()
	if err := e.reopen(); err != nil {
		e.logger.Warn("failed to reinitialize native watch", "error", err)
		if e.ctx.Err() == nil {
			e.disable()
		}
	}
}

// info returns a snapshot for status reporting.
func (e *engine) info() EngineInfo {
	return EngineInfo{
		ID:            e.id,
		Path:          e.path,
		State:         e.State(),
		Volatile:      e.volatile,
		Subscriptions: e.subCount(),
		Created:       e.created,
	}
}

// EngineInfo describes one engine.
type EngineInfo struct {
	ID            string
	Path          string
	State         State
	Volatile      bool
	Subscriptions int
	Created       time.Time
}

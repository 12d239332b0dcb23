package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testTick    = 20 * time.Millisecond
	waitTimeout = 2 * time.Second
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeBackend records what the engine asks of it and lets tests inject events.
type fakeBackend struct {
	cfg       BackendConfig
	enabled   atomic.Bool
	recursive atomic.Bool
	stopped   atomic.Bool
	closed    atomic.Bool
}

func (f *fakeBackend) SetEnabled(on bool) { f.enabled.Store(on) }
func (f *fakeBackend) Enabled() bool      { return f.enabled.Load() && !f.stopped.Load() }

func (f *fakeBackend) SetRecursive(on bool) error {
	f.recursive.Store(on)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeBackend) emit(t EventType, path string) {
	f.emitEvent(Event{Type: t, Path: path, Time: time.Now()})
}

func (f *fakeBackend) emitEvent(ev Event) {
	if f.enabled.Load() && !f.closed.Load() {
		f.cfg.OnEvent(ev)
	}
}

// fakeBackends is a BackendFactory that keeps every backend it created.
type fakeBackends struct {
	mu      sync.Mutex
	created []*fakeBackend
	fail    atomic.Bool
}

func (f *fakeBackends) factory(cfg BackendConfig) (Backend, error) {
	if f.fail.Load() {
		return nil, errors.New("native watch refused")
	}
	b := &fakeBackend{cfg: cfg}
	b.recursive.Store(cfg.Recursive)
	f.mu.Lock()
	f.created = append(f.created, b)
	f.mu.Unlock()
	return b, nil
}

func (f *fakeBackends) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeBackends) last() *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// fakeProber answers availability from a table. Unknown paths are
// available; volatility follows the volatile flag or the network prefix.
type fakeProber struct {
	mu          sync.Mutex
	unavailable map[string]bool
	volatile    bool
	probes      atomic.Int64
}

func newFakeProber(volatile bool) *fakeProber {
	return &fakeProber{unavailable: make(map[string]bool), volatile: volatile}
}

func (p *fakeProber) Volatile(path string) bool {
	return p.volatile || isNetworkPath(path)
}

func (p *fakeProber) Available(_ context.Context, path string) bool {
	p.probes.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unavailable[pathKey(path)]
}

func (p *fakeProber) set(path string, available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[pathKey(path)] = !available
}

// collector gathers the events delivered to one subscription.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) callback(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) types() []EventType {
	var types []EventType
	for _, ev := range c.snapshot() {
		types = append(types, ev.Type)
	}
	return types
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.snapshot()) >= n },
		waitTimeout, 5*time.Millisecond, "expected %d events, got %v", n, c.types())
	return c.snapshot()
}

// testRegistry builds a registry on fakes with fast timings.
func testRegistry(t *testing.T, prober *fakeProber, backends *fakeBackends, tweak ...func(*Options)) *Registry {
	t.Helper()

	opts := Options{
		ConsolidationInterval: testTick,
		PollInterval:          testTick,
		PendingPollInterval:   testTick,
		SafetyNetDelay:        5 * time.Millisecond,
		ReinitInterval:        testTick,
		Recovery: RecoveryOptions{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			MaxElapsedTime:  500 * time.Millisecond,
		},
		DispatchWorkers: 4,
		NewBackend:      backends.factory,
		Prober:          prober,
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	r, err := NewRegistry(testLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// settle lets a few consolidation ticks pass.
func settle() {
	time.Sleep(6 * testTick)
}

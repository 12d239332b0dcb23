package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Default timings.
const (
	DefaultConsolidationInterval = time.Second
	DefaultPollInterval          = 2 * time.Second
	DefaultPendingPollInterval   = 2500 * time.Millisecond
	DefaultSafetyNetDelay        = 100 * time.Millisecond
	DefaultReinitInterval        = 5 * time.Second
)

// Options configures the registry and every engine it creates.
type Options struct {
	// ConsolidationInterval is the tick of the duplicate-suppression loop.
	// An event is dispatched between one and two intervals after it arrives.
	ConsolidationInterval time.Duration

	// PollInterval is how often volatile paths are checked while enabled or disabled.
	PollInterval time.Duration

	// PendingPollInterval is how often a path that was never reachable is checked.
	PendingPollInterval time.Duration

	// SafetyNetDelay is the pause between disabling and re-enabling a watch
	// whose native primitive stopped on its own.
	SafetyNetDelay time.Duration

	// ReinitInterval is the minimum spacing of forced reinitializations of one path.
	ReinitInterval time.Duration

	// Recovery bounds the backoff used to reopen a native watch.
	Recovery RecoveryOptions

	// DispatchWorkers is the number of idle goroutines kept for callbacks.
	// More are started while every one of them is busy.
	DispatchWorkers int

	// Backend selects the native watch implementation.
	Backend BackendKind

	// NewBackend overrides Backend when set.
	NewBackend BackendFactory

	// Prober overrides availability and volatility checks when set.
	Prober Prober

	// Metrics receives counters when set.
	Metrics Recorder

	// IgnorePatterns drop raw events whose base name matches before they
	// reach the buffer.
	IgnorePatterns []string

	// IgnoreHidden drops raw events for dot files and anything below a dot directory.
	IgnoreHidden bool
}

// RecoveryOptions bounds the exponential backoff used when a native watch
// has to be recreated.
type RecoveryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.ConsolidationInterval <= 0 {
		o.ConsolidationInterval = DefaultConsolidationInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PendingPollInterval <= 0 {
		o.PendingPollInterval = DefaultPendingPollInterval
	}
	if o.SafetyNetDelay <= 0 {
		o.SafetyNetDelay = DefaultSafetyNetDelay
	}
	if o.ReinitInterval <= 0 {
		o.ReinitInterval = DefaultReinitInterval
	}
	if o.Recovery.InitialInterval <= 0 {
		o.Recovery.InitialInterval = 500 * time.Millisecond
	}
	if o.Recovery.MaxInterval <= 0 {
		o.Recovery.MaxInterval = 10 * time.Second
	}
	if o.Recovery.MaxElapsedTime <= 0 {
		o.Recovery.MaxElapsedTime = 2 * time.Minute
	}
	if o.DispatchWorkers <= 0 {
		o.DispatchWorkers = DefaultDispatchWorkers
	}
	if o.Backend == "" {
		o.Backend = BackendAuto
	}
	if o.Metrics == nil {
		o.Metrics = nopRecorder{}
	}
}

// shouldIgnore checks if a path below root matches ignore rules. Only the
// part of path below root counts as hidden, so a watch root inside a dot
// directory still sees its visible entries.
func (o *Options) shouldIgnore(root, path string) bool {
	if o.IgnoreHidden {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		for part := range strings.SplitSeq(rel, string(filepath.Separator)) {
			if strings.HasPrefix(part, ".") && part != "." && part != ".." {
				return true
			}
		}
	}

	base := filepath.Base(path)
	for _, pattern := range o.IgnorePatterns {
		matched, err := filepath.Match(pattern, base)
		if err == nil && matched {
			return true
		}
	}

	return false
}

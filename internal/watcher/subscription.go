package watcher

import (
	"path/filepath"
	"sync"
)

// Callback receives consolidated events for a subscription.
// Callbacks of one subscription run one at a time and in event order.
// Callbacks of different subscriptions may run concurrently.
type Callback func(Event)

// Filter selects which events a subscription receives.
type Filter struct {
	// Types is the set of event types to deliver. Zero means all of them.
	Types EventType `json:"types" validate:"lte=63"`

	// Patterns are glob patterns matched against the base name of the
	// affected path. Empty means every name matches.
	Patterns []string `json:"patterns" validate:"omitempty,dive,required,glob"`

	// IncludeSubdirectories delivers events from the whole tree below the
	// path instead of its direct children only.
	IncludeSubdirectories bool `json:"includeSubdirectories"`

	// AutoRestore keeps the subscription alive across a period of
	// unavailability. Subscriptions without it are dropped on recovery.
	AutoRestore bool `json:"autoRestore"`
}

// Subscription is one consumer's interest in a path.
// It is created by Registry.Subscribe and stays valid until Unsubscribe or
// until its engine drops it during recovery.
type Subscription struct {
	Path     string
	Filter   Filter
	Callback Callback

	mu sync.Mutex
	id uint64
	// root is the key of the engine the subscription is attached to. It
	// differs from the key of Path when folded into an ancestor's engine.
	root string
	key  string

	done  chan struct{}
	ended bool
	err   error
}

// closedDone is handed out by Done for subscriptions that ended before
// anyone asked.
var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// ID returns the subscription id and whether the subscription is live.
func (s *Subscription) ID() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != 0
}

// Active reports whether the subscription is registered.
func (s *Subscription) Active() bool {
	_, ok := s.ID()
	return ok
}

// Done returns a channel that is closed when the subscription ends, after
// every event queued for it has been delivered. A subscription ends through
// Unsubscribe, Registry.Close, disposal of its engine, or a drop during
// recovery when AutoRestore is off.
func (s *Subscription) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

// Err is nil until Done is closed, and stays nil when the subscription
// ended through Unsubscribe. Otherwise it matches ErrDisposed and says
// why the watch ended.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish closes Done. Only the first call has an effect.
func (s *Subscription) finish(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = cause
	if s.done == nil {
		s.done = closedDone
	} else {
		close(s.done)
	}
}

func (s *Subscription) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Subscription) assign(id uint64, root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.root = root
	s.key = pathKey(s.Path)
}

// release clears the id and returns it. It returns false if the
// subscription was not live, so an id is never released twice.
func (s *Subscription) release() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == 0 {
		return 0, false
	}
	id := s.id
	s.id = 0
	return id, true
}

func (s *Subscription) rootKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// needsRecursion reports whether the subscription needs the engine to
// watch below its top-level directory.
func (s *Subscription) needsRecursion() bool {
	return s.Filter.IncludeSubdirectories || s.key != s.root
}

// wants reports whether ev should be delivered to the subscription.
func (s *Subscription) wants(ev *bufferedEvent) bool {
	types := s.Filter.Types
	if types == 0 {
		types = AllEvents
	}
	if types&ev.Type == 0 {
		return false
	}
	if ev.Type.synthetic() {
		return true
	}
	if !s.inScope(ev.key) && (ev.oldKey == "" || !s.inScope(ev.oldKey)) {
		return false
	}
	return s.matchesName(ev.Path) || (ev.OldPath != "" && s.matchesName(ev.OldPath))
}

func (s *Subscription) inScope(key string) bool {
	if key == s.key {
		return true
	}
	if s.Filter.IncludeSubdirectories {
		return within(s.key, key)
	}
	return directChild(s.key, key)
}

func (s *Subscription) matchesName(path string) bool {
	if len(s.Filter.Patterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range s.Filter.Patterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

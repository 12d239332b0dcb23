package watcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func subscriptionAt(path string, filter Filter) *Subscription {
	s := &Subscription{Path: path, Filter: filter, Callback: func(Event) {}}
	s.assign(1, pathKey(path))
	return s
}

func TestSubscription_Lifecycle(t *testing.T) {
	s := &Subscription{Path: "/books"}
	_, ok := s.ID()
	assert.False(t, ok)
	assert.False(t, s.Active())

	s.assign(7, pathKey("/books"))
	subID, ok := s.ID()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), subID)

	released, ok := s.release()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), released)

	_, ok = s.release()
	assert.False(t, ok, "an id is released only once")
}

func TestSubscription_Wants(t *testing.T) {
	dir := t.TempDir()
	direct := filepath.Join(dir, "a.m4b")
	nested := filepath.Join(dir, "series", "b.m4b")
	outside := filepath.Join(filepath.Dir(dir), "elsewhere.m4b")

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"zero filter takes direct child", Filter{}, Event{Type: EventCreated, Path: direct}, true},
		{"top level skips nested", Filter{}, Event{Type: EventCreated, Path: nested}, false},
		{"recursive takes nested", Filter{IncludeSubdirectories: true}, Event{Type: EventCreated, Path: nested}, true},
		{"never outside", Filter{IncludeSubdirectories: true}, Event{Type: EventCreated, Path: outside}, false},
		{"watched path itself", Filter{}, Event{Type: EventDeleted, Path: dir}, true},
		{"type mask excludes", Filter{Types: EventDeleted}, Event{Type: EventCreated, Path: direct}, false},
		{"type mask includes", Filter{Types: EventDeleted | EventCreated}, Event{Type: EventCreated, Path: direct}, true},
		{"pattern excludes", Filter{Patterns: []string{"*.mp3"}}, Event{Type: EventCreated, Path: direct}, false},
		{"pattern includes", Filter{Patterns: []string{"*.mp3", "*.m4b"}}, Event{Type: EventCreated, Path: direct}, true},
		{"synthetic ignores patterns", Filter{Patterns: []string{"*.mp3"}}, Event{Type: EventDisabled, Path: "/somewhere"}, true},
		{"synthetic honors mask", Filter{Types: EventCreated}, Event{Type: EventEnabled, Path: dir}, false},
		{"rename into scope", Filter{}, Event{Type: EventRenamed, Path: direct, OldPath: outside}, true},
		{"rename out of scope", Filter{}, Event{Type: EventRenamed, Path: outside, OldPath: direct}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := subscriptionAt(dir, tt.filter)
			assert.Equal(t, tt.want, s.wants(newBufferedEvent(tt.event)))
		})
	}
}

func TestSubscription_NeedsRecursion(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, subscriptionAt(dir, Filter{}).needsRecursion())
	assert.True(t, subscriptionAt(dir, Filter{IncludeSubdirectories: true}).needsRecursion())

	folded := &Subscription{Path: filepath.Join(dir, "series")}
	folded.assign(2, pathKey(dir))
	assert.True(t, folded.needsRecursion())
}

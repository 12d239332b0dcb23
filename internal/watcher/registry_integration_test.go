package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RealFileSystem(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file system test in short mode")
	}

	for _, kind := range backendKinds() {
		t.Run(string(kind), func(t *testing.T) {
			r, err := NewRegistry(testLogger(), Options{
				Backend:               kind,
				ConsolidationInterval: 50 * time.Millisecond,
				PollInterval:          50 * time.Millisecond,
				PendingPollInterval:   50 * time.Millisecond,
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })

			dir := t.TempDir()
			c := &collector{}
			sub, err := r.Subscribe(dir, Filter{Patterns: []string{"*.m4b"}}, c.callback)
			require.NoError(t, err)

			book := filepath.Join(dir, "book.m4b")
			require.NoError(t, os.WriteFile(book, []byte("chapter 1"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), nil, 0o644))

			c.waitFor(t, 1)
			time.Sleep(200 * time.Millisecond)
			events := c.snapshot()

			require.Len(t, events, 1, "create and writes collapse into one event")
			assert.Equal(t, EventCreated, events[0].Type)
			assert.Equal(t, book, events[0].Path)

			removed, err := r.Unsubscribe(sub)
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Empty(t, r.Engines())
		})
	}
}

func TestRegistry_PathAppearsLater(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file system test in short mode")
	}

	r, err := NewRegistry(testLogger(), Options{
		ConsolidationInterval: 50 * time.Millisecond,
		PollInterval:          50 * time.Millisecond,
		PendingPollInterval:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	dir := filepath.Join(t.TempDir(), "incoming")
	c := &collector{}
	_, err = r.Subscribe(dir, Filter{}, c.callback)
	require.NoError(t, err)

	engines := r.Engines()
	require.Len(t, engines, 1)
	assert.Equal(t, StatePending, engines[0].State)

	require.NoError(t, os.Mkdir(dir, 0o755))
	events := c.waitFor(t, 1)
	assert.Equal(t, EventEnabled, events[0].Type)

	book := filepath.Join(dir, "book.m4b")
	require.NoError(t, os.WriteFile(book, nil, 0o644))
	require.Eventually(t, func() bool {
		for _, ev := range c.snapshot() {
			if ev.Type == EventCreated && ev.Path == book {
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond)
}

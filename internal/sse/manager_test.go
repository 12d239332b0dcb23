package sse

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/fen/internal/id"
	"github.com/listenupapp/fen/internal/watcher"
)

type countingRecorder struct {
	clients atomic.Int64
	dropped atomic.Int64
}

func (r *countingRecorder) StreamClientsChanged(delta int) { r.clients.Add(int64(delta)) }
func (r *countingRecorder) StreamEventDropped()            { r.dropped.Add(1) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T, rec Recorder) *Manager {
	t.Helper()
	m := NewManager(discardLogger(), rec)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = m.Shutdown(context.Background())
	})
	return m
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.EventChan:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func fileEvent(watch string, typ watcher.EventType, path string) Event {
	return NewFileEvent(watch, watcher.Event{Type: typ, Path: path})
}

func TestManager_ConnectDisconnect(t *testing.T) {
	rec := &countingRecorder{}
	m := testManager(t, rec)

	c, err := m.Connect("", 0)
	require.NoError(t, err)
	assert.True(t, id.HasPrefix(c.ID, id.PrefixClient))
	assert.Equal(t, 1, m.ClientCount())
	assert.Equal(t, int64(1), rec.clients.Load())

	m.Disconnect(c.ID)
	assert.Equal(t, 0, m.ClientCount())
	assert.Equal(t, int64(0), rec.clients.Load())

	_, ok := <-c.EventChan
	assert.False(t, ok)

	m.Disconnect(c.ID)
	assert.Equal(t, int64(0), rec.clients.Load())
}

func TestManager_SequenceNumbers(t *testing.T) {
	m := testManager(t, nil)

	c, err := m.Connect("", 0)
	require.NoError(t, err)

	m.Emit(fileEvent("/w", watcher.EventCreated, "/w/a"))
	m.Emit(fileEvent("/w", watcher.EventChanged, "/w/a"))

	assert.Equal(t, uint64(1), receive(t, c).ID)
	assert.Equal(t, uint64(2), receive(t, c).ID)
}

func TestManager_FiltersByWatch(t *testing.T) {
	m := testManager(t, nil)

	all, err := m.Connect("", 0)
	require.NoError(t, err)
	books, err := m.Connect("/srv/books", 0)
	require.NoError(t, err)

	m.Emit(fileEvent("/srv/podcasts", watcher.EventCreated, "/srv/podcasts/ep1.mp3"))
	m.Emit(fileEvent("/srv/books", watcher.EventDeleted, "/srv/books/a.m4b"))

	assert.Equal(t, "/srv/podcasts", receive(t, all).Watch)
	assert.Equal(t, "/srv/books", receive(t, all).Watch)

	ev := receive(t, books)
	assert.Equal(t, EventFileDeleted, ev.Type)
	assert.Equal(t, "/srv/books/a.m4b", ev.Data.(FileEventData).Path)

	select {
	case extra := <-books.EventChan:
		t.Fatalf("unexpected event %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_ReplaysAfterLastID(t *testing.T) {
	m := testManager(t, nil)

	first, err := m.Connect("", 0)
	require.NoError(t, err)
	for _, p := range []string{"/w/1", "/w/2", "/w/3"} {
		m.Emit(fileEvent("/w", watcher.EventCreated, p))
	}
	m.Emit(fileEvent("/other", watcher.EventCreated, "/other/x"))
	for range 4 {
		receive(t, first)
	}

	resumed, err := m.Connect("/w", 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), receive(t, resumed).ID)
	assert.Equal(t, uint64(3), receive(t, resumed).ID)
	assert.Empty(t, resumed.EventChan, "events for other watches are not replayed")

	fresh, err := m.Connect("", 0)
	require.NoError(t, err)
	assert.Empty(t, fresh.EventChan, "no replay without a last id")
}

func TestManager_BacklogKeepsNewest(t *testing.T) {
	m := NewManager(discardLogger(), nil)
	m.backlog = make([]Event, 3)

	for i := range 5 {
		m.publish(fileEvent("/w", watcher.EventChanged, "/w/"+string(rune('a'+i))))
	}

	m.mu.Lock()
	kept := m.retained()
	m.mu.Unlock()

	require.Len(t, kept, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{kept[0].ID, kept[1].ID, kept[2].ID})
}

func TestManager_DropsForSlowClient(t *testing.T) {
	rec := &countingRecorder{}
	m := testManager(t, rec)

	slow, err := m.Connect("", 0)
	require.NoError(t, err)

	for range cap(slow.EventChan) + 10 {
		m.Emit(fileEvent("/w", watcher.EventChanged, "/w/f"))
	}

	require.Eventually(t, func() bool { return rec.dropped.Load() == 10 },
		time.Second, 5*time.Millisecond)
	assert.Len(t, slow.EventChan, cap(slow.EventChan))
}

func TestManager_ShutdownDisconnectsClients(t *testing.T) {
	rec := &countingRecorder{}
	m := NewManager(discardLogger(), rec)
	go m.Start(context.Background())

	c, err := m.Connect("", 0)
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	<-c.Done
	assert.Equal(t, 0, m.ClientCount())
	assert.Equal(t, int64(0), rec.clients.Load())

	assert.NotPanics(t, func() {
		m.Emit(NewHeartbeatEvent())
	})
}

func TestNewFileEvent(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		in   watcher.EventType
		want EventType
	}{
		{watcher.EventCreated, EventFileCreated},
		{watcher.EventChanged, EventFileChanged},
		{watcher.EventDeleted, EventFileDeleted},
		{watcher.EventRenamed, EventFileRenamed},
		{watcher.EventEnabled, EventWatchEnabled},
		{watcher.EventDisabled, EventWatchDisabled},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			ev := NewFileEvent("/w", watcher.Event{Type: tt.in, Path: "/w/new", OldPath: "/w/old", Time: now})
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, now, ev.Timestamp)
			assert.Zero(t, ev.ID)
			assert.Equal(t, FileEventData{Path: "/w/new", OldPath: "/w/old"}, ev.Data)
		})
	}

	ev := NewFileEvent("/w", watcher.Event{Type: watcher.EventCreated, Path: "/w/x"})
	assert.False(t, ev.Timestamp.IsZero())
}

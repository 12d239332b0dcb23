// Package sse streams consolidated file events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"time"

	"github.com/listenupapp/fen/internal/watcher"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventFileCreated is sent for watcher.EventCreated.
	EventFileCreated EventType = "file.created"
	// EventFileChanged is sent for watcher.EventChanged.
	EventFileChanged EventType = "file.changed"
	// EventFileDeleted is sent for watcher.EventDeleted.
	EventFileDeleted EventType = "file.deleted"
	// EventFileRenamed is sent for watcher.EventRenamed.
	EventFileRenamed EventType = "file.renamed"
	// EventWatchEnabled is sent when a watched path becomes available.
	EventWatchEnabled EventType = "watch.enabled"
	// EventWatchDisabled is sent when a watched path becomes unavailable.
	EventWatchDisabled EventType = "watch.disabled"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients. ID is the stream
// sequence number assigned on publish; heartbeats carry none. Watch is the
// configured watch path the event belongs to.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
	Watch     string    `json:"watch,omitempty"`
	ID        uint64    `json:"id,omitempty"`
}

// FileEventData is the payload of file and watch events.
type FileEventData struct {
	Path    string `json:"path"`
	OldPath string `json:"oldPath,omitempty"`
}

// HeartbeatEventData is the payload of heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewFileEvent converts a consolidated watcher event received by the
// subscription for watch.
func NewFileEvent(watch string, ev watcher.Event) Event {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Type:      eventTypeFor(ev.Type),
		Watch:     watch,
		Timestamp: ts,
		Data: FileEventData{
			Path:    ev.Path,
			OldPath: ev.OldPath,
		},
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now,
		Data:      HeartbeatEventData{ServerTime: now},
	}
}

func eventTypeFor(t watcher.EventType) EventType {
	switch t {
	case watcher.EventCreated:
		return EventFileCreated
	case watcher.EventChanged:
		return EventFileChanged
	case watcher.EventDeleted:
		return EventFileDeleted
	case watcher.EventRenamed:
		return EventFileRenamed
	case watcher.EventEnabled:
		return EventWatchEnabled
	case watcher.EventDisabled:
		return EventWatchDisabled
	default:
		return EventType("file." + t.String())
	}
}

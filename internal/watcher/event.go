package watcher

import (
	"strings"
	"time"

	domainerrors "github.com/listenupapp/fen/internal/errors"
)

// EventType represents the kind of change carried by an Event.
// Values are bit flags so a Filter can select several of them at once.
type EventType uint8

const (
	// EventCreated is emitted when a file or directory appears.
	EventCreated EventType = 1 << iota
	// EventChanged is emitted when contents or attributes change.
	EventChanged
	// EventDeleted is emitted when a file or directory goes away.
	EventDeleted
	// EventRenamed is emitted when an entry is renamed within the watched tree.
	EventRenamed
	// EventEnabled is synthesized when a watch becomes active again.
	EventEnabled
	// EventDisabled is synthesized when a watched path becomes unreachable.
	EventDisabled
)

// AllEvents selects every event type.
const AllEvents = EventCreated | EventChanged | EventDeleted | EventRenamed | EventEnabled | EventDisabled

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	case EventEnabled:
		return "enabled"
	case EventDisabled:
		return "disabled"
	}

	if t != 0 && t&^AllEvents == 0 {
		var parts []string
		for bit := EventCreated; bit <= EventDisabled; bit <<= 1 {
			if t&bit != 0 {
				parts = append(parts, bit.String())
			}
		}
		return strings.Join(parts, "|")
	}
	return "unknown"
}

// ParseEventTypes combines event type names ("created", "changed",
// "deleted", "renamed", "enabled", "disabled") into a mask. No names
// selects every type.
func ParseEventTypes(names []string) (EventType, error) {
	var mask EventType
	for _, name := range names {
		found := false
		for bit := EventCreated; bit <= EventDisabled; bit <<= 1 {
			if strings.EqualFold(strings.TrimSpace(name), bit.String()) {
				mask |= bit
				found = true
				break
			}
		}
		if !found {
			return 0, domainerrors.InvalidWatchRequestf("unknown event type %q", name)
		}
	}
	if mask == 0 {
		return AllEvents, nil
	}
	return mask, nil
}

// synthetic reports whether the type is produced by the engine rather than the file system.
func (t EventType) synthetic() bool {
	return t == EventEnabled || t == EventDisabled
}

// Event represents a consolidated file system change.
type Event struct {
	// Type is the kind of change.
	Type EventType

	// Path is the affected path. For synthetic events it is the watched path.
	Path string

	// OldPath is the previous path (only for rename events).
	OldPath string

	// Time is when the change was observed.
	Time time.Time
}

// bufferedEvent is an Event waiting in an engine's buffer.
// held marks events that have already survived one consolidation tick.
type bufferedEvent struct {
	Event
	key    string
	oldKey string
	held   bool
}

func newBufferedEvent(ev Event) *bufferedEvent {
	b := &bufferedEvent{Event: ev, key: pathKey(ev.Path)}
	if ev.OldPath != "" {
		b.oldKey = pathKey(ev.OldPath)
	}
	return b
}

// duplicates reports whether later should be absorbed into b.
// Equal type and normalized path (and equal previous path for renames) is a
// duplicate, and so is a change to a path whose creation is still buffered.
func (b *bufferedEvent) duplicates(later *bufferedEvent) bool {
	if b.key != later.key {
		return false
	}
	if b.Type == later.Type {
		return b.Type != EventRenamed || b.oldKey == later.oldKey
	}
	return b.Type == EventCreated && later.Type == EventChanged
}

package watcher

import "time"

// EventType classifies a file system change
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileEvent is one debounced change to a path
type FileEvent struct {
	Path      string
	Type      EventType
	Dir       bool // the path was a directory when the event was seen
	Timestamp time.Time
}

// gone reports whether the path no longer exists after the event
func (e FileEvent) gone() bool {
	return e.Type == EventDelete || e.Type == EventRename
}

// merge folds a later event for the same path into an earlier one.
// A create followed by writes stays a create; anything followed by a
// removal is a removal.
func merge(earlier, later FileEvent) FileEvent {
	if earlier.Type == EventCreate && later.Type == EventModify {
		later.Type = EventCreate
	}
	later.Dir = later.Dir || earlier.Dir
	return later
}

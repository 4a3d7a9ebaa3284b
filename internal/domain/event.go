package domain

import "fmt"

// EventKind classifies a filesystem notification
type EventKind int

const (
	EventOther EventKind = iota
	EventCreate
	EventRename
	EventRemove
	EventWriteClose
)

// String returns a human-readable kind name
func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventRename:
		return "rename"
	case EventRemove:
		return "remove"
	case EventWriteClose:
		return "write_close"
	default:
		return "other"
	}
}

// FileEvent is a classified filesystem event for one watched path.
// Rename events carry the old path first and the new path second.
type FileEvent struct {
	Kind  EventKind
	Paths []string
}

// String implements fmt.Stringer for log output
func (e FileEvent) String() string {
	return fmt.Sprintf("%s %v", e.Kind, e.Paths)
}

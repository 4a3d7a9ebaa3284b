package watcher

import (
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/fsnotify/fsnotify"
)

// pendingWrite is a path with unflushed writes since the first one was seen
type pendingWrite struct {
	path  string
	since time.Time
}

// classifier turns raw fsnotify events into domain events.
//
// fsnotify reports a rename as Rename(old) followed by Create(new) and has no
// close-write notification, so the classifier pairs renames inside
// renameWindow and coalesces writes per path until flushInterval has passed.
// A file renamed away from an accepted name stays followed under its new
// name, since its writer may still append through an open descriptor.
// It is not safe for concurrent use and never reads the clock itself.
type classifier struct {
	flushInterval time.Duration
	renameWindow  time.Duration
	accept        func(path string) bool
	isDir         func(path string) bool

	renamedFrom string
	renamedAt   time.Time
	writes      []pendingWrite
	followed    map[string]struct{}
}

func newClassifier(flushInterval, renameWindow time.Duration, accept, isDir func(string) bool) *classifier {
	return &classifier{
		flushInterval: flushInterval,
		renameWindow:  renameWindow,
		accept:        accept,
		isDir:         isDir,
		followed:      make(map[string]struct{}),
	}
}

// tracks reports whether events for path are delivered
func (c *classifier) tracks(path string) bool {
	if _, ok := c.followed[path]; ok {
		return true
	}
	return c.accept(path)
}

// handle classifies ev and returns the events that are ready for delivery
func (c *classifier) handle(ev fsnotify.Event, now time.Time) []domain.FileEvent {
	switch {
	case ev.Has(fsnotify.Create):
		return c.created(ev.Name)

	case ev.Has(fsnotify.Write):
		out := c.dropRename()
		if c.tracks(ev.Name) {
			c.markWritten(ev.Name, now)
		}
		return out

	case ev.Has(fsnotify.Remove):
		out := c.dropRename()
		c.forget(ev.Name)
		if c.tracks(ev.Name) {
			out = append(out, newEvent(domain.EventRemove, ev.Name))
		}
		delete(c.followed, ev.Name)
		return out

	case ev.Has(fsnotify.Rename):
		out := c.dropRename()
		c.renamedFrom = ev.Name
		c.renamedAt = now
		return out
	}

	// Chmod
	return nil
}

func (c *classifier) created(path string) []domain.FileEvent {
	if c.isDir(path) {
		return c.dropRename()
	}

	if c.renamedFrom == "" {
		// A new file took the name; whatever was followed under it is gone
		delete(c.followed, path)
		if !c.accept(path) {
			return nil
		}
		return []domain.FileEvent{newEvent(domain.EventCreate, path)}
	}

	oldPath := c.renamedFrom
	c.renamedFrom = ""
	hadWrites := c.forget(oldPath)
	oldTracked := c.tracks(oldPath)
	delete(c.followed, oldPath)
	if !oldTracked && !c.accept(path) {
		delete(c.followed, path)
		return nil
	}
	if oldTracked && !c.accept(path) {
		c.followed[path] = struct{}{}
	}

	out := []domain.FileEvent{newEvent(domain.EventRename, oldPath, path)}
	// Writes to the old name belong to the renamed file
	if hadWrites {
		out = append(out, newEvent(domain.EventWriteClose, path))
	}
	return out
}

// expire returns the events whose delay has elapsed at now
func (c *classifier) expire(now time.Time) []domain.FileEvent {
	var out []domain.FileEvent
	if c.renamedFrom != "" && now.Sub(c.renamedAt) >= c.renameWindow {
		out = c.dropRename()
	}

	kept := c.writes[:0]
	for _, w := range c.writes {
		if now.Sub(w.since) >= c.flushInterval {
			out = append(out, newEvent(domain.EventWriteClose, w.path))
			continue
		}
		kept = append(kept, w)
	}
	c.writes = kept

	return out
}

// deadline reports when expire next has something to return
func (c *classifier) deadline() (time.Time, bool) {
	var next time.Time
	found := false

	if c.renamedFrom != "" {
		next = c.renamedAt.Add(c.renameWindow)
		found = true
	}
	// writes are kept in arrival order, the first one is due first
	if len(c.writes) > 0 {
		due := c.writes[0].since.Add(c.flushInterval)
		if !found || due.Before(next) {
			next = due
		}
		found = true
	}

	return next, found
}

// dropRename resolves an unpaired rename as a removal: the file left the watched directory
func (c *classifier) dropRename() []domain.FileEvent {
	if c.renamedFrom == "" {
		return nil
	}

	oldPath := c.renamedFrom
	c.renamedFrom = ""
	c.forget(oldPath)
	tracked := c.tracks(oldPath)
	delete(c.followed, oldPath)
	if !tracked {
		return nil
	}
	return []domain.FileEvent{newEvent(domain.EventRemove, oldPath)}
}

func (c *classifier) markWritten(path string, now time.Time) {
	for _, w := range c.writes {
		if w.path == path {
			return
		}
	}
	c.writes = append(c.writes, pendingWrite{path: path, since: now})
}

// forget drops the pending write for path and reports whether there was one
func (c *classifier) forget(path string) bool {
	for i, w := range c.writes {
		if w.path == path {
			c.writes = append(c.writes[:i], c.writes[i+1:]...)
			return true
		}
	}
	return false
}

func newEvent(kind domain.EventKind, paths ...string) domain.FileEvent {
	return domain.FileEvent{Kind: kind, Paths: paths}
}

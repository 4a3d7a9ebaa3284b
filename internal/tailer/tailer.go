// Package tailer reacts to file events for one watched path: it keeps the
// position store in step with creates, renames and removes, and forwards
// newly appended lines on write-close.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/SteelMorgan/logship/internal/identity"
	"github.com/SteelMorgan/logship/internal/logreader"
	"github.com/SteelMorgan/logship/internal/offset"
	"github.com/SteelMorgan/logship/internal/publish"
	"github.com/SteelMorgan/logship/internal/watcher"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoTrackedPosition is returned for a write-close on a file the store does not track
	ErrNoTrackedPosition = errors.New("no tracked position")
	// ErrMissingPath is returned for an event without the paths its kind requires
	ErrMissingPath = errors.New("event carries no path")
)

// Config holds the per-file settings of a Tailer
type Config struct {
	Path         string
	Filter       *regexp.Regexp
	BufferSize   int
	Labels       map[string]string
	ScanExisting bool
}

// Tailer owns one watched path and its position store.
// It is not safe for concurrent use: Run must be the only caller.
type Tailer struct {
	cfg        Config
	store      *offset.Store
	subscriber watcher.Subscriber
	publisher  publish.Publisher
	reader     logreader.LineReader
	resolve    identity.Func
	now        func() time.Time
}

// New creates a tailer using the file-backed reader and the OS identity resolver
func New(cfg Config, store *offset.Store, subscriber watcher.Subscriber, publisher publish.Publisher) *Tailer {
	return &Tailer{
		cfg:        cfg,
		store:      store,
		subscriber: subscriber,
		publisher:  publisher,
		reader:     logreader.Default,
		resolve:    identity.Resolve,
		now:        time.Now,
	}
}

// Run subscribes to the watched path and dispatches events until ctx is cancelled
// or the subscription ends. Only a subscription failure is returned.
func (t *Tailer) Run(ctx context.Context) error {
	log.Info().
		Str("path", t.cfg.Path).
		Str("positions_file", t.store.Path()).
		Int("buffer_size", t.cfg.BufferSize).
		Bool("scan_existing", t.cfg.ScanExisting).
		Msg("Starting tailer")

	sub, err := t.subscriber.Subscribe(ctx, t.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", t.cfg.Path, err)
	}
	defer sub.Close()

	// Events raised while catching up queue in the subscription
	t.catchUp(ctx)

	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("path", t.cfg.Path).Msg("Tailer stopped")
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				log.Info().Str("path", t.cfg.Path).Msg("Event stream closed, tailer exiting")
				return nil
			}
			if err := t.handle(ctx, ev); err != nil {
				log.Warn().
					Err(err).
					Str("event", ev.String()).
					Msg("Failed to handle file event")
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().
				Err(err).
				Str("path", t.cfg.Path).
				Msg("Watcher reported an error")
		}
	}
}

// catchUp reconciles the store with the files on disk and starts tracking
// existing files, draining them when ScanExisting is set
func (t *Tailer) catchUp(ctx context.Context) {
	if err := t.store.Reconcile(t.cfg.Path, t.cfg.Filter); err != nil {
		log.Warn().Err(err).Str("path", t.cfg.Path).Msg("Failed to reconcile positions")
	}
	t.persist(ctx)

	files, err := logreader.ScanDirectory(t.cfg.Path, t.cfg.Filter)
	if err != nil {
		log.Warn().Err(err).Str("path", t.cfg.Path).Msg("Failed to scan existing files")
		return
	}

	for _, path := range files {
		id, err := t.resolve(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping existing file")
			continue
		}

		if _, tracked := t.store.Find(offset.ByFileID(id)); !tracked {
			var start uint64
			if !t.cfg.ScanExisting {
				info, err := os.Stat(path)
				if err != nil {
					log.Warn().Err(err).Str("file", path).Msg("Skipping existing file")
					continue
				}
				start = uint64(info.Size())
			}
			t.store.Add(domain.NewPosition(path, id, start))
			t.persist(ctx)
			log.Info().
				Str("file", path).
				Uint64("offset", start).
				Msg("Tracking existing file")
		}

		// Forward whatever arrived while the agent was down
		if err := t.forward(ctx, path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to forward backlog")
		}
	}
}

func (t *Tailer) handle(ctx context.Context, ev domain.FileEvent) error {
	log.Debug().Str("event", ev.String()).Msg("Handling file event")

	switch ev.Kind {
	case domain.EventCreate:
		return t.handleCreate(ctx, ev)
	case domain.EventRename:
		return t.handleRename(ctx, ev)
	case domain.EventRemove:
		return t.handleRemove(ctx, ev)
	case domain.EventWriteClose:
		return t.handleWriteClose(ctx, ev)
	default:
		log.Trace().Str("event", ev.String()).Msg("Ignoring file event")
		return nil
	}
}

func (t *Tailer) handleCreate(ctx context.Context, ev domain.FileEvent) error {
	path, err := eventPath(ev, 0)
	if err != nil {
		return err
	}

	id, err := t.resolve(path)
	if err != nil {
		return fmt.Errorf("failed to handle create: %w", err)
	}

	changed := t.evictReplaced(path, id)
	if t.evictReused(path, id) {
		changed = true
	}

	if t.store.Add(domain.NewPosition(path, id, 0)) {
		changed = true
		log.Info().
			Str("file", path).
			Str("file_id", id.String()).
			Msg("Tracking new file")
	}

	if changed {
		t.persist(ctx)
	}
	return nil
}

func (t *Tailer) handleRename(ctx context.Context, ev domain.FileEvent) error {
	oldPath, err := eventPath(ev, 0)
	if err != nil {
		return err
	}
	newPath, err := eventPath(ev, 1)
	if err != nil {
		return err
	}

	id, err := t.resolve(newPath)
	if err != nil {
		return fmt.Errorf("failed to handle rename: %w", err)
	}

	// Rotation chains rename onto a tracked name (app.log.1 -> app.log.2)
	// and the replaced file gets no remove event of its own
	t.evictReplaced(newPath, id)

	if t.store.Rename(id, newPath) {
		log.Info().
			Str("old_path", oldPath).
			Str("new_path", newPath).
			Str("file_id", id.String()).
			Msg("Tracked file renamed")
		t.persist(ctx)
		return nil
	}

	// The identity was never tracked: whatever was stored under the old
	// name is stale and the file starts from the beginning
	t.store.Remove(offset.ByPath(oldPath))
	t.store.Add(domain.NewPosition(newPath, id, 0))
	log.Info().
		Str("old_path", oldPath).
		Str("new_path", newPath).
		Str("file_id", id.String()).
		Msg("Untracked file renamed, tracking from start")
	t.persist(ctx)
	return nil
}

// evictReplaced drops the entry stored under path when path now holds another file
func (t *Tailer) evictReplaced(path string, id domain.FileID) bool {
	existing, ok := t.store.Find(offset.ByPath(path))
	if !ok || existing.FileID == id {
		return false
	}

	t.store.Remove(offset.ByFileID(existing.FileID))
	log.Info().
		Str("file", path).
		Str("old_file_id", existing.FileID.String()).
		Uint64("bytes_read", existing.BytesRead).
		Msg("Dropped position of replaced file")
	return true
}

// evictReused drops the entry of id when its recorded path no longer holds
// that file: the OS handed the identity of a deleted file to a new one
func (t *Tailer) evictReused(path string, id domain.FileID) bool {
	existing, ok := t.store.Find(offset.ByFileID(id))
	if !ok || existing.Path == path {
		return false
	}
	if current, err := t.resolve(existing.Path); err == nil && current == id {
		// Same file under a second name (hard link)
		return false
	}

	t.store.Remove(offset.ByFileID(id))
	log.Info().
		Str("file", path).
		Str("stale_path", existing.Path).
		Str("file_id", id.String()).
		Uint64("bytes_read", existing.BytesRead).
		Msg("File identity was reused, dropped stale position")
	return true
}

func (t *Tailer) handleRemove(ctx context.Context, ev domain.FileEvent) error {
	path, err := eventPath(ev, 0)
	if err != nil {
		return err
	}

	if t.store.Remove(offset.ByPath(path)) {
		log.Info().Str("file", path).Msg("Tracked file removed")
		t.persist(ctx)
	}
	return nil
}

func (t *Tailer) handleWriteClose(ctx context.Context, ev domain.FileEvent) error {
	path, err := eventPath(ev, 0)
	if err != nil {
		return err
	}
	return t.forward(ctx, path)
}

// forward publishes every complete line of path past its stored cursor.
// The cursor advances only after a successful publish; a failed publish
// leaves it in place so the next write-close resubmits the same lines.
func (t *Tailer) forward(ctx context.Context, path string) error {
	id, err := t.resolve(path)
	if err != nil {
		return fmt.Errorf("failed to handle write: %w", err)
	}

	position, ok := t.store.Find(offset.ByFileID(id))
	if !ok {
		return fmt.Errorf("%w for %s (file_id %s)", ErrNoTrackedPosition, path, id)
	}
	if position.Path != path && t.store.Rename(id, path) {
		t.persist(ctx)
	}

	cursor := position.BytesRead
	if info, err := os.Stat(path); err == nil && uint64(info.Size()) < cursor {
		log.Info().
			Str("file", path).
			Uint64("bytes_read", cursor).
			Int64("size", info.Size()).
			Msg("File truncated, reading from start")
		cursor = 0
		t.store.UpdateBytesRead(id, cursor)
		t.persist(ctx)
	}

	for ctx.Err() == nil {
		read, err := t.reader.Read(path, cursor, t.cfg.BufferSize)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(read.Lines) == 0 {
			t.warnIfStalled(path, cursor)
			return nil
		}

		batch := domain.NewLogBatch(t.now(), path, t.cfg.Labels, read.Lines)
		if err := t.publisher.Publish(ctx, batch); err != nil {
			return fmt.Errorf("failed to publish %d lines from %s: %w", len(read.Lines), path, err)
		}

		t.store.UpdateBytesRead(id, read.NewOffset)
		t.persist(ctx)

		log.Debug().
			Str("file", path).
			Int("lines", len(read.Lines)).
			Uint64("offset", read.NewOffset).
			Msg("Forwarded lines")

		cursor = read.NewOffset
	}

	return nil
}

// warnIfStalled reports a complete line that can never fit the read budget
func (t *Tailer) warnIfStalled(path string, cursor uint64) {
	info, err := os.Stat(path)
	if err != nil || uint64(info.Size()) <= cursor+uint64(t.cfg.BufferSize) {
		return
	}
	log.Warn().
		Str("file", path).
		Uint64("offset", cursor).
		Int("buffer_size", t.cfg.BufferSize).
		Msg("Next line exceeds buffer_size, raise buffer_size to forward it")
}

// persist writes the store; failures keep the in-memory state authoritative
func (t *Tailer) persist(ctx context.Context) {
	if err := t.store.Persist(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("positions_file", t.store.Path()).
			Msg("Failed to persist positions")
	}
}

func eventPath(ev domain.FileEvent, i int) (string, error) {
	if i >= len(ev.Paths) || ev.Paths[i] == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingPath, ev.Kind)
	}
	return ev.Paths[i], nil
}

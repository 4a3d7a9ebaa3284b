package offset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/SteelMorgan/logship/internal/identity"
	"github.com/SteelMorgan/logship/internal/logreader"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// DateTimeFormat is the layout of the created/modified timestamps
const DateTimeFormat = "2006-01-02 15:04:05"

// Predicate selects store entries
type Predicate func(domain.Position) bool

// ByFileID matches the entry tracking id
func ByFileID(id domain.FileID) Predicate {
	return func(p domain.Position) bool { return p.FileID == id }
}

// ByPath matches the entry last seen at path
func ByPath(path string) Predicate {
	return func(p domain.Position) bool { return p.Path == path }
}

// Store is the table of read positions for one watched path.
// It is owned by a single goroutine and is not safe for concurrent use.
type Store struct {
	path    string
	backend Backend
	lock    *flock.Flock

	createdAt  string
	modifiedAt string
	entries    []domain.Position

	now func() time.Time
}

// Open locks the positions file, then loads it or initializes an empty store.
// The backend is chosen by extension: .db, .bolt and .bbolt use BoltDB, anything else TOML.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create positions directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock positions file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	backend, err := newBackend(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	store := newStore(path, backend, time.Now)
	store.lock = lock

	snapshot, err := backend.Load(ctx)
	switch {
	case err == nil:
		store.createdAt = snapshot.CreatedAt
		store.modifiedAt = snapshot.ModifiedAt
		store.entries = dedupe(snapshot.Positions)
		log.Debug().
			Str("positions_file", path).
			Int("positions", len(store.entries)).
			Msg("Using existing positions file")
	case errors.Is(err, ErrNoSnapshot):
		log.Debug().
			Str("positions_file", path).
			Msg("Creating positions store")
	default:
		// An unreadable store means re-forwarding from the start, which is the
		// at-least-once outcome anyway
		log.Warn().
			Err(err).
			Str("positions_file", path).
			Msg("Could not load positions file, starting empty")
	}

	return store, nil
}

// Inspect loads the snapshot at path without taking the lock.
// It is meant for read-only tooling while an agent may own the store.
func Inspect(ctx context.Context, path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat positions file: %w", err)
	}

	backend, err := newBackend(path)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	snapshot, err := backend.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return &Snapshot{}, nil
	}
	return snapshot, err
}

func newStore(path string, backend Backend, now func() time.Time) *Store {
	stamp := now().UTC().Format(DateTimeFormat)
	return &Store{
		path:       path,
		backend:    backend,
		createdAt:  stamp,
		modifiedAt: stamp,
		now:        now,
	}
}

func newBackend(path string) (Backend, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".bolt", ".bbolt":
		return NewBoltDBBackend(path)
	default:
		return NewTOMLBackend(path), nil
	}
}

// Path returns the backing path of the store
func (s *Store) Path() string { return s.path }

// CreatedAt returns the creation timestamp
func (s *Store) CreatedAt() string { return s.createdAt }

// ModifiedAt returns the timestamp of the last mutation
func (s *Store) ModifiedAt() string { return s.modifiedAt }

// Entries returns a copy of all tracked positions
func (s *Store) Entries() []domain.Position {
	out := make([]domain.Position, len(s.entries))
	copy(out, s.entries)
	return out
}

// Add inserts position unless its identity is already tracked.
// An existing cursor is never overwritten.
func (s *Store) Add(position domain.Position) bool {
	if existing, ok := s.Find(ByFileID(position.FileID)); ok {
		log.Debug().
			Str("file", position.Path).
			Str("file_id", position.FileID.String()).
			Str("tracked_path", existing.Path).
			Uint64("bytes_read", existing.BytesRead).
			Msg("Position already tracked, skipping add")
		return false
	}

	s.entries = append(s.entries, position)
	s.touch()
	return true
}

// Find returns the first entry matching pred
func (s *Store) Find(pred Predicate) (domain.Position, bool) {
	if i := s.index(pred); i >= 0 {
		return s.entries[i], true
	}
	return domain.Position{}, false
}

// UpdateBytesRead moves the cursor of id; no-op if id is not tracked
func (s *Store) UpdateBytesRead(id domain.FileID, bytesRead uint64) bool {
	i := s.index(ByFileID(id))
	if i < 0 {
		return false
	}
	s.entries[i].BytesRead = bytesRead
	s.touch()
	return true
}

// Rename records a new path for id, keeping its cursor; no-op if id is not tracked
func (s *Store) Rename(id domain.FileID, newPath string) bool {
	i := s.index(ByFileID(id))
	if i < 0 {
		return false
	}
	s.entries[i].Path = newPath
	s.touch()
	return true
}

// Remove deletes the first entry matching pred
func (s *Store) Remove(pred Predicate) bool {
	i := s.index(pred)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.touch()
	return true
}

// Reconcile fixes stored paths against the files currently in dir and prunes
// entries whose path no longer holds the tracked file.
// It handles files renamed or deleted while the agent was not running.
func (s *Store) Reconcile(dir string, filter *regexp.Regexp) error {
	files, err := logreader.ScanDirectory(dir, filter)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to reconcile positions: %w", err)
	}

	for _, path := range files {
		id, err := identity.Resolve(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping file during reconciliation")
			continue
		}
		existing, ok := s.Find(ByFileID(id))
		if !ok || existing.Path == path {
			continue
		}
		log.Info().
			Str("old_path", existing.Path).
			Str("new_path", path).
			Str("file_id", id.String()).
			Msg("File was renamed while agent was down")
		s.Rename(id, path)
	}

	kept := s.entries[:0]
	pruned := 0
	for _, entry := range s.entries {
		if s.stale(entry) {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	if pruned > 0 {
		s.touch()
		log.Info().
			Str("dir", dir).
			Int("pruned", pruned).
			Msg("Pruned positions of vanished files")
	}

	return nil
}

// stale reports whether entry's path is gone or now holds a different file
func (s *Store) stale(entry domain.Position) bool {
	id, err := identity.Resolve(entry.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true
		}
		log.Warn().Err(err).Str("file", entry.Path).Msg("Cannot check tracked file, keeping position")
		return false
	}
	return id != entry.FileID
}

// Snapshot returns the durable form of the store
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{
		CreatedAt:  s.createdAt,
		ModifiedAt: s.modifiedAt,
		Positions:  s.Entries(),
	}
}

// Persist writes the full store through the backend
func (s *Store) Persist(ctx context.Context) error {
	if err := s.backend.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist %s: %w", s.path, err)
	}

	log.Trace().
		Str("positions_file", s.path).
		Int("positions", len(s.entries)).
		Msg("Positions persisted")

	return nil
}

// Close closes the backend and releases the lock file
func (s *Store) Close() error {
	err := s.backend.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

func (s *Store) index(pred Predicate) int {
	for i, entry := range s.entries {
		if pred(entry) {
			return i
		}
	}
	return -1
}

func (s *Store) touch() {
	s.modifiedAt = s.now().UTC().Format(DateTimeFormat)
}

// dedupe keeps the first entry per identity of a loaded snapshot
func dedupe(positions []domain.Position) []domain.Position {
	seen := make(map[domain.FileID]struct{}, len(positions))
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.FileID]; ok {
			log.Warn().
				Str("file", p.Path).
				Str("file_id", p.FileID.String()).
				Msg("Duplicate identity in positions file, keeping first entry")
			continue
		}
		seen[p.FileID] = struct{}{}
		out = append(out, p)
	}
	return out
}

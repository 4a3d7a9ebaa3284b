package offset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/SteelMorgan/logship/internal/identity"
	"pgregory.net/rapid"
)

func openStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createFile(t *testing.T, path, content string) domain.FileID {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	id, err := identity.Resolve(path)
	if err != nil {
		t.Fatalf("failed to resolve %s: %v", path, err)
	}
	return id
}

func TestAddIsIdempotent(t *testing.T) {
	store := openStore(t, "positions.toml")

	if !store.Add(domain.NewPosition("/var/log/app.log", 42, 100)) {
		t.Fatal("first Add must insert")
	}
	if store.Add(domain.NewPosition("/var/log/other.log", 42, 0)) {
		t.Fatal("second Add for the same identity must be a no-op")
	}

	got, ok := store.Find(ByFileID(42))
	if !ok {
		t.Fatal("position not found")
	}
	if got.BytesRead != 100 || got.Path != "/var/log/app.log" {
		t.Errorf("existing position was overwritten: %+v", got)
	}
	if len(store.Entries()) != 1 {
		t.Errorf("expected 1 entry, got %d", len(store.Entries()))
	}
}

func TestRenamePreservesBytesRead(t *testing.T) {
	store := openStore(t, "positions.toml")
	store.Add(domain.NewPosition("app.log", 7, 27))

	if !store.Rename(7, "app.log.1") {
		t.Fatal("Rename of tracked identity must succeed")
	}

	got, _ := store.Find(ByFileID(7))
	if got.Path != "app.log.1" || got.BytesRead != 27 {
		t.Errorf("expected app.log.1 at 27, got %+v", got)
	}

	if store.Rename(8, "ghost.log") {
		t.Error("Rename of unknown identity must be a no-op")
	}
}

func TestUpdateBytesReadAndRemove(t *testing.T) {
	store := openStore(t, "positions.toml")
	store.Add(domain.NewPosition("a.log", 1, 0))
	store.Add(domain.NewPosition("b.log", 2, 0))

	if !store.UpdateBytesRead(1, 55) {
		t.Fatal("UpdateBytesRead of tracked identity must succeed")
	}
	if store.UpdateBytesRead(3, 10) {
		t.Error("UpdateBytesRead of unknown identity must be a no-op")
	}
	if got, _ := store.Find(ByFileID(1)); got.BytesRead != 55 {
		t.Errorf("expected cursor 55, got %d", got.BytesRead)
	}

	if !store.Remove(ByPath("b.log")) {
		t.Fatal("Remove by path must succeed")
	}
	if store.Remove(ByPath("b.log")) {
		t.Error("second Remove must be a no-op")
	}
	if _, ok := store.Find(ByFileID(2)); ok {
		t.Error("removed entry still present")
	}
}

func TestModifiedAtTracksMutations(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newStore("mem", NewTOMLBackend(filepath.Join(t.TempDir(), "p.toml")), func() time.Time { return clock })

	if store.CreatedAt() != "2024-01-01 00:00:00" || store.ModifiedAt() != store.CreatedAt() {
		t.Fatalf("unexpected initial timestamps %q / %q", store.CreatedAt(), store.ModifiedAt())
	}

	clock = clock.Add(5 * time.Second)
	store.Add(domain.NewPosition("a.log", 1, 0))
	if store.ModifiedAt() != "2024-01-01 00:00:05" {
		t.Errorf("Add did not update modified time: %q", store.ModifiedAt())
	}

	clock = clock.Add(5 * time.Second)
	store.Add(domain.NewPosition("a.log", 1, 0))
	if store.ModifiedAt() != "2024-01-01 00:00:05" {
		t.Errorf("skipped Add must not update modified time: %q", store.ModifiedAt())
	}

	store.UpdateBytesRead(1, 10)
	if store.ModifiedAt() != "2024-01-01 00:00:10" {
		t.Errorf("UpdateBytesRead did not update modified time: %q", store.ModifiedAt())
	}
	if store.CreatedAt() != "2024-01-01 00:00:00" {
		t.Errorf("created time must not change: %q", store.CreatedAt())
	}
}

func TestPersistAndReopen(t *testing.T) {
	for _, name := range []string{"positions.toml", "positions.db"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), name)

			store, err := Open(ctx, path)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			store.Add(domain.NewPosition("/logs/app.log", 11, 27))
			store.Add(domain.NewPosition("/logs/app.log.1", 12, 4096))
			if err := store.Persist(ctx); err != nil {
				t.Fatalf("Persist() error = %v", err)
			}
			created := store.CreatedAt()
			if err := store.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			reopened, err := Open(ctx, path)
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			defer reopened.Close()

			if reopened.CreatedAt() != created {
				t.Errorf("created time not restored: %q != %q", reopened.CreatedAt(), created)
			}
			for _, want := range []domain.Position{
				domain.NewPosition("/logs/app.log", 11, 27),
				domain.NewPosition("/logs/app.log.1", 12, 4096),
			} {
				got, ok := reopened.Find(ByFileID(want.FileID))
				if !ok || got != want {
					t.Errorf("expected %+v, got %+v (found=%v)", want, got, ok)
				}
			}
		})
	}
}

func TestTOMLFormat(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "positions.toml")

	if err := store.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("failed to read positions file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "created_datetime_str") || !strings.Contains(content, "modified_datetime_str") {
		t.Errorf("timestamps missing from positions file:\n%s", content)
	}
	if strings.Contains(content, "[[position]]") {
		t.Errorf("empty position list must be omitted:\n%s", content)
	}

	store.Add(domain.NewPosition("/logs/app.log", 9, 27))
	if err := store.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	data, _ = os.ReadFile(store.Path())
	content = string(data)
	for _, want := range []string{"[[position]]", "file_path", "/logs/app.log", "file_id = 9", "bytes_read = 27"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in positions file:\n%s", want, content)
		}
	}
}

func TestOpenRejectsSecondOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.toml")
	first, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer first.Close()

	_, err = Open(context.Background(), path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.toml")
	if err := os.WriteFile(path, []byte("this is = = not toml"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if len(store.Entries()) != 0 {
		t.Errorf("expected empty store, got %v", store.Entries())
	}
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, "positions.toml")

	// Renamed while the agent was down
	renamedID := createFile(t, filepath.Join(dir, "app.log.1"), "old\n")
	store.Add(domain.NewPosition(filepath.Join(dir, "app.log"), renamedID, 4))

	// Untouched
	keptID := createFile(t, filepath.Join(dir, "other.log"), "x\n")
	store.Add(domain.NewPosition(filepath.Join(dir, "other.log"), keptID, 2))

	// Deleted
	store.Add(domain.NewPosition(filepath.Join(dir, "gone.log"), 999999999, 10))

	if err := store.Reconcile(dir, regexp.MustCompile(`\.log`)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	renamed, ok := store.Find(ByFileID(renamedID))
	if !ok || renamed.Path != filepath.Join(dir, "app.log.1") || renamed.BytesRead != 4 {
		t.Errorf("renamed file not fixed up: %+v (found=%v)", renamed, ok)
	}
	if kept, ok := store.Find(ByFileID(keptID)); !ok || kept.BytesRead != 2 {
		t.Errorf("untouched file lost: %+v (found=%v)", kept, ok)
	}
	if _, ok := store.Find(ByPath(filepath.Join(dir, "gone.log"))); ok {
		t.Error("deleted file was not pruned")
	}
	if len(store.Entries()) != 2 {
		t.Errorf("expected 2 entries, got %v", store.Entries())
	}
}

func TestReconcilePrunesReplacedFile(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, "positions.toml")

	path := filepath.Join(dir, "app.log")
	oldID := createFile(t, path, "first generation\n")
	store.Add(domain.NewPosition(path, oldID, 17))

	// Keep the old inode alive elsewhere so the replacement gets a fresh one
	if err := os.Rename(path, filepath.Join(t.TempDir(), "moved-away.log")); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	createFile(t, path, "")

	if err := store.Reconcile(dir, nil); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if _, ok := store.Find(ByFileID(oldID)); ok {
		t.Error("entry for replaced file must be pruned")
	}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "positions.toml")
	store.Add(domain.NewPosition("/logs/app.log", 3, 30))
	if err := store.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	snapshot, err := Inspect(ctx, store.Path())
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if len(snapshot.Positions) != 1 || snapshot.Positions[0].BytesRead != 30 {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}
}

// Add never overwrites a cursor and the store never holds two entries for one identity
func TestStoreIdentityInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newStore("mem", NewTOMLBackend(filepath.Join(os.TempDir(), "unused.toml")), time.Now)
		model := map[domain.FileID]domain.Position{}

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			id := domain.FileID(rapid.Uint64Range(1, 6).Draw(t, "id"))
			path := rapid.SampledFrom([]string{"a.log", "b.log", "c.log"}).Draw(t, "path")

			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				offset := rapid.Uint64Range(0, 1000).Draw(t, "offset")
				inserted := store.Add(domain.NewPosition(path, id, offset))
				_, tracked := model[id]
				if inserted == tracked {
					t.Fatalf("Add(%d) inserted=%v but tracked=%v", id, inserted, tracked)
				}
				if inserted {
					model[id] = domain.NewPosition(path, id, offset)
				}
			case 1:
				offset := rapid.Uint64Range(0, 1000).Draw(t, "offset")
				if store.UpdateBytesRead(id, offset) {
					p := model[id]
					p.BytesRead = offset
					model[id] = p
				}
			case 2:
				if store.Rename(id, path) {
					p := model[id]
					p.Path = path
					model[id] = p
				}
			case 3:
				if store.Remove(ByFileID(id)) {
					delete(model, id)
				}
			}
		}

		entries := store.Entries()
		if len(entries) != len(model) {
			t.Fatalf("expected %d entries, got %d", len(model), len(entries))
		}
		for _, entry := range entries {
			if model[entry.FileID] != entry {
				t.Fatalf("entry %+v diverged from model %+v", entry, model[entry.FileID])
			}
		}
	})
}

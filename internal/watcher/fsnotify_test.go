package watcher

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
)

func subscribe(t *testing.T, path string, filter *regexp.Regexp) Subscription {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub, err := NewFSNotify(50*time.Millisecond, filter).Subscribe(ctx, path)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

// waitFor returns the first event of kind, skipping others
func waitFor(t *testing.T, sub Subscription, kind domain.EventKind) domain.FileEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestFSNotifyCreateWriteRename(t *testing.T) {
	dir := t.TempDir()
	sub := subscribe(t, dir, regexp.MustCompile(`\.log`))

	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if ev := waitFor(t, sub, domain.EventCreate); ev.Paths[0] != path {
		t.Errorf("unexpected create %v", ev)
	}
	if ev := waitFor(t, sub, domain.EventWriteClose); ev.Paths[0] != path {
		t.Errorf("unexpected write-close %v", ev)
	}

	rotated := filepath.Join(dir, "app.log.1")
	if err := os.Rename(path, rotated); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	ev := waitFor(t, sub, domain.EventRename)
	if len(ev.Paths) != 2 || ev.Paths[0] != path || ev.Paths[1] != rotated {
		t.Errorf("unexpected rename %v", ev)
	}

	if err := os.Remove(rotated); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if ev := waitFor(t, sub, domain.EventRemove); ev.Paths[0] != rotated {
		t.Errorf("unexpected remove %v", ev)
	}
}

func TestFSNotifySingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	sub := subscribe(t, path, nil)

	if err := os.WriteFile(filepath.Join(dir, "noise.log"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	f.WriteString("line\n")
	f.Close()

	ev := waitFor(t, sub, domain.EventWriteClose)
	if ev.Paths[0] != path {
		t.Errorf("expected write-close for %s only, got %v", path, ev)
	}
}

func TestFSNotifyMissingPath(t *testing.T) {
	_, err := NewFSNotify(time.Second, nil).Subscribe(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestFSNotifyClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := NewFSNotify(time.Second, nil).Subscribe(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed event channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event channel not closed after cancel")
	}
}

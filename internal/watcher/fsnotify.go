package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultFlushInterval is how long writes are coalesced before a write-close is emitted
	DefaultFlushInterval = 5 * time.Second
	// DefaultRenameWindow is how long a rename waits for the create of its new name
	DefaultRenameWindow = 250 * time.Millisecond
)

// FSNotify is a Subscriber backed by fsnotify.
// Directories are watched non-recursively; a file path is watched through its parent directory.
type FSNotify struct {
	FlushInterval time.Duration
	RenameWindow  time.Duration
	// Filter matches base names of files inside a watched directory. Nil accepts all.
	Filter *regexp.Regexp
}

// NewFSNotify creates an fsnotify subscriber with the default rename window
func NewFSNotify(flushInterval time.Duration, filter *regexp.Regexp) *FSNotify {
	return &FSNotify{
		FlushInterval: flushInterval,
		RenameWindow:  DefaultRenameWindow,
		Filter:        filter,
	}
}

// Subscribe starts watching path until ctx is cancelled or the subscription is closed
func (f *FSNotify) Subscribe(ctx context.Context, path string) (Subscription, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watched path: %w", err)
	}

	dir, single := path, ""
	if !info.IsDir() {
		dir, single = filepath.Dir(path), filepath.Base(path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	flush := f.FlushInterval
	if flush <= 0 {
		flush = DefaultFlushInterval
	}
	window := f.RenameWindow
	if window <= 0 {
		window = DefaultRenameWindow
	}

	sub := &fsnotifySubscription{
		watcher:    w,
		classifier: newClassifier(flush, window, acceptor(single, f.Filter), isDir),
		events:     make(chan domain.FileEvent, 64),
		errors:     make(chan error, 8),
		done:       make(chan struct{}),
	}
	go sub.run(ctx)

	log.Info().
		Str("path", path).
		Str("dir", dir).
		Dur("flush_interval", flush).
		Msg("Watching for file events")

	return sub, nil
}

// acceptor builds the path filter: an exact name for single-file watches, otherwise the regex
func acceptor(single string, filter *regexp.Regexp) func(string) bool {
	return func(path string) bool {
		name := filepath.Base(path)
		if single != "" {
			return name == single
		}
		return filter == nil || filter.MatchString(name)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

type fsnotifySubscription struct {
	watcher    *fsnotify.Watcher
	classifier *classifier
	events     chan domain.FileEvent
	errors     chan error
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *fsnotifySubscription) Events() <-chan domain.FileEvent { return s.events }

func (s *fsnotifySubscription) Errors() <-chan error { return s.errors }

// Close stops the watcher. Pending coalesced writes are dropped.
func (s *fsnotifySubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *fsnotifySubscription) run(ctx context.Context) {
	defer close(s.events)
	defer s.Close()

	for {
		var timer <-chan time.Time
		if deadline, ok := s.classifier.deadline(); ok {
			timer = time.After(time.Until(deadline))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			log.Trace().Str("event", ev.String()).Msg("Raw file event")
			if !s.deliver(ctx, s.classifier.handle(ev, time.Now())) {
				return
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			default:
				log.Warn().Err(err).Msg("Watcher error dropped, error channel full")
			}

		case <-timer:
			if !s.deliver(ctx, s.classifier.expire(time.Now())) {
				return
			}
		}
	}
}

func (s *fsnotifySubscription) deliver(ctx context.Context, events []domain.FileEvent) bool {
	for _, ev := range events {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		}
	}
	return true
}

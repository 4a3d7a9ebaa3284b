package watcher

import (
	"context"

	"github.com/SteelMorgan/logship/internal/domain"
)

// Subscription is a live stream of classified events for one watched path
type Subscription interface {
	// Events delivers classified events in order. Closed when the subscription ends.
	Events() <-chan domain.FileEvent
	// Errors delivers non-fatal watcher errors
	Errors() <-chan error
	Close() error
}

// Subscriber opens subscriptions on a file or directory
type Subscriber interface {
	Subscribe(ctx context.Context, path string) (Subscription, error)
}

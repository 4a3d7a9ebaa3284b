// Package publish delivers log batches to the configured server.
package publish

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/SteelMorgan/logship/internal/retry"
)

// Publisher delivers batches to a destination.
// Publish returns only after delivery succeeded or definitively failed.
type Publisher interface {
	Publish(ctx context.Context, batch *domain.LogBatch) error
	Close() error
}

// Options configure a publisher
type Options struct {
	Server      string
	Timeout     time.Duration
	Retry       retry.Config
	Compression string // HTTP only: none, gzip or zstd
	Table       string // ClickHouse only
}

// New creates the publisher matching the server URL scheme
func New(ctx context.Context, opts Options) (Publisher, error) {
	u, err := url.Parse(opts.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPPublisher(opts)
	case "clickhouse":
		return NewClickHousePublisher(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
}

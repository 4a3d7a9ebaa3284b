package offset

import (
	"context"
	"errors"

	"github.com/SteelMorgan/logship/internal/domain"
)

// ErrNoSnapshot is returned by Backend.Load when nothing has been persisted yet
var ErrNoSnapshot = errors.New("no persisted positions")

// ErrLocked is returned by Open when another process holds the positions file
var ErrLocked = errors.New("positions file is locked by another process")

// Snapshot is the durable form of a Store
type Snapshot struct {
	CreatedAt  string            `toml:"created_datetime_str" json:"created_datetime_str"`
	ModifiedAt string            `toml:"modified_datetime_str" json:"modified_datetime_str"`
	Positions  []domain.Position `toml:"position,omitempty" json:"position"`
}

// Backend persists Store snapshots
// Implementations: TOML file (default), BoltDB
type Backend interface {
	// Load returns the last saved snapshot
	// Returns ErrNoSnapshot if nothing was saved yet
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the persisted snapshot atomically
	Save(ctx context.Context, snapshot *Snapshot) error

	// Close releases backend resources
	Close() error
}

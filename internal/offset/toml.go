package offset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// TOMLBackend keeps the snapshot in a human-readable TOML file
type TOMLBackend struct {
	path string
}

// NewTOMLBackend creates a TOML backend writing to path
func NewTOMLBackend(path string) *TOMLBackend {
	return &TOMLBackend{path: path}
}

// Load reads and decodes the TOML file
func (b *TOMLBackend) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read positions file: %w", err)
	}

	var snapshot Snapshot
	if err := toml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse positions file: %w", err)
	}

	return &snapshot, nil
}

// Save writes the snapshot to a temp file in the same directory and renames it over the target
func (b *TOMLBackend) Save(ctx context.Context, snapshot *Snapshot) (err error) {
	data, err := toml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize positions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp positions file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write positions file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync positions file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close positions file: %w", err)
	}

	if err = os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace positions file: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend
func (b *TOMLBackend) Close() error {
	return nil
}

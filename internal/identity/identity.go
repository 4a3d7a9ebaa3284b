// Package identity resolves filesystem paths to durable file identities.
package identity

import (
	"fmt"

	"github.com/SteelMorgan/logship/internal/domain"
)

// Func resolves a path to its file identity.
// Tailers take a Func so tests can substitute a deterministic resolver.
type Func func(path string) (domain.FileID, error)

// Resolve returns the identity of the file at path.
// The identity is stable across renames as long as the file is not replaced.
func Resolve(path string) (domain.FileID, error) {
	id, err := fileID(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve identity of %s: %w", path, err)
	}
	return domain.FileID(id), nil
}

package domain

import "strconv"

// FileID is the OS-assigned identity of a file (inode on Unix, file index on Windows).
// It survives renames but not delete+recreate, and the OS may reuse it after deletion.
type FileID uint64

// String returns the decimal representation of the identity
func (id FileID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Position is the read cursor of one tracked file
type Position struct {
	Path      string `toml:"file_path" json:"file_path"`
	FileID    FileID `toml:"file_id" json:"file_id"`
	BytesRead uint64 `toml:"bytes_read" json:"bytes_read"`
}

// NewPosition creates a position for a freshly discovered file
func NewPosition(path string, id FileID, bytesRead uint64) Position {
	return Position{
		Path:      path,
		FileID:    id,
		BytesRead: bytesRead,
	}
}

// FileRead is the result of one incremental read
type FileRead struct {
	Lines     []string // complete lines, line terminator stripped
	NewOffset uint64   // start offset + bytes consumed by Lines
}

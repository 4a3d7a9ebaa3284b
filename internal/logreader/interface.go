package logreader

import (
	"github.com/SteelMorgan/logship/internal/domain"
)

// LineReader reads complete lines appended to a file since a byte offset
type LineReader interface {
	// Read returns the complete lines starting at offset whose total size fits maxBytes.
	// A trailing line without newline is never returned.
	Read(path string, offset uint64, maxBytes int) (*domain.FileRead, error)
}

// ReaderFunc adapts a plain function to LineReader
type ReaderFunc func(path string, offset uint64, maxBytes int) (*domain.FileRead, error)

// Read calls f
func (f ReaderFunc) Read(path string, offset uint64, maxBytes int) (*domain.FileRead, error) {
	return f(path, offset, maxBytes)
}

// Default is the file-backed LineReader
var Default LineReader = ReaderFunc(ReadLines)

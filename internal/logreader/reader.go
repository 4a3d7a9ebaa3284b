package logreader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/rs/zerolog/log"
)

const readBufferSize = 64 * 1024

// ReadLines reads complete lines from path starting at startOffset.
// It stops at EOF or before the line that would push the consumed bytes over maxBytes.
// Zero lines with NewOffset == startOffset is a valid result.
func ReadLines(path string, startOffset uint64, maxBytes int) (*domain.FileRead, error) {
	log.Debug().
		Str("file", path).
		Uint64("offset", startOffset).
		Int("max_bytes", maxBytes).
		Msg("Starting incremental read")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(int64(startOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", startOffset, err)
	}

	reader := bufio.NewReaderSize(file, readBufferSize)
	result := &domain.FileRead{NewOffset: startOffset}
	var consumed int

	for {
		line, ok, err := nextLine(reader, maxBytes-consumed)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		consumed += len(line)
		result.Lines = append(result.Lines, string(trimLineEnding(line)))
	}

	result.NewOffset = startOffset + uint64(consumed)

	log.Debug().
		Str("file", path).
		Int("lines", len(result.Lines)).
		Uint64("new_offset", result.NewOffset).
		Msg("Incremental read finished")

	return result, nil
}

// nextLine returns the next newline-terminated line if it fits in limit bytes.
// ok is false when the file ends before a newline or the line would exceed
// limit; the rest of an oversized line is never buffered.
func nextLine(reader *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	for {
		frag, err := reader.ReadSlice('\n')
		if len(line)+len(frag) > limit {
			return nil, false, nil
		}
		// frag is only valid until the next read
		line = append(line, frag...)

		switch {
		case err == nil:
			return line, true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			// Partial line the writer has not finished yet
			return nil, false, nil
		default:
			return nil, false, fmt.Errorf("failed to read line: %w", err)
		}
	}
}

// trimLineEnding strips "\n" and an optional preceding "\r"
func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

package sensorlog

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// ErrSourceUnavailable is returned when the log cannot be opened or read.
// The caller keeps its last good state and retries on the next tick.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source defines the interface for sensor logs (real file or mocked rig).
type Source interface {
	// ReadFrom returns the complete lines stored after offset, reading at most
	// limit bytes. limit <= 0 uses the source's own maximum.
	ReadFrom(ctx context.Context, offset, limit int64) (Chunk, error)
	// Size returns the current length of the log in bytes.
	Size() (int64, error)
	// Head returns up to n bytes from the start of the log.
	Head(n int64) ([]byte, error)
	Name() string
}

// Ensure File implements Source.
var _ Source = (*File)(nil)

// Ensure Mock implements Source.
var _ Source = (*Mock)(nil)

// Line is one newline-terminated row of the log, without the terminator.
type Line struct {
	Text   string
	Offset int64 // Byte offset of the first character
}

// Chunk is a read of the log taken at one instant.
type Chunk struct {
	Lines     []Line
	Start     int64 // Offset the read began at (0 after truncation)
	End       int64 // Offset just past the last complete line; the next watermark
	Size      int64 // Log size when the read started
	Truncated bool  // The log shrank below the requested offset or was replaced
	More      bool  // The read stopped at its limit before the end of the log
}

// Empty reports whether no complete line was read.
func (c Chunk) Empty() bool {
	return len(c.Lines) == 0
}

// readChunk reads the complete lines of an input of the given size from offset.
func readChunk(ctx context.Context, r io.ReaderAt, size, offset, maxChunk int64) (Chunk, error) {
	chunk := Chunk{Size: size}
	if offset < 0 || offset > size {
		chunk.Truncated = offset > size
		offset = 0
	}
	chunk.Start = offset
	chunk.End = offset

	limit := min(size-offset, maxChunk)
	if limit == 0 {
		return chunk, nil
	}

	capped := limit < size-offset
	lines, end, err := readLines(ctx, r, offset, limit, capped)
	if err != nil {
		return Chunk{}, err
	}
	chunk.Lines = lines
	chunk.End = end
	chunk.More = capped
	return chunk, nil
}

// readLimit picks the smaller of a caller limit and the source maximum.
func readLimit(limit, maxChunk int64) int64 {
	if limit <= 0 {
		return maxChunk
	}
	return min(limit, maxChunk)
}

// readLines splits [offset, offset+limit) of r into complete lines.
// A trailing line without a newline is left for the next read. When the read
// was capped and not even one line fits, the capped text is returned as is so
// the reader always makes progress.
func readLines(ctx context.Context, r io.ReaderAt, offset, limit int64, capped bool) ([]Line, int64, error) {
	br := bufio.NewReader(io.NewSectionReader(r, offset, limit))

	var lines []Line
	pos := offset
	for {
		if err := ctx.Err(); err != nil {
			return nil, offset, err
		}

		text, err := br.ReadString('\n')
		if err == io.EOF {
			if capped && len(lines) == 0 && len(text) > 0 {
				lines = append(lines, Line{Text: trimEOL(text), Offset: pos})
				pos += int64(len(text))
			}
			return lines, pos, nil
		}
		if err != nil {
			return nil, offset, err
		}

		lines = append(lines, Line{Text: trimEOL(text), Offset: pos})
		pos += int64(len(text))
	}
}

func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

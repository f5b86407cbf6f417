package sensorlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultMaxChunkBytes bounds a single read when no limit is configured.
const DefaultMaxChunkBytes = 64 << 20

// File tails a sensor log written by an external producer.
// It never writes to the file and holds no handle between reads.
type File struct {
	path     string
	maxChunk int64

	mu   sync.Mutex
	last os.FileInfo // File seen by the previous successful read
}

// NewFile creates a file source. maxChunk <= 0 uses DefaultMaxChunkBytes.
func NewFile(path string, maxChunk int64) *File {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkBytes
	}
	return &File{
		path:     path,
		maxChunk: maxChunk,
	}
}

// Name returns the file path.
func (f *File) Name() string {
	return f.path
}

// Size stats the file.
func (f *File) Size() (int64, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return fi.Size(), nil
}

// ReadFrom stats the file once and reads the complete lines in [offset, size),
// at most limit bytes of them. Bytes appended while reading are picked up by
// the next call.
// If the file is now shorter than offset, or a different file took its path
// since the previous read, reading restarts at 0 with Truncated set.
func (f *File) ReadFrom(ctx context.Context, offset, limit int64) (Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if fi.IsDir() {
		return Chunk{}, fmt.Errorf("%w: %s is a directory", ErrSourceUnavailable, f.path)
	}

	replaced := offset > 0 && f.last != nil && !os.SameFile(f.last, fi)
	if replaced {
		offset = 0
	}

	chunk, err := readChunk(ctx, fh, fi.Size(), offset, readLimit(limit, f.maxChunk))
	if err != nil {
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return Chunk{}, err
	}
	f.last = fi
	chunk.Truncated = chunk.Truncated || replaced
	return chunk, nil
}

// Head reads up to n bytes from the start of the file.
func (f *File) Head(n int64) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer fh.Close()

	buf := make([]byte, n)
	k, err := io.ReadFull(fh, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return buf[:k], nil
}

package sensorlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "TimeStamp, ReadCount, Antenna, Protocol, RSSI, EPC, Temp, Ten, Powr, Unpowr, Inf\n"

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func texts(c Chunk) []string {
	out := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		out[i] = l.Text
	}
	return out
}

func TestFile_ReadFrom_Incremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, header+"a\nb\n")
	src := NewFile(path, 0)
	ctx := context.Background()

	chunk, err := src.ReadFrom(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"TimeStamp, ReadCount, Antenna, Protocol, RSSI, EPC, Temp, Ten, Powr, Unpowr, Inf", "a", "b"}, texts(chunk))
	assert.Equal(t, int64(0), chunk.Start)
	assert.Equal(t, int64(len(header)+4), chunk.End)
	assert.Equal(t, int64(len(header)), chunk.Lines[1].Offset)
	assert.False(t, chunk.Truncated)

	// Nothing new
	again, err := src.ReadFrom(ctx, chunk.End, 0)
	require.NoError(t, err)
	assert.True(t, again.Empty())
	assert.Equal(t, chunk.End, again.End)

	appendLog(t, path, "c\n")
	next, err := src.ReadFrom(ctx, chunk.End, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, texts(next))
	assert.Equal(t, chunk.End, next.Start)
}

func TestFile_ReadFrom_PartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, "a\r\nb\r\npart")
	src := NewFile(path, 0)

	chunk, err := src.ReadFrom(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts(chunk))
	assert.Equal(t, int64(6), chunk.End, "the partial line is left for later")

	appendLog(t, path, "ial\n")
	chunk, err = src.ReadFrom(context.Background(), chunk.End, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, texts(chunk))
}

func TestFile_ReadFrom_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, header+"a\nb\nc\n")
	src := NewFile(path, 0)

	first, err := src.ReadFrom(context.Background(), 0, 0)
	require.NoError(t, err)

	writeLog(t, path, header+"x\n")
	chunk, err := src.ReadFrom(context.Background(), first.End, 0)
	require.NoError(t, err)
	assert.True(t, chunk.Truncated)
	assert.Equal(t, int64(0), chunk.Start)
	require.Len(t, chunk.Lines, 2)
	assert.Equal(t, "x", chunk.Lines[1].Text)
}

func TestFile_ReadFrom_Unavailable(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.csv")},
		{"directory", dir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFile(tt.path, 0).ReadFrom(context.Background(), 0, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSourceUnavailable)
		})
	}
}

func TestFile_ReadFrom_MaxChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, "aaaa\nbbbb\ncccc\n")
	src := NewFile(path, 12)

	chunk, err := src.ReadFrom(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb"}, texts(chunk))
	assert.Equal(t, int64(10), chunk.End)
	assert.True(t, chunk.More)

	chunk, err = src.ReadFrom(context.Background(), chunk.End, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"cccc"}, texts(chunk))
	assert.False(t, chunk.More)
}

func TestFile_ReadFrom_CallerLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, "aaaa\nbbbb\ncccc\n")
	src := NewFile(path, 0)

	tests := []struct {
		name  string
		limit int64
		want  []string
		more  bool
	}{
		{"smaller than the log", 7, []string{"aaaa"}, true},
		{"whole lines", 10, []string{"aaaa", "bbbb"}, true},
		{"larger than the log", 1 << 20, []string{"aaaa", "bbbb", "cccc"}, false},
		{"source maximum", 0, []string{"aaaa", "bbbb", "cccc"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := src.ReadFrom(context.Background(), 0, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(chunk))
			assert.Equal(t, tt.more, chunk.More)
		})
	}
}

func TestFile_ReadFrom_Replaced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SensorLog.csv")
	writeLog(t, path, header+"a\n")
	src := NewFile(path, 0)

	first, err := src.ReadFrom(context.Background(), 0, 0)
	require.NoError(t, err)

	// A longer log is rotated into place
	next := filepath.Join(dir, "next.csv")
	writeLog(t, next, header+"b\nc\nd\n")
	require.NoError(t, os.Rename(next, path))

	chunk, err := src.ReadFrom(context.Background(), first.End, 0)
	require.NoError(t, err)
	assert.True(t, chunk.Truncated)
	assert.Equal(t, int64(0), chunk.Start)
	assert.Equal(t, []string{header[:len(header)-1], "b", "c", "d"}, texts(chunk))

	// Appends to the new file are read incrementally again
	appendLog(t, path, "e\n")
	chunk, err = src.ReadFrom(context.Background(), chunk.End, 0)
	require.NoError(t, err)
	assert.False(t, chunk.Truncated)
	assert.Equal(t, []string{"e"}, texts(chunk))
}

func TestFile_Head(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	src := NewFile(path, 0)

	_, err := src.Head(8)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	writeLog(t, path, "abcdef")
	tests := []struct {
		n    int64
		want string
	}{
		{0, ""},
		{3, "abc"},
		{6, "abcdef"},
		{100, "abcdef"},
	}
	for _, tt := range tests {
		head, err := src.Head(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(head), "n=%d", tt.n)
	}
}

func TestFile_ReadFrom_OverlongLineStillProgresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, "0123456789\nok\n")
	src := NewFile(path, 4)

	chunk, err := src.ReadFrom(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, chunk.Lines, 1)
	assert.Equal(t, "0123", chunk.Lines[0].Text)
	assert.Equal(t, int64(4), chunk.End)
}

func TestFile_ReadFrom_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	writeLog(t, path, header+"a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFile(path, 0).ReadFrom(ctx, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
}

func TestFile_Size(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")
	src := NewFile(path, 0)

	_, err := src.Size()
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	writeLog(t, path, header)
	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len(header)), size)
	assert.Equal(t, path, src.Name())
}

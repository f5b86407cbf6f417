package sensorlog

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SensorLog.csv")
	writeLog(t, path, header)

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	var hits atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func() { hits.Add(1) })

	// Unrelated files in the same directory are ignored
	writeLog(t, filepath.Join(dir, "other.csv"), "x\n")
	appendLog(t, path, "row\n")

	assert.Eventually(t, func() bool {
		return hits.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SensorLog.csv")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, func() {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

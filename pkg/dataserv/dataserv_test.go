package dataserv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/beltmon/pkg/metric"
	"github.com/itohio/beltmon/pkg/sample"
	"github.com/itohio/beltmon/pkg/series"
)

var t0 = time.Date(2016, 9, 28, 17, 34, 28, 0, time.UTC)

// fakeProvider publishes whatever the test hands it.
type fakeProvider struct {
	mu        sync.Mutex
	snap      series.Snapshot
	callbacks []func(series.Snapshot)
}

func (p *fakeProvider) Snapshot() series.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *fakeProvider) OnSnapshot(cb func(series.Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

func (p *fakeProvider) publish(snap series.Snapshot) {
	p.mu.Lock()
	p.snap = snap
	callbacks := append([]func(series.Snapshot){}, p.callbacks...)
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(snap)
	}
}

func makeSnapshot(n int, cycles int) series.Snapshot {
	samples := make([]sample.Sample, n)
	for i := range samples {
		samples[i] = sample.Sample{Timestamp: t0.Add(time.Duration(i) * time.Second), Tension: i}
	}
	// A sensor outage before the last sample
	if n > 1 {
		samples[n-1].Timestamp = samples[n-2].Timestamp.Add(10 * time.Second)
	}
	return series.Snapshot{
		Channels:   []string{"1"},
		Series:     map[string][]sample.Sample{"1": samples},
		Cycles:     cycles,
		SegmentGap: 3 * time.Second,
	}
}

func makeTestServer(t *testing.T) (*Server, *fakeProvider, *httptest.Server) {
	t.Helper()
	reg, _ := metric.NewRegistry()
	p := &fakeProvider{snap: makeSnapshot(20, 1)}
	s := New(":0", p, reg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, p, ts
}

func TestVersionHandler(t *testing.T) {
	_, _, ts := makeTestServer(t)

	resp, err := http.Get(ts.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, Version, body["version"])
}

func TestMetricsHandler(t *testing.T) {
	_, _, ts := makeTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshotHandler(t *testing.T) {
	_, _, ts := makeTestServer(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantPoints int
	}{
		{"full", "", http.StatusOK, 20},
		{"decimated", "?max_points=5", http.StatusOK, 5},
		{"zero keeps all", "?max_points=0", http.StatusOK, 20},
		{"not a number", "?max_points=abc", http.StatusBadRequest, 0},
		{"negative", "?max_points=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/snapshot" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body SnapshotResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Len(t, body.Series["1"], tt.wantPoints)
			assert.Equal(t, 1, body.Cycles)
			require.Len(t, body.Breaks["1"], 1, "the gap is reported even when decimated")
			assert.True(t, body.Breaks["1"][0].Equal(t0.Add(28*time.Second)))
		})
	}
}

func TestNewSnapshotResponse_NoGaps(t *testing.T) {
	resp := NewSnapshotResponse(series.Snapshot{
		Series:     map[string][]sample.Sample{"1": {{Timestamp: t0}, {Timestamp: t0.Add(time.Second)}}},
		SegmentGap: 3 * time.Second,
	}, 0)
	assert.Empty(t, resp.Breaks)
}

func TestWebsocketHandler(t *testing.T) {
	s, p, ts := makeTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first SnapshotResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1, first.Cycles)

	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	p.publish(makeSnapshot(3, 2))

	var next SnapshotResponse
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 2, next.Cycles)
	assert.Len(t, next.Series["1"], 3)
}

func TestHub(t *testing.T) {
	h := NewHub()

	a := h.Subscribe()
	b := h.Subscribe()
	assert.Equal(t, 2, h.Clients())

	// Only the newest snapshot is kept for a slow client
	h.Broadcast(makeSnapshot(1, 1))
	h.Broadcast(makeSnapshot(1, 2))
	assert.Equal(t, 2, (<-a).Cycles)

	h.Unsubscribe(a)
	assert.Equal(t, 1, h.Clients())
	_, ok := <-a
	assert.False(t, ok)

	h.Close()
	assert.Equal(t, 0, h.Clients())
	assert.Equal(t, 2, (<-b).Cycles)
	_, ok = <-b
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

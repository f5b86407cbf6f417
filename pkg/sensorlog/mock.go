package sensorlog

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/itohio/beltmon/pkg/config"
	"github.com/itohio/beltmon/pkg/record"
)

// mockTimestampLayout is the rig's timestamp format with microseconds.
const mockTimestampLayout = "01/02/2006 15:04:05.000000"

// mockHeadBytes is how much of the start of the log the mock keeps for Head.
const mockHeadBytes = 4096

// mockAntennas is the antenna order of the simulated loop.
var mockAntennas = []string{"1", "2", "3"}

// Mock simulates the RFID rig by growing a sensor log in memory.
// Every read appends SampleCount new rows, so consecutive ticks see a
// steadily growing log just like a live producer. Only the rows past the
// reader's watermark are kept; offsets stay those of the whole log.
type Mock struct {
	cfg *config.MockConfig

	mu      sync.Mutex
	buf     bytes.Buffer // Log bytes from base on
	base    int64
	head    []byte
	rng     *rand.Rand
	next    time.Time // Timestamp of the next generated row
	row     int
	reads   int
	maxRead int64
}

// NewMock creates a new mocked rig log starting at start.
func NewMock(cfg *config.MockConfig, start time.Time) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			Period:      250 * time.Millisecond,
			Dwell:       3,
			Tension:     180,
			NoiseLevel:  4,
			Temperature: 25,
			SampleCount: 8,
		}
	}

	m := &Mock{
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(uint64(start.UnixNano()), 0x5eed)),
		next:    start,
		maxRead: DefaultMaxChunkBytes,
	}
	m.write(strings.Join(record.Fields, ", ") + "\n")
	return m
}

// Name returns the source name.
func (m *Mock) Name() string {
	return "mock"
}

// ReadFrom generates the next rows and reads them like a file.
// Everything below offset is dropped: a reader never goes back behind its watermark.
func (m *Mock) ReadFrom(ctx context.Context, offset, limit int64) (Chunk, error) {
	m.mu.Lock()
	m.generate(m.cfg.SampleCount)
	m.discard(offset)
	data := bytes.Clone(m.buf.Bytes())
	base := m.base
	m.mu.Unlock()

	chunk, err := readChunk(ctx, bytes.NewReader(data), int64(len(data)), offset-base, readLimit(limit, m.maxRead))
	if err != nil {
		return Chunk{}, err
	}
	chunk.Start += base
	chunk.End += base
	chunk.Size += base
	for i := range chunk.Lines {
		chunk.Lines[i].Offset += base
	}
	return chunk, nil
}

// Size returns the length of the log generated so far.
func (m *Mock) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base + int64(m.buf.Len()), nil
}

// Head returns up to n bytes from the start of the log.
func (m *Mock) Head(n int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.head[:min(max(n, 0), int64(len(m.head)))]), nil
}

// Generate appends n rows without reading them.
func (m *Mock) Generate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generate(n)
}

// Bytes returns a copy of the retained part of the log.
func (m *Mock) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.buf.Bytes())
}

func (m *Mock) discard(offset int64) {
	if offset <= m.base || offset > m.base+int64(m.buf.Len()) {
		return
	}
	m.buf.Next(int(offset - m.base))
	m.base = offset
}

func (m *Mock) write(s string) {
	if n := mockHeadBytes - len(m.head); n > 0 {
		m.head = append(m.head, s[:min(n, len(s))]...)
	}
	m.buf.WriteString(s)
}

func (m *Mock) generate(n int) {
	for range n {
		m.write(m.generateRow())
	}
}

// generateRow generates a single simulated log row.
func (m *Mock) generateRow() string {
	dwell := max(m.cfg.Dwell, 1)
	idx := (m.row / dwell) % len(mockAntennas)
	antenna := mockAntennas[idx]

	// Each antenna sees a slightly different belt tension
	noise := m.cfg.NoiseLevel * (2*m.rng.Float64() - 1)
	tension := m.cfg.Tension + float64(idx)*2 + noise

	// Slow temperature drift
	temperature := m.cfg.Temperature + 0.5*math.Sin(float64(m.row)/50)

	rssi := -45 - m.rng.IntN(20)
	m.reads++

	row := fmt.Sprintf("%s, %d, %s, Gen2, %d, E2801160600002%04X, %.2f, %.2f, 1, 0, 0\n",
		m.next.Format(mockTimestampLayout),
		m.reads,
		antenna,
		rssi,
		m.row%0x10000,
		temperature,
		tension,
	)

	m.row++
	m.next = m.next.Add(m.cfg.Period)
	return row
}

package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itohio/beltmon/pkg/checkpoint"
	"github.com/itohio/beltmon/pkg/config"
	"github.com/itohio/beltmon/pkg/metric"
	"github.com/itohio/beltmon/pkg/obvy"
	"github.com/itohio/beltmon/pkg/record"
	"github.com/itohio/beltmon/pkg/sample"
	"github.com/itohio/beltmon/pkg/sensorlog"
	"github.com/itohio/beltmon/pkg/series"
	"github.com/itohio/beltmon/pkg/tracker"
)

// ErrTickBudget is returned when a tick runs out of time. Nothing is committed
// and the same data is read again on the next tick.
var ErrTickBudget = errors.New("tick budget exceeded")

const (
	// checkEvery is how many lines are processed between budget checks.
	checkEvery = 256
	// pruneEvery is how many staged samples trigger a batch prune.
	pruneEvery = 4096
	// minReadBytes is the floor the per-tick read shrinks to after budget aborts.
	minReadBytes = 64 << 10
	// headBytes is how much of the log start a checkpoint remembers.
	headBytes = 256
)

// TickReport summarises one tick.
type TickReport struct {
	Lines       int // Complete lines read
	Parsed      int
	Skipped     int // Malformed rows
	Transitions int
	Cycles      int // Cycle count after the tick
	Speeds      int
	Undefined   int // Transitions without a belt speed
	Truncated   bool
	More        bool // The read stopped short of the end of the log
	Duration    time.Duration
	Offset      int64 // Watermark after the tick
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics reports every tick to m.
func WithMetrics(m *metric.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithCheckpoint persists state after every tick that read something.
func WithCheckpoint(s *checkpoint.Store) Option {
	return func(mon *Monitor) { mon.ckpt = s }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(mon *Monitor) { mon.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(mon *Monitor) { mon.now = now }
}

// Monitor is the poll driver: every tick it reads what was appended to the
// log, folds it into the tracker and the windowed store, and publishes a snapshot.
type Monitor struct {
	cfg   *config.Config
	src   sensorlog.Source
	table *tracker.ChannelTable
	calib sample.Calibrator

	// Guarded by tickMu; ticks never overlap
	tickMu    sync.Mutex
	tracker   *tracker.Tracker
	offset    int64
	readLimit int64 // Bytes the next tick reads at most
	maxRead   int64

	store   *series.Store
	snap    atomic.Pointer[series.Snapshot]
	trigger chan struct{}

	metrics *metric.Metrics
	ckpt    *checkpoint.Store
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a monitor for src.
func New(cfg *config.Config, src sensorlog.Source, opts ...Option) *Monitor {
	table := tracker.NewChannelTable(cfg.Channels)

	m := &Monitor{
		cfg:     cfg,
		src:     src,
		table:   table,
		calib:   sample.NewCalibrator(cfg.Calibration),
		tracker: tracker.New(table),
		store: series.New(series.Options{
			Window:     cfg.Window.Width,
			SegmentGap: cfg.Window.SegmentGap,
			Channels:   table.IDs(),
		}),
		trigger: make(chan struct{}, 1),
		now:     time.Now,
		maxRead: cfg.Source.MaxChunkBytes,
	}
	if m.maxRead <= 0 {
		m.maxRead = sensorlog.DefaultMaxChunkBytes
	}
	m.readLimit = m.maxRead
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = obvy.Tracer()
	}

	snap := m.store.Snapshot()
	m.snap.Store(&snap)
	return m
}

// Snapshot returns the last published snapshot. It must not be modified.
func (m *Monitor) Snapshot() series.Snapshot {
	return *m.snap.Load()
}

// OnSnapshot registers a callback invoked with every published snapshot.
func (m *Monitor) OnSnapshot(callback func(series.Snapshot)) {
	m.store.OnUpdate(callback)
}

// Offset returns the committed watermark.
func (m *Monitor) Offset() int64 {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.offset
}

// Restore resumes from the checkpoint of this source, if there is a usable one.
// A checkpoint past the end of the current log, or one whose log starts with
// different bytes, belongs to an older file and is dropped.
func (m *Monitor) Restore() (bool, error) {
	if m.ckpt == nil {
		return false, nil
	}

	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	st, ok, err := m.ckpt.Load(m.src.Name())
	if err != nil || !ok {
		return false, err
	}

	size, err := m.src.Size()
	if err != nil {
		return false, err
	}
	if size < st.Offset {
		slog.Info("Discarding stale checkpoint",
			slog.String("source", st.Source),
			slog.Int64("offset", st.Offset),
			slog.Int64("size", size))
		return false, m.ckpt.Delete(st.Source)
	}
	if len(st.Head) > 0 {
		head, err := m.src.Head(int64(len(st.Head)))
		if err != nil {
			return false, err
		}
		if !bytes.Equal(head, st.Head) {
			slog.Info("Discarding checkpoint of a replaced log",
				slog.String("source", st.Source),
				slog.Int64("offset", st.Offset))
			return false, m.ckpt.Delete(st.Source)
		}
	}

	batch := m.store.NewBatch()
	for ch, samples := range st.Samples {
		for _, smp := range samples {
			batch.Add(ch, smp)
		}
	}
	for _, sp := range st.Speeds {
		batch.AddSpeed(sp)
	}
	if st.HasBeltSpeed {
		batch.SetBeltSpeed(st.BeltSpeed)
	}
	if st.HasTemperature {
		batch.SetTemperature(st.TemperatureF)
	}
	batch.SetCycles(st.Tracker.Cycles)

	m.store.Reset()
	m.tracker.Restore(st.Tracker)
	m.offset = st.Offset
	m.publish(m.store.Commit(batch))

	slog.Info("Checkpoint restored",
		slog.String("source", st.Source),
		slog.Int64("offset", st.Offset),
		slog.Int("cycles", st.Tracker.Cycles),
		slog.Time("saved", st.Saved))
	return true, nil
}

// RunTick runs one tick within the configured budget.
func (m *Monitor) RunTick(ctx context.Context) (TickReport, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := m.now()

	tickCtx := ctx
	if budget := m.cfg.Poll.TickBudget; budget > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	tickCtx, span := m.tracer.Start(tickCtx, "monitor.tick",
		trace.WithAttributes(
			attribute.String("source", m.src.Name()),
			attribute.Int64("offset", m.offset),
		))
	defer span.End()

	report, err := m.tick(ctx, tickCtx)
	report.Duration = m.now().Sub(start)
	m.adjustReadLimit(report, err)

	status := metric.StatusOK
	switch {
	case err == nil:
		slog.Debug("Tick",
			slog.Int("lines", report.Lines),
			slog.Int("parsed", report.Parsed),
			slog.Int("skipped", report.Skipped),
			slog.Int("transitions", report.Transitions),
			slog.Int("cycles", report.Cycles),
			slog.Duration("duration", report.Duration))
	case errors.Is(err, sensorlog.ErrSourceUnavailable):
		status = metric.StatusUnavailable
		slog.Warn("Sensor log unavailable, keeping last snapshot", slog.String("source", m.src.Name()), slog.Any("error", err))
	case errors.Is(err, ErrTickBudget):
		status = metric.StatusBudget
		slog.Warn("Tick aborted", slog.Duration("budget", m.cfg.Poll.TickBudget), slog.Int("lines", report.Lines))
	default:
		status = metric.StatusError
	}

	span.SetAttributes(
		attribute.Int("lines", report.Lines),
		attribute.Int("parsed", report.Parsed),
		attribute.Int("skipped", report.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	if m.metrics != nil {
		m.metrics.RecordTick(status, report.Duration)
	}

	return report, err
}

// tick reads and stages everything, then commits only if the budget held.
func (m *Monitor) tick(parent, ctx context.Context) (TickReport, error) {
	var report TickReport

	chunk, err := m.src.ReadFrom(ctx, m.offset, m.readLimit)
	if err != nil {
		if ctx.Err() != nil {
			return report, m.aborted(parent)
		}
		return report, err
	}
	report.Lines = len(chunk.Lines)
	report.Truncated = chunk.Truncated
	report.More = chunk.More

	trk := m.tracker.Clone()
	if chunk.Truncated {
		trk.Reset()
	}
	batch := m.store.NewBatch()
	var undefined []string

	for i, line := range chunk.Lines {
		if i%checkEvery == 0 && ctx.Err() != nil {
			return report, m.aborted(parent)
		}
		if line.Offset == 0 {
			// Header row, never validated
			continue
		}
		if record.IsBlank(line.Text) {
			continue
		}

		rec, err := record.Parse(line.Text)
		if err != nil {
			report.Skipped++
			slog.Debug("Skipping malformed row", slog.Int64("offset", line.Offset), slog.Any("error", err))
			continue
		}
		report.Parsed++

		batch.Add(rec.Channel, m.calib.Convert(rec))
		batch.SetTemperature(sample.ToFahrenheit(rec.Temperature))

		ev := trk.Observe(rec)
		if ev.Transition {
			report.Transitions++
		}
		if ev.Speed != nil {
			batch.AddSpeed(*ev.Speed)
			report.Speeds++
		}
		if ev.Undefined != nil {
			report.Undefined++
			var ue *tracker.UndefinedError
			if errors.As(ev.Undefined, &ue) {
				undefined = append(undefined, ue.Reason)
			}
			slog.Debug("Belt speed undefined", slog.Any("error", ev.Undefined))
		}

		if batch.Len()%pruneEvery == 0 {
			batch.Prune()
		}
	}
	if ctx.Err() != nil {
		return report, m.aborted(parent)
	}
	batch.SetCycles(trk.Cycles())
	report.Cycles = trk.Cycles()

	// Commit
	if chunk.Truncated {
		slog.Info("Sensor log truncated, starting a new observation period",
			slog.String("source", m.src.Name()),
			slog.Int64("size", chunk.Size))
		m.store.Reset()
	}
	m.tracker.Restore(trk.State())
	m.offset = chunk.End
	report.Offset = m.offset

	snap := m.store.Commit(batch)
	m.publish(snap)

	if m.metrics != nil {
		m.metrics.RecordRows(report.Parsed, report.Skipped)
		m.metrics.RecordTransitions(report.Transitions)
		for _, reason := range undefined {
			m.metrics.RecordUndefined(reason)
		}
	}
	if report.Lines > 0 || report.Truncated {
		m.saveCheckpoint(snap)
	}

	return report, nil
}

// adjustReadLimit halves the read after a budget abort so the retry can finish,
// and doubles it again while capped reads finish within half the budget.
func (m *Monitor) adjustReadLimit(report TickReport, err error) {
	prev := m.readLimit
	switch {
	case errors.Is(err, ErrTickBudget):
		m.readLimit = max(m.readLimit/2, minReadBytes)
	case err == nil && report.More && report.Duration < m.cfg.Poll.TickBudget/2:
		m.readLimit = min(m.readLimit*2, m.maxRead)
	}

	if m.readLimit != prev {
		slog.Debug("Read limit changed", slog.Int64("from", prev), slog.Int64("to", m.readLimit))
	}
	if m.metrics != nil {
		m.metrics.RecordReadLimit(m.readLimit)
	}
}

// aborted turns a done tick context into the error to report.
func (m *Monitor) aborted(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w (%s)", ErrTickBudget, m.cfg.Poll.TickBudget)
}

// publish makes snap the current snapshot and mirrors it into metrics.
func (m *Monitor) publish(snap series.Snapshot) {
	m.snap.Store(&snap)

	if m.metrics == nil {
		return
	}
	retained := make(map[string]int, len(snap.Series))
	for ch, samples := range snap.Series {
		retained[ch] = len(samples)
	}
	m.metrics.RecordOffset(m.offset)
	m.metrics.RecordState(metric.State{
		Cycles:         snap.Cycles,
		BeltSpeed:      snap.BeltSpeed,
		HasBeltSpeed:   snap.HasBeltSpeed,
		TensionMin:     snap.TensionMin,
		TensionMax:     snap.TensionMax,
		HasRange:       snap.HasRange,
		TemperatureF:   snap.TemperatureF,
		HasTemperature: snap.HasTemperature,
		Retained:       retained,
	})
}

func (m *Monitor) saveCheckpoint(snap series.Snapshot) {
	if m.ckpt == nil {
		return
	}
	head, err := m.src.Head(min(headBytes, m.offset))
	if err != nil {
		slog.Warn("Could not fingerprint sensor log", slog.Any("error", err))
		head = nil
	}
	err = m.ckpt.Save(checkpoint.State{
		Source:         m.src.Name(),
		Offset:         m.offset,
		Head:           head,
		Tracker:        m.tracker.State(),
		Samples:        snap.Series,
		Speeds:         snap.Speeds,
		TemperatureF:   snap.TemperatureF,
		HasTemperature: snap.HasTemperature,
		BeltSpeed:      snap.BeltSpeed,
		HasBeltSpeed:   snap.HasBeltSpeed,
		Saved:          m.now(),
	})
	if err != nil {
		slog.Error("Failed to save checkpoint", slog.Any("error", err))
	}
}

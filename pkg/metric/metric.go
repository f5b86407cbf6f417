package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "beltmon"

// Tick outcomes for the ticks_total status label.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
	StatusBudget      = "budget"
	StatusError       = "error"
)

// Metrics contains the pipeline metrics.
type Metrics struct {
	// Tick metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration prometheus.Histogram
	SourceOffset prometheus.Gauge
	ReadLimit    prometheus.Gauge

	// Row metrics
	RowsParsed  prometheus.Counter
	RowsSkipped prometheus.Counter
	Undefined   *prometheus.CounterVec

	// Belt metrics
	Transitions     prometheus.Counter
	Cycles          prometheus.Gauge
	BeltSpeed       prometheus.Gauge
	TensionMin      prometheus.Gauge
	TensionMax      prometheus.Gauge
	Temperature     prometheus.Gauge
	RetainedSamples *prometheus.GaugeVec
}

// New creates the metrics and registers them on reg.
// A nil reg leaves them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total number of poll ticks by outcome",
			},
			[]string{"status"},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tick",
				Name:      "duration_seconds",
				Help:      "Poll tick duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		SourceOffset: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "offset_bytes",
				Help:      "Byte offset of the last committed log read",
			},
		),

		ReadLimit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "read_limit_bytes",
				Help:      "Most bytes the next tick will read from the log",
			},
		),

		RowsParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rows",
				Name:      "parsed_total",
				Help:      "Total number of log rows accepted",
			},
		),

		RowsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rows",
				Name:      "skipped_total",
				Help:      "Total number of malformed log rows skipped",
			},
		),

		Undefined: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "undefined_metrics_total",
				Help:      "Total number of belt speeds that could not be computed",
			},
			[]string{"reason"},
		),

		Transitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of antenna transitions",
			},
		),

		Cycles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cycles",
				Help:      "Full belt revolutions in the current observation period",
			},
		),

		BeltSpeed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "belt_speed",
				Help:      "Latest belt speed (distance units per second)",
			},
		),

		TensionMin: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tension_min",
				Help:      "Minimum calibrated tension within the window",
			},
		),

		TensionMax: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tension_max",
				Help:      "Maximum calibrated tension within the window",
			},
		),

		Temperature: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "temperature_fahrenheit",
				Help:      "Latest temperature reading (F)",
			},
		),

		RetainedSamples: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retained_samples",
				Help:      "Samples currently held in the window",
			},
			[]string{"channel"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksTotal,
			m.TickDuration,
			m.SourceOffset,
			m.ReadLimit,
			m.RowsParsed,
			m.RowsSkipped,
			m.Undefined,
			m.Transitions,
			m.Cycles,
			m.BeltSpeed,
			m.TensionMin,
			m.TensionMax,
			m.Temperature,
			m.RetainedSamples,
		)
	}

	return m
}

// NewRegistry creates a registry with the Go runtime collectors and the pipeline metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// RecordTick counts one tick and its duration.
func (m *Metrics) RecordTick(status string, duration time.Duration) {
	m.TicksTotal.WithLabelValues(status).Inc()
	m.TickDuration.Observe(duration.Seconds())
}

// RecordRows counts accepted and skipped rows.
func (m *Metrics) RecordRows(parsed, skipped int) {
	m.RowsParsed.Add(float64(parsed))
	m.RowsSkipped.Add(float64(skipped))
}

// RecordUndefined counts one suppressed belt speed.
func (m *Metrics) RecordUndefined(reason string) {
	m.Undefined.WithLabelValues(reason).Inc()
}

// RecordTransitions counts antenna transitions.
func (m *Metrics) RecordTransitions(n int) {
	m.Transitions.Add(float64(n))
}

// RecordOffset updates the committed source offset.
func (m *Metrics) RecordOffset(offset int64) {
	m.SourceOffset.Set(float64(offset))
}

// RecordReadLimit updates the per-tick read size.
func (m *Metrics) RecordReadLimit(limit int64) {
	m.ReadLimit.Set(float64(limit))
}

// State is the published belt state mirrored into gauges.
type State struct {
	Cycles         int
	BeltSpeed      float64
	HasBeltSpeed   bool
	TensionMin     int
	TensionMax     int
	HasRange       bool
	TemperatureF   float64
	HasTemperature bool
	Retained       map[string]int
}

// RecordState updates the belt gauges. Values that are not known yet are left alone.
func (m *Metrics) RecordState(s State) {
	m.Cycles.Set(float64(s.Cycles))
	if s.HasBeltSpeed {
		m.BeltSpeed.Set(s.BeltSpeed)
	}
	if s.HasRange {
		m.TensionMin.Set(float64(s.TensionMin))
		m.TensionMax.Set(float64(s.TensionMax))
	}
	if s.HasTemperature {
		m.Temperature.Set(s.TemperatureF)
	}
	m.RetainedSamples.Reset()
	for ch, n := range s.Retained {
		m.RetainedSamples.WithLabelValues(ch).Set(float64(n))
	}
}

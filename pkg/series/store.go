package series

import (
	"sort"
	"sync"
	"time"

	"github.com/itohio/beltmon/pkg/sample"
	"github.com/itohio/beltmon/pkg/tracker"
)

// Options configures a Store.
type Options struct {
	Window     time.Duration // Trailing window width
	SegmentGap time.Duration // Larger gaps between consecutive samples are not drawable
	Channels   []string      // Display order of the known channels
}

// Store keeps per-channel calibrated samples within a trailing time window.
//
// Each channel is a FIFO ordered first to last in scan order. Removal is based
// on timestamp, not on the number of samples. Readers only ever get copies.
type Store struct {
	mu sync.RWMutex

	window   time.Duration
	gap      time.Duration
	channels []string

	series map[string][]sample.Sample
	speeds []tracker.BeltSpeed

	latest    time.Time
	hasLatest bool

	temperatureF   float64
	hasTemperature bool
	beltSpeed      float64
	hasBeltSpeed   bool
	cycles         int

	callbacks []func(Snapshot)
	cbMu      sync.RWMutex
}

// New creates an empty store.
func New(opts Options) *Store {
	channels := make([]string, len(opts.Channels))
	copy(channels, opts.Channels)

	return &Store{
		window:   opts.Window,
		gap:      opts.SegmentGap,
		channels: channels,
		series:   make(map[string][]sample.Sample),
	}
}

// Window returns the configured window width.
func (s *Store) Window() time.Duration {
	return s.window
}

// SegmentGap returns the configured drawable gap threshold.
func (s *Store) SegmentGap() time.Duration {
	return s.gap
}

// Append adds one sample to a channel. It does not trim.
func (s *Store) Append(channel string, smp sample.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(channel, smp)
}

func (s *Store) appendLocked(channel string, smp sample.Sample) {
	s.series[channel] = append(s.series[channel], smp)
	if !s.hasLatest || smp.Timestamp.After(s.latest) {
		s.latest = smp.Timestamp
		s.hasLatest = true
	}
}

// Trim drops every sample and speed older than cutoff. Samples at the cutoff are kept.
func (s *Store) Trim(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked(cutoff)
}

func (s *Store) trimLocked(cutoff time.Time) {
	for ch, samples := range s.series {
		kept := trimSamples(samples, cutoff)
		if len(kept) == 0 && !s.known(ch) {
			delete(s.series, ch)
			continue
		}
		s.series[ch] = kept
	}
	s.speeds = trimSpeeds(s.speeds, cutoff)
}

// Latest returns the newest timestamp across all channels.
func (s *Store) Latest() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Samples returns a copy of one channel's retained samples.
func (s *Store) Samples(channel string) []sample.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]sample.Sample, len(s.series[channel]))
	copy(result, s.series[channel])
	return result
}

// Range returns min and max tension over one channel's retained samples.
func (s *Store) Range(channel string) (lo, hi int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tensionRange(s.series[channel])
}

// OverallRange returns min and max tension over all retained samples.
func (s *Store) OverallRange() (lo, hi int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overallRangeLocked()
}

func (s *Store) overallRangeLocked() (lo, hi int, ok bool) {
	for _, samples := range s.series {
		l, h, has := tensionRange(samples)
		if !has {
			continue
		}
		if !ok || l < lo {
			lo = l
		}
		if !ok || h > hi {
			hi = h
		}
		ok = true
	}
	return lo, hi, ok
}

// Len returns the number of retained samples across all channels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, samples := range s.series {
		n += len(samples)
	}
	return n
}

// Commit applies a tick's staged data and publishes the resulting snapshot.
//
// A batch with at least one sample moves the window: everything older than
// latest - window is dropped. An empty batch leaves the history as it was.
func (s *Store) Commit(b *Batch) Snapshot {
	s.mu.Lock()
	for _, ch := range b.order {
		for _, smp := range b.samples[ch] {
			s.appendLocked(ch, smp)
		}
	}
	s.speeds = append(s.speeds, b.speeds...)
	if b.hasBeltSpeed {
		s.beltSpeed = b.beltSpeed
		s.hasBeltSpeed = true
	}
	if b.hasTemperature {
		s.temperatureF = b.temperatureF
		s.hasTemperature = true
	}
	if b.hasCycles {
		s.cycles = b.cycles
	}
	if b.count > 0 && s.hasLatest {
		s.trimLocked(s.latest.Add(-s.window))
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyCallbacks(snap)
	return snap
}

// Reset forgets all history, starting a new observation period.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[string][]sample.Sample)
	s.speeds = nil
	s.latest = time.Time{}
	s.hasLatest = false
	s.temperatureF = 0
	s.hasTemperature = false
	s.beltSpeed = 0
	s.hasBeltSpeed = false
	s.cycles = 0
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Channels:       s.displayOrder(),
		Series:         make(map[string][]sample.Sample, len(s.series)),
		Speeds:         make([]tracker.BeltSpeed, len(s.speeds)),
		TemperatureF:   s.temperatureF,
		HasTemperature: s.hasTemperature,
		Cycles:         s.cycles,
		BeltSpeed:      s.beltSpeed,
		HasBeltSpeed:   s.hasBeltSpeed,
		SegmentGap:     s.gap,
	}
	copy(snap.Speeds, s.speeds)

	for _, ch := range snap.Channels {
		samples := make([]sample.Sample, len(s.series[ch]))
		copy(samples, s.series[ch])
		snap.Series[ch] = samples
	}

	snap.TensionMin, snap.TensionMax, snap.HasRange = s.overallRangeLocked()
	if s.hasLatest {
		snap.WindowEnd = s.latest
		snap.WindowStart = s.latest.Add(-s.window)
	}
	return snap
}

// displayOrder lists configured channels first, then any other seen channel sorted.
func (s *Store) displayOrder() []string {
	order := make([]string, 0, len(s.channels)+len(s.series))
	order = append(order, s.channels...)

	var extra []string
	for ch := range s.series {
		if !s.known(ch) {
			extra = append(extra, ch)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

func (s *Store) known(channel string) bool {
	for _, ch := range s.channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// OnUpdate registers a callback invoked with every committed snapshot.
// The callback runs on the committing goroutine and should return quickly.
func (s *Store) OnUpdate(callback func(Snapshot)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// notifyCallbacks invokes all registered callbacks without holding the data lock.
func (s *Store) notifyCallbacks(snap Snapshot) {
	s.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(snap)
		}
	}
}

func trimSamples(samples []sample.Sample, cutoff time.Time) []sample.Sample {
	kept := samples[:0]
	for _, smp := range samples {
		if !smp.Timestamp.Before(cutoff) {
			kept = append(kept, smp)
		}
	}
	return kept
}

func trimSpeeds(speeds []tracker.BeltSpeed, cutoff time.Time) []tracker.BeltSpeed {
	kept := speeds[:0]
	for _, sp := range speeds {
		if !sp.Timestamp.Before(cutoff) {
			kept = append(kept, sp)
		}
	}
	return kept
}

func tensionRange(samples []sample.Sample) (lo, hi int, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	lo, hi = samples[0].Tension, samples[0].Tension
	for _, smp := range samples[1:] {
		lo = min(lo, smp.Tension)
		hi = max(hi, smp.Tension)
	}
	return lo, hi, true
}

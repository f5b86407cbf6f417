package series

import (
	"time"

	"github.com/itohio/beltmon/pkg/sample"
	"github.com/itohio/beltmon/pkg/tracker"
)

// Batch stages one tick's appends so the tick can be committed or discarded as a whole.
type Batch struct {
	window time.Duration

	samples map[string][]sample.Sample
	order   []string
	speeds  []tracker.BeltSpeed
	count   int

	latest    time.Time
	hasLatest bool

	temperatureF   float64
	hasTemperature bool
	beltSpeed      float64
	hasBeltSpeed   bool
	cycles         int
	hasCycles      bool
}

// NewBatch creates an empty batch for this store.
func (s *Store) NewBatch() *Batch {
	return &Batch{
		window:  s.window,
		samples: make(map[string][]sample.Sample),
	}
}

// Add stages one sample.
func (b *Batch) Add(channel string, smp sample.Sample) {
	if _, ok := b.samples[channel]; !ok {
		b.order = append(b.order, channel)
	}
	b.samples[channel] = append(b.samples[channel], smp)
	b.count++

	if !b.hasLatest || smp.Timestamp.After(b.latest) {
		b.latest = smp.Timestamp
		b.hasLatest = true
	}
}

// AddSpeed stages a belt speed measurement and makes it the current belt speed.
func (b *Batch) AddSpeed(sp tracker.BeltSpeed) {
	b.speeds = append(b.speeds, sp)
	b.beltSpeed = sp.Speed
	b.hasBeltSpeed = true
}

// SetBeltSpeed overrides the current belt speed without adding history.
func (b *Batch) SetBeltSpeed(v float64) {
	b.beltSpeed = v
	b.hasBeltSpeed = true
}

// SetTemperature stages the latest temperature (F).
func (b *Batch) SetTemperature(f float64) {
	b.temperatureF = f
	b.hasTemperature = true
}

// SetCycles stages the revolution count.
func (b *Batch) SetCycles(n int) {
	b.cycles = n
	b.hasCycles = true
}

// Len returns the number of samples staged so far. Pruned samples still count.
func (b *Batch) Len() int {
	return b.count
}

// Latest returns the newest staged timestamp.
func (b *Batch) Latest() (time.Time, bool) {
	return b.latest, b.hasLatest
}

// Prune drops staged data that the commit would trim anyway.
// A long backlog then never holds more than one window per channel.
func (b *Batch) Prune() {
	if !b.hasLatest {
		return
	}
	cutoff := b.latest.Add(-b.window)
	for ch, samples := range b.samples {
		b.samples[ch] = trimSamples(samples, cutoff)
	}
	b.speeds = trimSpeeds(b.speeds, cutoff)
}

package series

import (
	"time"

	"github.com/itohio/beltmon/pkg/sample"
	"github.com/itohio/beltmon/pkg/tracker"
)

// Snapshot is the immutable value handed to the visualizer every tick.
type Snapshot struct {
	Channels       []string                   `json:"channels"` // Display order
	Series         map[string][]sample.Sample `json:"series"`
	Speeds         []tracker.BeltSpeed        `json:"speeds"`
	TemperatureF   float64                    `json:"temperature_f"`
	HasTemperature bool                       `json:"has_temperature"`
	Cycles         int                        `json:"cycles"`
	BeltSpeed      float64                    `json:"belt_speed"`
	HasBeltSpeed   bool                       `json:"has_belt_speed"`
	TensionMin     int                        `json:"tension_min"`
	TensionMax     int                        `json:"tension_max"`
	HasRange       bool                       `json:"has_range"`
	WindowStart    time.Time                  `json:"window_start"`
	WindowEnd      time.Time                  `json:"window_end"`
	SegmentGap     time.Duration              `json:"segment_gap"`
}

// Segment is a pair of consecutive samples that may be joined by a line.
type Segment struct {
	From sample.Sample `json:"from"`
	To   sample.Sample `json:"to"`
}

// Drawable reports whether b follows a closely enough to be joined by a line.
func Drawable(a, b sample.Sample, gap time.Duration) bool {
	return !b.Timestamp.After(a.Timestamp.Add(gap))
}

// Segments returns the drawable pairs of consecutive samples.
func Segments(samples []sample.Sample, gap time.Duration) []Segment {
	if len(samples) < 2 {
		return nil
	}
	segments := make([]Segment, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		if Drawable(samples[i-1], samples[i], gap) {
			segments = append(segments, Segment{From: samples[i-1], To: samples[i]})
		}
	}
	return segments
}

// Breaks returns the timestamps of samples that are not drawable from their
// predecessor, i.e. where a new line run starts after a gap.
func Breaks(samples []sample.Sample, gap time.Duration) []time.Time {
	var breaks []time.Time
	for i := 1; i < len(samples); i++ {
		if !Drawable(samples[i-1], samples[i], gap) {
			breaks = append(breaks, samples[i].Timestamp)
		}
	}
	return breaks
}

// Segments returns the drawable pairs of one channel using the snapshot's gap.
func (s Snapshot) Segments(channel string) []Segment {
	return Segments(s.Series[channel], s.SegmentGap)
}

// Len returns the number of samples across all channels.
func (s Snapshot) Len() int {
	n := 0
	for _, samples := range s.Series {
		n += len(samples)
	}
	return n
}

// Downsample returns a copy with every channel reduced to at most maxPoints samples.
// Ranges and scalars are kept from the full data.
func (s Snapshot) Downsample(maxPoints int) Snapshot {
	out := s
	out.Series = make(map[string][]sample.Sample, len(s.Series))
	for ch, samples := range s.Series {
		out.Series[ch] = sample.Decimate(nil, samples, maxPoints)
	}
	return out
}

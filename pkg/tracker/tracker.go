package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/beltmon/pkg/record"
)

// ErrUndefinedMetric marks a derived value that cannot be computed for one transition.
// It suppresses that value only; the tick continues.
var ErrUndefinedMetric = errors.New("undefined metric")

// Reasons a belt speed sample is suppressed.
const (
	ReasonUnknownChannel = "unknown_channel"
	ReasonZeroElapsed    = "zero_elapsed"
)

// UndefinedError explains why a transition produced no belt speed.
type UndefinedError struct {
	Reason string
	From   string
	To     string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("%s: belt speed %s->%s: %s", ErrUndefinedMetric, e.From, e.To, e.Reason)
}

// Is lets errors.Is(err, ErrUndefinedMetric) match.
func (e *UndefinedError) Is(target error) bool {
	return target == ErrUndefinedMetric
}

// BeltSpeed is one speed measurement between two consecutive transitions.
type BeltSpeed struct {
	Timestamp time.Time     `json:"t"`       // Time of the transition that produced it
	From      string        `json:"from"`    // Channel being left
	To        string        `json:"to"`      // Channel being entered
	Speed     float64       `json:"speed"`   // Distance units per second
	Elapsed   time.Duration `json:"elapsed"` // Time since the previous transition
}

// State is the carried-over tracker state. It is a plain value so it can be
// staged, discarded or persisted.
type State struct {
	LastChannel    string
	HasChannel     bool
	LastTransition time.Time
	HasTransition  bool
	Cycles         int
}

// Event is what a single record did to the tracker.
type Event struct {
	Transition bool
	From       string
	To         string
	Speed      *BeltSpeed // nil when no speed was emitted
	Wrapped    bool       // Cycle counter was incremented
	Undefined  error      // Set when a transition could not produce a speed
}

// Tracker detects channel transitions and revolution wrap-around.
type Tracker struct {
	table *ChannelTable
	state State
}

// New creates a tracker with no prior channel.
func New(table *ChannelTable) *Tracker {
	return &Tracker{table: table}
}

// Observe feeds one record in scan order.
//
// The first record only initialises state: it sets the channel and the time
// reference, but is never a transition. Every later change of channel is a
// transition: it emits a belt speed against the previous reference, counts a
// cycle when the loop wraps to a lower ordinal, and becomes the new reference.
func (t *Tracker) Observe(rec record.SensorRecord) Event {
	if !t.state.HasChannel {
		t.state.LastChannel = rec.Channel
		t.state.HasChannel = true
		t.state.LastTransition = rec.Timestamp
		t.state.HasTransition = true
		return Event{}
	}

	if rec.Channel == t.state.LastChannel {
		return Event{}
	}

	ev := Event{
		Transition: true,
		From:       t.state.LastChannel,
		To:         rec.Channel,
	}

	if t.state.HasTransition {
		ev.Speed, ev.Undefined = t.speed(ev.From, ev.To, rec.Timestamp)
	}

	if t.table.Less(ev.To, ev.From) {
		t.state.Cycles++
		ev.Wrapped = true
	}

	t.state.LastTransition = rec.Timestamp
	t.state.HasTransition = true
	t.state.LastChannel = rec.Channel

	return ev
}

// speed computes distance(from) / elapsed since the previous transition.
func (t *Tracker) speed(from, to string, at time.Time) (*BeltSpeed, error) {
	distance, ok := t.table.Distance(from)
	if !ok {
		return nil, &UndefinedError{Reason: ReasonUnknownChannel, From: from, To: to}
	}

	elapsed := at.Sub(t.state.LastTransition)
	if elapsed <= 0 {
		return nil, &UndefinedError{Reason: ReasonZeroElapsed, From: from, To: to}
	}

	return &BeltSpeed{
		Timestamp: at,
		From:      from,
		To:        to,
		Speed:     distance / elapsed.Seconds(),
		Elapsed:   elapsed,
	}, nil
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	return t.state
}

// Restore replaces the current state, e.g. from a checkpoint or a committed tick.
func (t *Tracker) Restore(s State) {
	t.state = s
}

// Reset forgets everything, starting a new observation period.
func (t *Tracker) Reset() {
	t.state = State{}
}

// Cycles returns the number of full revolutions seen.
func (t *Tracker) Cycles() int {
	return t.state.Cycles
}

// Clone returns an independent tracker sharing the channel table.
func (t *Tracker) Clone() *Tracker {
	return &Tracker{table: t.table, state: t.state}
}

package tracker

import (
	"sort"
	"strconv"

	"github.com/itohio/beltmon/pkg/config"
)

// Channel is one antenna around the conveyor loop.
type Channel struct {
	ID       string
	Ordinal  int
	Distance float64
}

// ChannelTable is the explicit ordering and travel distance of the known channels.
type ChannelTable struct {
	channels []Channel
	byID     map[string]Channel
}

// NewChannelTable builds a table from configuration, sorted by ordinal.
func NewChannelTable(cfg []config.ChannelConfig) *ChannelTable {
	t := &ChannelTable{
		channels: make([]Channel, 0, len(cfg)),
		byID:     make(map[string]Channel, len(cfg)),
	}
	for _, c := range cfg {
		ch := Channel{ID: c.ID, Ordinal: c.Ordinal, Distance: c.Distance}
		t.channels = append(t.channels, ch)
		t.byID[c.ID] = ch
	}
	sort.SliceStable(t.channels, func(i, j int) bool {
		return t.channels[i].Ordinal < t.channels[j].Ordinal
	})
	return t
}

// IDs returns the known channel ids in loop order.
func (t *ChannelTable) IDs() []string {
	ids := make([]string, len(t.channels))
	for i, ch := range t.channels {
		ids[i] = ch.ID
	}
	return ids
}

// Ordinal returns the configured position of a channel.
func (t *ChannelTable) Ordinal(id string) (int, bool) {
	ch, ok := t.byID[id]
	return ch.Ordinal, ok
}

// Distance returns the belt travel from a channel to the next one.
func (t *ChannelTable) Distance(id string) (float64, bool) {
	ch, ok := t.byID[id]
	return ch.Distance, ok
}

// Less reports whether channel a comes before channel b in the loop.
// Known channels compare by ordinal. If either is unknown, ids that both parse
// as integers compare numerically, anything else lexically.
func (t *ChannelTable) Less(a, b string) bool {
	oa, okA := t.byID[a]
	ob, okB := t.byID[b]
	if okA && okB {
		return oa.Ordinal < ob.Ordinal
	}

	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

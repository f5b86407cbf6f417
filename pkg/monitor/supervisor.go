package monitor

import (
	"context"
	"log/slog"
	"time"
)

// Trigger requests an extra tick as soon as possible.
// Requests made while one is already pending are merged into it.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run restores the checkpoint and then ticks every poll interval, or sooner
// when triggered or while a backlog remains, until ctx is done.
// Ticks run one at a time on this goroutine.
func (m *Monitor) Run(ctx context.Context) {
	if _, err := m.Restore(); err != nil {
		slog.Warn("Could not restore checkpoint", slog.Any("error", err))
	}

	interval := m.cfg.Poll.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Failures are logged and counted by RunTick; the next tick retries
		if report, err := m.RunTick(ctx); err == nil && report.More {
			// Work through a backlog without waiting for the ticker
			m.Trigger()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.trigger:
		}
	}
}

package orchestration

import (
	"context"
	"log/slog"
	"time"

	"github.com/sirouk/clawboard/internal/model"
)

// Worker periodically promotes/stalls OrchestrationItems. Shaped on
// snooze.Worker's ticker+context-cancellation loop.
type Worker struct {
	tracker  *Tracker
	interval time.Duration
}

func NewWorker(t *Tracker, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{tracker: t, interval: interval}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("orchestration tick worker starting", "intervalSeconds", w.interval.Seconds())
	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestration tick worker stopping")
			return
		case <-ticker.C:
			w.tracker.Tick(ctx)
		}
	}
}

// TickStats summarizes one Tick pass for callers that want to report it
// (tests, an admin endpoint).
type TickStats struct {
	Checked int
	Stalled int
}

// Tick scans items whose nextCheckAt has passed: items idle past StallAfter
// are marked stalled (and their run's still-running items are left alone --
// only the idle item itself stalls), everything else gets nextCheckAt pushed
// forward by CheckInEvery and its attempts bumped.
func (t *Tracker) Tick(ctx context.Context) TickStats {
	now := time.Now().UTC()
	due, err := t.store.ListOrchestrationItemsDue(ctx, model.FormatISO(now))
	if err != nil {
		slog.Warn("orchestration: list due items failed", "error", err)
		return TickStats{}
	}

	stats := TickStats{Checked: len(due)}
	for _, it := range due {
		lastActivity, err := model.ParseISO(it.LastActivityAt)
		if err != nil {
			lastActivity = now
		}
		if now.Sub(lastActivity) > StallAfter {
			if err := t.store.UpdateOrchestrationItemStatus(ctx, it.ID, model.OrchestrationStalled); err != nil {
				slog.Warn("orchestration: mark stalled failed", "itemId", it.ID, "error", err)
				continue
			}
			stats.Stalled++
			continue
		}
		nextCheckAt := model.FormatISO(now.Add(CheckInEvery))
		if err := t.store.CheckInOrchestrationItem(ctx, it.ID, nextCheckAt); err != nil {
			slog.Warn("orchestration: check-in failed", "itemId", it.ID, "error", err)
		}
	}
	return stats
}

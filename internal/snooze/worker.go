// Package snooze implements the SnoozeWorker: a ticker that reactivates
// Topics and Tasks whose snoozedUntil has passed. Grounded on the teacher's
// ticker-driven background worker shape (independent goroutine, own poll
// interval, context-cancellation shutdown).
package snooze

import (
	"context"
	"log/slog"
	"time"

	"github.com/sirouk/clawboard/internal/bus"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/pkg/protocol"
)

// Worker periodically clears expired snoozes.
type Worker struct {
	store    store.Store
	hub      *bus.Hub
	interval time.Duration
}

func New(st store.Store, hub *bus.Hub, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{store: st, hub: hub, interval: interval}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("snooze worker starting", "intervalSeconds", w.interval.Seconds())
	for {
		select {
		case <-ctx.Done():
			slog.Info("snooze worker stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	now := model.NowISO()

	topics, err := w.store.FindTopicsSnoozedBefore(ctx, now)
	if err != nil {
		slog.Warn("snooze: list topics failed", "error", err)
	}
	for _, t := range topics {
		t.SnoozedUntil = nil
		t.Status = model.TopicActive
		if err := w.store.UpdateTopic(ctx, &t); err != nil {
			slog.Warn("snooze: unsnooze topic failed", "topicId", t.ID, "error", err)
			continue
		}
		w.hub.Publish(protocol.EventTopicUpserted, t, t.UpdatedAt)
	}

	tasks, err := w.store.FindTasksSnoozedBefore(ctx, now)
	if err != nil {
		slog.Warn("snooze: list tasks failed", "error", err)
	}
	for _, t := range tasks {
		t.SnoozedUntil = nil
		if err := w.store.UpdateTask(ctx, &t); err != nil {
			slog.Warn("snooze: unsnooze task failed", "taskId", t.ID, "error", err)
			continue
		}
		w.hub.Publish(protocol.EventTaskUpserted, t, t.UpdatedAt)
	}

	if len(topics) > 0 || len(tasks) > 0 {
		slog.Info("snooze cycle revived rows", "topics", len(topics), "tasks", len(tasks))
	}
}

// Package queueworker implements IngestQueueWorker: pulls pending durable
// ingest envelopes and replays them through IngestService.Append. Safe under
// multiple instances because ClaimIngestBatch's claim is a single-row state
// transition and Append is idempotent.
package queueworker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

// envelope is the JSON shape persisted in IngestQueueItem.Payload.
type envelope struct {
	Payload ingest.AppendPayload `json:"payload"`
	Header  string               `json:"idempotencyKeyHeader,omitempty"`
}

// Worker drains the durable ingest queue at a fixed poll interval.
type Worker struct {
	store    store.Store
	ingest   *ingest.Service
	interval time.Duration
	batch    int
}

func New(st store.Store, svc *ingest.Service, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	if batch <= 0 {
		batch = 50
	}
	return &Worker{store: st, ingest: svc, interval: interval, batch: batch}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("ingest queue worker starting", "intervalMs", w.interval.Milliseconds(), "batch", w.batch)
	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest queue worker stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	items, err := w.store.ClaimIngestBatch(ctx, w.batch)
	if err != nil {
		slog.Warn("ingest queue: claim batch failed", "error", err)
		return
	}
	for _, item := range items {
		var env envelope
		if err := json.Unmarshal(item.Payload, &env); err != nil {
			w.fail(ctx, item.ID, "malformed envelope: "+err.Error())
			continue
		}
		if _, err := w.ingest.Append(ctx, env.Payload, env.Header); err != nil {
			w.fail(ctx, item.ID, err.Error())
			continue
		}
		if err := w.store.CompleteIngest(ctx, item.ID); err != nil {
			slog.Warn("ingest queue: mark done failed", "id", item.ID, "error", err)
		}
	}
}

func (w *Worker) fail(ctx context.Context, id int64, msg string) {
	if err := w.store.FailIngest(ctx, id, msg); err != nil {
		slog.Warn("ingest queue: mark failed failed", "id", id, "error", err)
	}
}

// Enqueue serializes a payload into the durable ingest queue; used by the
// HTTP handler for POST /api/ingest when ingest.queueMode is enabled.
func Enqueue(ctx context.Context, st store.Store, payload ingest.AppendPayload, header string) error {
	body, err := json.Marshal(envelope{Payload: payload, Header: header})
	if err != nil {
		return err
	}
	return st.EnqueueIngest(ctx, &model.IngestQueueItem{Payload: body})
}

package reindex

import (
	"context"
	"log/slog"
	"time"

	"github.com/sirouk/clawboard/internal/search"
	"github.com/sirouk/clawboard/internal/vectorindex"
)

// Consumer periodically drains the reindex queue and applies each request
// to the VectorIndex, embedding upsert text on the way in. Shaped on
// snooze.Worker's ticker+context-cancellation loop.
type Consumer struct {
	queue    *Queue
	vectors  vectorindex.Index
	embedder search.Embedder
	interval time.Duration
	batch    int
}

func NewConsumer(q *Queue, vectors vectorindex.Index, embedder search.Embedder, interval time.Duration, batch int) *Consumer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batch <= 0 {
		batch = 200
	}
	return &Consumer{queue: q, vectors: vectors, embedder: embedder, interval: interval, batch: batch}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	slog.Info("reindex consumer starting", "intervalSeconds", c.interval.Seconds())
	for {
		select {
		case <-ctx.Done():
			slog.Info("reindex consumer stopping")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Consumer) tick(ctx context.Context) {
	if c.vectors == nil {
		return
	}
	reqs, err := c.queue.Drain()
	if err != nil {
		slog.Warn("reindex: drain failed", "error", err)
		return
	}
	if len(reqs) == 0 {
		return
	}
	reqs = Coalesce(reqs)

	upserted, deleted, failed := 0, 0, 0
	for i := 0; i < len(reqs); i += c.batch {
		end := i + c.batch
		if end > len(reqs) {
			end = len(reqs)
		}
		for _, req := range reqs[i:end] {
			if err := c.apply(ctx, req); err != nil {
				slog.Warn("reindex: apply request failed", "kind", req.Kind, "id", req.ID, "op", req.Op, "error", err)
				failed++
				continue
			}
			if req.Op == OpDelete {
				deleted++
			} else {
				upserted++
			}
		}
	}
	slog.Info("reindex cycle complete", "upserted", upserted, "deleted", deleted, "failed", failed)
}

func (c *Consumer) apply(ctx context.Context, req Request) error {
	if req.Op == OpDelete {
		return c.vectors.Delete(ctx, req.Kind, req.ID)
	}
	if req.Text == "" {
		return c.vectors.Delete(ctx, req.Kind, req.ID)
	}
	if c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, req.Text)
	if err != nil {
		return err
	}
	return c.vectors.Upsert(ctx, req.Kind, req.ID, vec)
}

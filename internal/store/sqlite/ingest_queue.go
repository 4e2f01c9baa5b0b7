package sqlite

import (
	"context"
	"database/sql"

	"github.com/sirouk/clawboard/internal/model"
)

func (s *Store) EnqueueIngest(ctx context.Context, item *model.IngestQueueItem) error {
	item.Status = model.IngestQueuePending
	item.CreatedAt = model.NowISO()
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO ingest_queue (payload, status, attempts, created_at) VALUES (?, ?, 0, ?)
		`, item.Payload, string(item.Status), item.CreatedAt)
		if err != nil {
			return err
		}
		item.ID, err = res.LastInsertId()
		return err
	})
}

// ClaimIngestBatch atomically moves up to batch pending rows to processing
// and returns them, so two workers never claim the same row.
func (s *Store) ClaimIngestBatch(ctx context.Context, batch int) ([]model.IngestQueueItem, error) {
	if batch <= 0 {
		batch = 50
	}
	var out []model.IngestQueueItem
	err := withRetry(ctx, func() error {
		out = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `SELECT id, payload, status, attempts, last_error, created_at FROM ingest_queue WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`, batch)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var item model.IngestQueueItem
			var status string
			var lastErr sql.NullString
			if err := rows.Scan(&item.ID, &item.Payload, &status, &item.Attempts, &lastErr, &item.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			item.Status = model.IngestQueueProcessing
			if lastErr.Valid {
				item.LastError = &lastErr.String
			}
			out = append(out, item)
			ids = append(ids, item.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE ingest_queue SET status = 'processing', attempts = attempts + 1 WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return out, err
}

func (s *Store) CompleteIngest(ctx context.Context, id int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE ingest_queue SET status = 'done' WHERE id = ?`, id)
		return err
	})
}

func (s *Store) FailIngest(ctx context.Context, id int64, errMsg string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE ingest_queue SET status = 'failed', last_error = ? WHERE id = ?`, errMsg, id)
		return err
	})
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

const dispatchColumns = `id, request_id, session_key, agent_id, sent_at, message, attachment_ids, status,
	attempts, next_attempt_at, claimed_at, completed_at, last_error, created_at, updated_at`

func (s *Store) EnqueueChatDispatch(ctx context.Context, d *model.ChatDispatch) error {
	now := model.NowISO()
	d.Status = model.DispatchPending
	d.CreatedAt, d.UpdatedAt = now, now
	if d.NextAttemptAt == "" {
		d.NextAttemptAt = now
	}
	attachmentIDs, err := json.Marshal(d.AttachmentIDs)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_dispatch (request_id, session_key, agent_id, sent_at, message, attachment_ids,
				status, attempts, next_attempt_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, d.RequestID, d.SessionKey, d.AgentID, d.SentAt, d.Message, string(attachmentIDs), string(d.Status),
			d.NextAttemptAt, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return err
		}
		d.ID, err = res.LastInsertId()
		return err
	})
}

// ClaimChatDispatchBatch claims up to limit pending/retry rows whose
// nextAttemptAt has elapsed, marking them processing with claimedAt set.
func (s *Store) ClaimChatDispatchBatch(ctx context.Context, limit int) ([]model.ChatDispatch, error) {
	if limit <= 0 {
		limit = 10
	}
	now := model.NowISO()
	var out []model.ChatDispatch
	err := withRetry(ctx, func() error {
		out = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `SELECT `+dispatchColumns+` FROM chat_dispatch
			WHERE status IN ('pending', 'retry') AND next_attempt_at <= ?
			ORDER BY next_attempt_at ASC LIMIT ?`, now, limit)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			d, err := scanDispatch(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, d)
			ids = append(ids, d.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE chat_dispatch SET status = 'processing', claimed_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
				return err
			}
			out[i].Status = model.DispatchProcessing
			out[i].ClaimedAt = &now
		}
		return tx.Commit()
	})
	return out, err
}

func (s *Store) UpdateChatDispatchStatus(ctx context.Context, id int64, status model.DispatchStatus, nextAttemptAt string, lastError *string) error {
	now := model.NowISO()
	var completedAt *string
	if status == model.DispatchSent || status == model.DispatchFailed {
		completedAt = &now
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE chat_dispatch SET status = ?, attempts = attempts + 1, next_attempt_at = ?,
				completed_at = ?, last_error = ?, updated_at = ? WHERE id = ?
		`, string(status), nextAttemptAt, completedAt, lastError, now, id)
		return err
	})
}

func (s *Store) GetChatDispatchByRequestID(ctx context.Context, requestID string) (*model.ChatDispatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM chat_dispatch WHERE request_id = ?`, requestID)
	d, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDispatch(r rowScanner) (model.ChatDispatch, error) {
	var d model.ChatDispatch
	var claimedAt, completedAt, lastError sql.NullString
	var attachmentIDs, status string
	if err := r.Scan(&d.ID, &d.RequestID, &d.SessionKey, &d.AgentID, &d.SentAt, &d.Message, &attachmentIDs,
		&status, &d.Attempts, &d.NextAttemptAt, &claimedAt, &completedAt, &lastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	d.Status = model.DispatchStatus(status)
	if attachmentIDs != "" {
		_ = json.Unmarshal([]byte(attachmentIDs), &d.AttachmentIDs)
	}
	if claimedAt.Valid {
		d.ClaimedAt = &claimedAt.String
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.String
	}
	if lastError.Valid {
		d.LastError = &lastError.String
	}
	return d, nil
}

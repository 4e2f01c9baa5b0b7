package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

func (s *Store) CreateOrchestrationRun(ctx context.Context, r *model.OrchestrationRun) error {
	now := model.NowISO()
	r.CreatedAt, r.UpdatedAt = now, now
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO orchestration_runs (request_id, session_key, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(request_id) DO NOTHING
		`, r.RequestID, r.SessionKey, r.CreatedAt, r.UpdatedAt)
		return err
	})
}

func (s *Store) GetOrchestrationRun(ctx context.Context, requestID string) (*model.OrchestrationRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT request_id, session_key, created_at, updated_at FROM orchestration_runs WHERE request_id = ?`, requestID)
	var r model.OrchestrationRun
	if err := row.Scan(&r.RequestID, &r.SessionKey, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// FindOrchestrationRunBySessionKey resolves the run a sessionKey belongs to:
// first by direct match against the run's own base session, falling back to
// a "subagent:<sessionKey>" item-key lookup so a subagent's own completion
// message can be routed back to its parent run.
func (s *Store) FindOrchestrationRunBySessionKey(ctx context.Context, sessionKey string) (*model.OrchestrationRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT request_id, session_key, created_at, updated_at FROM orchestration_runs WHERE session_key = ? ORDER BY created_at DESC LIMIT 1`, sessionKey)
	var r model.OrchestrationRun
	err := row.Scan(&r.RequestID, &r.SessionKey, &r.CreatedAt, &r.UpdatedAt)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var requestID string
	row = s.db.QueryRowContext(ctx, `SELECT request_id FROM orchestration_items WHERE item_key = ? ORDER BY created_at DESC LIMIT 1`, "subagent:"+sessionKey)
	if err := row.Scan(&requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.GetOrchestrationRun(ctx, requestID)
}

// UpsertOrchestrationItem inserts the item if (requestId, itemKey) is new,
// or leaves the existing row untouched otherwise -- item keys are stable so
// duplicate spawn detections never create duplicate items.
func (s *Store) UpsertOrchestrationItem(ctx context.Context, it *model.OrchestrationItem) (bool, error) {
	created := false
	err := withRetry(ctx, func() error {
		var existingID string
		row := s.db.QueryRowContext(ctx, `SELECT id FROM orchestration_items WHERE request_id = ? AND item_key = ?`, it.RequestID, it.ItemKey)
		scanErr := row.Scan(&existingID)
		if scanErr == nil {
			it.ID = existingID
			created = false
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}
		now := model.NowISO()
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.CreatedAt, it.UpdatedAt = now, now
		if it.Status == "" {
			it.Status = model.OrchestrationRunning
		}
		if it.NextCheckAt == "" {
			it.NextCheckAt = now
		}
		if it.LastActivityAt == "" {
			it.LastActivityAt = now
		}
		meta, mErr := json.Marshal(it.Meta)
		if mErr != nil {
			return mErr
		}
		_, iErr := s.db.ExecContext(ctx, `
			INSERT INTO orchestration_items (id, request_id, item_key, status, attempts, next_check_at, last_activity_at, meta, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, it.RequestID, it.ItemKey, string(it.Status), it.Attempts, it.NextCheckAt, it.LastActivityAt, string(meta), it.CreatedAt, it.UpdatedAt)
		if iErr != nil {
			return iErr
		}
		created = true
		return nil
	})
	return created, err
}

func (s *Store) GetOrchestrationItem(ctx context.Context, requestID, itemKey string) (*model.OrchestrationItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, request_id, item_key, status, attempts, next_check_at, last_activity_at, meta, created_at, updated_at
		FROM orchestration_items WHERE request_id = ? AND item_key = ?`, requestID, itemKey)
	it, err := scanOrchestrationItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Store) ListOrchestrationItems(ctx context.Context, requestID string) ([]model.OrchestrationItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, item_key, status, attempts, next_check_at, last_activity_at, meta, created_at, updated_at
		FROM orchestration_items WHERE request_id = ? ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OrchestrationItem
	for rows.Next() {
		it, err := scanOrchestrationItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrchestrationItemStatus(ctx context.Context, id string, status model.OrchestrationItemStatus) error {
	now := model.NowISO()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE orchestration_items SET status = ?, last_activity_at = ?, updated_at = ? WHERE id = ?`,
			string(status), now, now, id)
		return err
	})
}

// CheckInOrchestrationItem bumps attempts and nextCheckAt for a still-running
// item without touching lastActivityAt -- a periodic check-in is not
// external activity, and must not mask a genuinely stalled item.
func (s *Store) CheckInOrchestrationItem(ctx context.Context, id string, nextCheckAt string) error {
	now := model.NowISO()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE orchestration_items SET attempts = attempts + 1, next_check_at = ?, updated_at = ?
			WHERE id = ?
		`, nextCheckAt, now, id)
		return err
	})
}

func (s *Store) ListOrchestrationItemsDue(ctx context.Context, before string) ([]model.OrchestrationItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, item_key, status, attempts, next_check_at, last_activity_at, meta, created_at, updated_at
		FROM orchestration_items WHERE status = 'running' AND next_check_at <= ? ORDER BY next_check_at ASC`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OrchestrationItem
	for rows.Next() {
		it, err := scanOrchestrationItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrchestrationItem(r rowScanner) (model.OrchestrationItem, error) {
	var it model.OrchestrationItem
	var status, meta string
	if err := r.Scan(&it.ID, &it.RequestID, &it.ItemKey, &status, &it.Attempts, &it.NextCheckAt, &it.LastActivityAt,
		&meta, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return it, err
	}
	it.Status = model.OrchestrationItemStatus(status)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &it.Meta)
	}
	return it, nil
}

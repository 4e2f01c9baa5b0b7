package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

func (s *Store) GetGatewayHistoryCursor(ctx context.Context, sessionKey string) (*model.GatewayHistoryCursor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_key, last_timestamp_ms, updated_at FROM gateway_history_cursor WHERE session_key = ?`, sessionKey)
	var c model.GatewayHistoryCursor
	if err := row.Scan(&c.SessionKey, &c.LastTimestampMs, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) SetGatewayHistoryCursor(ctx context.Context, c *model.GatewayHistoryCursor) error {
	c.UpdatedAt = model.NowISO()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO gateway_history_cursor (session_key, last_timestamp_ms, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(session_key) DO UPDATE SET last_timestamp_ms = excluded.last_timestamp_ms, updated_at = excluded.updated_at
		`, c.SessionKey, c.LastTimestampMs, c.UpdatedAt)
		return err
	})
}

func (s *Store) GetGatewayHistorySyncState(ctx context.Context) (*model.GatewayHistorySyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, last_run_at, last_success_at, last_error_at, last_error, consecutive_failures,
			last_ingested_count, last_session_count, last_cursor_update_count, last_deferred_count, updated_at
		FROM gateway_history_sync_state WHERE singleton = 1
	`)
	var st model.GatewayHistorySyncState
	var lastRunAt, lastSuccessAt, lastErrorAt, lastError sql.NullString
	err := row.Scan(&st.Status, &lastRunAt, &lastSuccessAt, &lastErrorAt, &lastError, &st.ConsecutiveFailures,
		&st.LastIngestedCount, &st.LastSessionCount, &st.LastCursorUpdateCount, &st.LastDeferredCount, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.GatewayHistorySyncState{Status: "idle"}, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		st.LastRunAt = &lastRunAt.String
	}
	if lastSuccessAt.Valid {
		st.LastSuccessAt = &lastSuccessAt.String
	}
	if lastErrorAt.Valid {
		st.LastErrorAt = &lastErrorAt.String
	}
	if lastError.Valid {
		st.LastError = &lastError.String
	}
	return &st, nil
}

func (s *Store) SetGatewayHistorySyncState(ctx context.Context, st *model.GatewayHistorySyncState) error {
	st.UpdatedAt = model.NowISO()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO gateway_history_sync_state (singleton, status, last_run_at, last_success_at, last_error_at,
				last_error, consecutive_failures, last_ingested_count, last_session_count, last_cursor_update_count,
				last_deferred_count, updated_at)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(singleton) DO UPDATE SET
				status = excluded.status, last_run_at = excluded.last_run_at, last_success_at = excluded.last_success_at,
				last_error_at = excluded.last_error_at, last_error = excluded.last_error,
				consecutive_failures = excluded.consecutive_failures, last_ingested_count = excluded.last_ingested_count,
				last_session_count = excluded.last_session_count, last_cursor_update_count = excluded.last_cursor_update_count,
				last_deferred_count = excluded.last_deferred_count, updated_at = excluded.updated_at
		`, st.Status, st.LastRunAt, st.LastSuccessAt, st.LastErrorAt, st.LastError, st.ConsecutiveFailures,
			st.LastIngestedCount, st.LastSessionCount, st.LastCursorUpdateCount, st.LastDeferredCount, st.UpdatedAt)
		return err
	})
}

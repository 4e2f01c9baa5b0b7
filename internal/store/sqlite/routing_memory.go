package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

func (s *Store) GetSessionRoutingMemory(ctx context.Context, sessionKey string) (*model.SessionRoutingMemory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_key, items, created_at, updated_at FROM session_routing_memory WHERE session_key = ?`, sessionKey)
	var m model.SessionRoutingMemory
	var items string
	if err := row.Scan(&m.SessionKey, &items, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if items != "" {
		_ = json.Unmarshal([]byte(items), &m.Items)
	}
	return &m, nil
}

// AppendSessionRoutingDecision appends d to the session's bounded routing
// history, trimming to the most recent maxItems entries.
func (s *Store) AppendSessionRoutingDecision(ctx context.Context, sessionKey string, d model.RoutingDecision, maxItems int) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var items []model.RoutingDecision
		var createdAt string
		row := tx.QueryRowContext(ctx, `SELECT items, created_at FROM session_routing_memory WHERE session_key = ?`, sessionKey)
		var raw string
		err = row.Scan(&raw, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			createdAt = model.NowISO()
		case err != nil:
			return err
		default:
			_ = json.Unmarshal([]byte(raw), &items)
		}

		items = append(items, d)
		if maxItems > 0 && len(items) > maxItems {
			items = items[len(items)-maxItems:]
		}
		data, err := json.Marshal(items)
		if err != nil {
			return err
		}
		now := model.NowISO()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_routing_memory (session_key, items, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_key) DO UPDATE SET items = excluded.items, updated_at = excluded.updated_at
		`, sessionKey, string(data), createdAt, now)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

const taskColumns = `id, space_id, topic_id, title, sort_index, color, status, tags, snoozed_until,
	pinned, priority, due_date, digest, digest_updated_at, created_at, updated_at`

func (s *Store) ListTasks(ctx context.Context, spaceID string, topicID *string) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE space_id = ?`
	args := []any{spaceID}
	if topicID != nil {
		query += ` AND topic_id = ?`
		args = append(args, *topicID)
	}
	query += ` ORDER BY sort_index ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	now := model.NowISO()
	t.CreatedAt, t.UpdatedAt = now, now
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.SpaceID, t.TopicID, t.Title, t.SortIndex, t.Color, t.Status, string(tags), t.SnoozedUntil,
			t.Pinned, t.Priority, t.DueDate, t.Digest, t.DigestUpdatedAt, t.CreatedAt, t.UpdatedAt)
		return err
	})
}

func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	t.UpdatedAt = model.NowISO()
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET space_id=?, topic_id=?, title=?, sort_index=?, color=?, status=?, tags=?,
				snoozed_until=?, pinned=?, priority=?, due_date=?, digest=?, digest_updated_at=?, updated_at=?
			WHERE id = ?
		`, t.SpaceID, t.TopicID, t.Title, t.SortIndex, t.Color, t.Status, string(tags), t.SnoozedUntil,
			t.Pinned, t.Priority, t.DueDate, t.Digest, t.DigestUpdatedAt, t.UpdatedAt, t.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
}

func (s *Store) ReorderTasks(ctx context.Context, spaceID string, orderedIDs []string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET sort_index = ?, updated_at = ? WHERE id = ? AND space_id = ?`,
				i, model.NowISO(), id, spaceID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) FindTasksSnoozedBefore(ctx context.Context, cutoff string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status != 'done' AND snoozed_until IS NOT NULL AND snoozed_until <= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(r rowScanner) (model.Task, error) {
	var t model.Task
	var topicID, color, snoozedUntil, dueDate, digest, digestUpdatedAt sql.NullString
	var tags string
	if err := r.Scan(&t.ID, &t.SpaceID, &topicID, &t.Title, &t.SortIndex, &color, &t.Status, &tags,
		&snoozedUntil, &t.Pinned, &t.Priority, &dueDate, &digest, &digestUpdatedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if topicID.Valid {
		t.TopicID = &topicID.String
	}
	if color.Valid {
		t.Color = &color.String
	}
	if snoozedUntil.Valid {
		t.SnoozedUntil = &snoozedUntil.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if digest.Valid {
		t.Digest = &digest.String
	}
	if digestUpdatedAt.Valid {
		t.DigestUpdatedAt = &digestUpdatedAt.String
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &t.Tags)
	}
	return t, nil
}

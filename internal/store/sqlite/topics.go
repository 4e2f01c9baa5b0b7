package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

const topicColumns = `id, space_id, name, created_by, sort_index, color, description, priority, status,
	snoozed_until, tags, parent_id, pinned, digest, digest_updated_at, created_at, updated_at`

func (s *Store) ListTopics(ctx context.Context, spaceID string) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE space_id = ? ORDER BY sort_index ASC`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTopic(ctx context.Context, id string) (*model.Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTopic(ctx context.Context, t *model.Topic) error {
	now := model.NowISO()
	t.CreatedAt, t.UpdatedAt = now, now
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO topics (`+topicColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.SpaceID, t.Name, t.CreatedBy, t.SortIndex, t.Color, t.Description, t.Priority, t.Status,
			t.SnoozedUntil, string(tags), t.ParentID, t.Pinned, t.Digest, t.DigestUpdatedAt, t.CreatedAt, t.UpdatedAt)
		return err
	})
}

func (s *Store) UpdateTopic(ctx context.Context, t *model.Topic) error {
	t.UpdatedAt = model.NowISO()
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE topics SET space_id=?, name=?, created_by=?, sort_index=?, color=?, description=?,
				priority=?, status=?, snoozed_until=?, tags=?, parent_id=?, pinned=?, digest=?,
				digest_updated_at=?, updated_at=?
			WHERE id = ?
		`, t.SpaceID, t.Name, t.CreatedBy, t.SortIndex, t.Color, t.Description, t.Priority, t.Status,
			t.SnoozedUntil, string(tags), t.ParentID, t.Pinned, t.Digest, t.DigestUpdatedAt, t.UpdatedAt, t.ID)
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

func (s *Store) UpdateTopicDigest(ctx context.Context, id, digest, digestUpdatedAt string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE topics SET digest = ?, digest_updated_at = ? WHERE id = ?`, digest, digestUpdatedAt, id)
		return err
	})
}

func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
		return err
	})
}

func (s *Store) ReorderTopics(ctx context.Context, spaceID string, orderedIDs []string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE topics SET sort_index = ?, updated_at = ? WHERE id = ? AND space_id = ?`,
				i, model.NowISO(), id, spaceID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) FindTopicsSnoozedBefore(ctx context.Context, cutoff string) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE status = 'snoozed' AND snoozed_until IS NOT NULL AND snoozed_until <= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTopic(r rowScanner) (model.Topic, error) {
	var t model.Topic
	var color, description, snoozedUntil, parentID, digest, digestUpdatedAt sql.NullString
	var tags string
	if err := r.Scan(&t.ID, &t.SpaceID, &t.Name, &t.CreatedBy, &t.SortIndex, &color, &description, &t.Priority,
		&t.Status, &snoozedUntil, &tags, &parentID, &t.Pinned, &digest, &digestUpdatedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if color.Valid {
		t.Color = &color.String
	}
	if description.Valid {
		t.Description = &description.String
	}
	if snoozedUntil.Valid {
		t.SnoozedUntil = &snoozedUntil.String
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
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

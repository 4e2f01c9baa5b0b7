package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

func (s *Store) ListSpaces(ctx context.Context) ([]model.Space, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color, default_visible, connectivity, created_at, updated_at FROM spaces ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Space
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) GetSpace(ctx context.Context, id string) (*model.Space, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, color, default_visible, connectivity, created_at, updated_at FROM spaces WHERE id = ?`, id)
	sp, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *Store) UpsertSpace(ctx context.Context, sp *model.Space) error {
	now := model.NowISO()
	if sp.CreatedAt == "" {
		sp.CreatedAt = now
	}
	sp.UpdatedAt = now

	connectivity, err := json.Marshal(sp.Connectivity)
	if err != nil {
		return err
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO spaces (id, name, color, default_visible, connectivity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				color = excluded.color,
				default_visible = excluded.default_visible,
				connectivity = excluded.connectivity,
				updated_at = excluded.updated_at
		`, sp.ID, sp.Name, sp.Color, sp.DefaultVisible, string(connectivity), sp.CreatedAt, sp.UpdatedAt)
		return err
	})
}

func (s *Store) SetSpaceConnectivity(ctx context.Context, id string, connectivity map[string]bool) error {
	data, err := json.Marshal(connectivity)
	if err != nil {
		return err
	}
	now := model.NowISO()
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE spaces SET connectivity = ?, updated_at = ? WHERE id = ?`, string(data), now, id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpace(r rowScanner) (model.Space, error) {
	var sp model.Space
	var color sql.NullString
	var connectivity string
	if err := r.Scan(&sp.ID, &sp.Name, &color, &sp.DefaultVisible, &connectivity, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return sp, err
	}
	if color.Valid {
		sp.Color = &color.String
	}
	sp.Connectivity = map[string]bool{}
	if connectivity != "" {
		_ = json.Unmarshal([]byte(connectivity), &sp.Connectivity)
	}
	return sp, nil
}

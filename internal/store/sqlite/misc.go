// Package sqlite: attachments, drafts, and the singleton instance config row.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

func (s *Store) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	now := model.NowISO()
	a.CreatedAt, a.UpdatedAt = now, now
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attachments (id, log_id, file_name, mime_type, size_bytes, sha256, storage_path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.LogID, a.FileName, a.MimeType, a.SizeBytes, a.SHA256, a.StoragePath, a.CreatedAt, a.UpdatedAt)
		return err
	})
}

func (s *Store) GetAttachment(ctx context.Context, id string) (*model.Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, log_id, file_name, mime_type, size_bytes, sha256, storage_path, created_at, updated_at FROM attachments WHERE id = ?`, id)
	var a model.Attachment
	var logID sql.NullString
	if err := row.Scan(&a.ID, &logID, &a.FileName, &a.MimeType, &a.SizeBytes, &a.SHA256, &a.StoragePath, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if logID.Valid {
		a.LogID = &logID.String
	}
	return &a, nil
}

func (s *Store) GetDraft(ctx context.Context, key string) (*model.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, value, created_at, updated_at FROM drafts WHERE key = ?`, key)
	var d model.Draft
	if err := row.Scan(&d.Key, &d.Value, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) PutDraft(ctx context.Context, d *model.Draft) error {
	now := model.NowISO()
	if d.CreatedAt == "" {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO drafts (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, d.Key, d.Value, d.CreatedAt, d.UpdatedAt)
		return err
	})
}

func (s *Store) GetInstanceConfig(ctx context.Context) (*model.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT title, integration_level, updated_at FROM instance_config WHERE singleton = 1`)
	var c model.InstanceConfig
	err := row.Scan(&c.Title, &c.IntegrationLevel, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.InstanceConfig{Title: "Clawboard", IntegrationLevel: "standard"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SetInstanceConfig(ctx context.Context, c *model.InstanceConfig) error {
	c.UpdatedAt = model.NowISO()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO instance_config (singleton, title, integration_level, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(singleton) DO UPDATE SET title = excluded.title, integration_level = excluded.integration_level, updated_at = excluded.updated_at
		`, c.Title, c.IntegrationLevel, c.UpdatedAt)
		return err
	})
}

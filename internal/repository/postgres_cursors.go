package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleet-telemetry/internal/models"
)

// GetCursor 读取实体的同步游标
func (s *PostgresStore) GetCursor(ctx context.Context, kind models.EntityKind) (*models.SyncCursor, error) {
	var c models.SyncCursor
	var entity string
	var toVersion sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT entity, to_version, updated_at FROM sync_state WHERE entity = $1`,
		string(kind),
	).Scan(&entity, &toVersion, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCursorNotFound
		}
		return nil, fmt.Errorf("failed to get sync cursor %s: %w", kind, err)
	}
	c.Entity = models.EntityKind(entity)
	c.ToVersion = stringPtr(toVersion)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// SaveCursor 原子地替换实体的游标
func (s *PostgresStore) SaveCursor(ctx context.Context, kind models.EntityKind, toVersion string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sync_state (entity, to_version, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (entity) DO UPDATE SET
			to_version = EXCLUDED.to_version,
			updated_at = EXCLUDED.updated_at
	`, string(kind), toVersion)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor %s: %w", kind, err)
	}
	return nil
}

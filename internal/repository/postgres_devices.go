package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleet-telemetry/internal/models"

	"github.com/lib/pq"
)

// UpsertDevices 写入设备元数据（last-writer-wins）
func (s *PostgresStore) UpsertDevices(ctx context.Context, devices []models.Device) error {
	query := `
		INSERT INTO devices (id, name, serial_number, resolved_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name          = EXCLUDED.name,
			serial_number = EXCLUDED.serial_number,
			resolved_at   = EXCLUDED.resolved_at,
			updated_at    = NOW()
	`
	for _, d := range devices {
		var resolvedAt sql.NullTime
		if d.ResolvedAt != nil {
			resolvedAt = sql.NullTime{Time: d.ResolvedAt.UTC(), Valid: true}
		}
		if _, err := s.q.ExecContext(ctx, query, d.ID, nullString(d.Name), nullString(d.SerialNumber), resolvedAt); err != nil {
			return fmt.Errorf("failed to upsert device %s: %w", d.ID, err)
		}
	}
	return nil
}

// EnsureDevices 为未知设备写入占位行
func (s *PostgresStore) EnsureDevices(ctx context.Context, ids []string) error {
	query := `INSERT INTO devices (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	for _, id := range ids {
		if _, err := s.q.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to ensure device %s: %w", id, err)
		}
	}
	return nil
}

// ResolvedDeviceIDs 查询元数据已获取的设备
func (s *PostgresStore) ResolvedDeviceIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	resolved := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return resolved, nil
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM devices WHERE id = ANY($1) AND resolved_at IS NOT NULL`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolved devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		resolved[id] = struct{}{}
	}
	return resolved, rows.Err()
}

// GetDevice 按 id 查询设备，不存在时返回 models.ErrNotFound
func (s *PostgresStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, serial_number, resolved_at FROM devices WHERE id = $1`, id)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get device %s: %w", id, err)
	}
	return d, nil
}

// ListDevices 列出全部设备（按名称排序，未解析设备按 id）
func (s *PostgresStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, serial_number, resolved_at FROM devices ORDER BY COALESCE(name, id), id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var name, serial sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&d.ID, &name, &serial, &resolvedAt); err != nil {
		return nil, err
	}
	d.Name = stringPtr(name)
	d.SerialNumber = stringPtr(serial)
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		d.ResolvedAt = &t
	}
	return &d, nil
}

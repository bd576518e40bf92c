package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-telemetry/internal/models"
)

// UpsertPositions 写入定位点（主键冲突时整行覆盖）
func (s *PostgresStore) UpsertPositions(ctx context.Context, rows []models.PositionSample) error {
	query := `
		INSERT INTO log_records (id, device_id, date_time, latitude, longitude, speed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			date_time = EXCLUDED.date_time,
			latitude  = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			speed     = EXCLUDED.speed
	`
	for _, p := range rows {
		if _, err := s.q.ExecContext(ctx, query,
			p.ID,
			p.DeviceID,
			p.DateTime.UTC(),
			nullFloat(p.Latitude),
			nullFloat(p.Longitude),
			nullFloat(p.Speed),
		); err != nil {
			return fmt.Errorf("failed to upsert log_record %s: %w", p.ID, err)
		}
	}
	return nil
}

const positionColumns = `id, device_id, date_time, latitude, longitude, speed`

// ListPositions 按设备与时间窗口查询定位点
func (s *PostgresStore) ListPositions(ctx context.Context, deviceID string, from, to time.Time) ([]models.PositionSample, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM log_records
		WHERE device_id = $1
		  AND date_time BETWEEN $2 AND $3
		ORDER BY date_time ASC
	`, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query log_records: %w", err)
	}
	defer rows.Close()

	var out []models.PositionSample
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// NearestPosition 查找时间最接近 at 的定位点（窗口为闭区间）
func (s *PostgresStore) NearestPosition(ctx context.Context, deviceID string, at time.Time, window time.Duration) (*models.PositionSample, error) {
	at = at.UTC()
	row := s.q.QueryRowContext(ctx, `
		SELECT `+positionColumns+`
		FROM log_records
		WHERE device_id = $1
		  AND date_time BETWEEN $2 AND $3
		ORDER BY ABS(EXTRACT(EPOCH FROM (date_time - $4::timestamptz))) ASC, date_time ASC
		LIMIT 1
	`, deviceID, at.Add(-window), at.Add(window), at)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// PositionStats 每台设备的定位点统计（按数量降序）
func (s *PostgresStore) PositionStats(ctx context.Context) ([]DevicePositionStats, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT l.device_id,
		       COALESCE(d.name, l.device_id) AS device_name,
		       COUNT(*)                      AS n,
		       MIN(l.date_time)              AS first_fix,
		       MAX(l.date_time)              AS last_fix
		FROM log_records l
		LEFT JOIN devices d ON d.id = l.device_id
		GROUP BY l.device_id, d.name
		ORDER BY n DESC, l.device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query log_records stats: %w", err)
	}
	defer rows.Close()

	var out []DevicePositionStats
	for rows.Next() {
		var st DevicePositionStats
		if err := rows.Scan(&st.DeviceID, &st.DeviceName, &st.Count, &st.FirstFix, &st.LastFix); err != nil {
			return nil, fmt.Errorf("failed to scan log_records stats: %w", err)
		}
		st.FirstFix = st.FirstFix.UTC()
		st.LastFix = st.LastFix.UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanPosition(row rowScanner) (*models.PositionSample, error) {
	var p models.PositionSample
	var lat, lon, speed sql.NullFloat64
	if err := row.Scan(&p.ID, &p.DeviceID, &p.DateTime, &lat, &lon, &speed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan log_record: %w", err)
	}
	p.DateTime = p.DateTime.UTC()
	p.Latitude = floatPtr(lat)
	p.Longitude = floatPtr(lon)
	p.Speed = floatPtr(speed)
	return &p, nil
}

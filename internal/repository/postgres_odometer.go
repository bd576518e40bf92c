package repository

import (
	"context"
	"fmt"
	"time"

	"fleet-telemetry/internal/models"
)

// UpsertOdometerSamples 写入里程表读数（km）
func (s *PostgresStore) UpsertOdometerSamples(ctx context.Context, rows []models.OdometerSample) error {
	query := `
		INSERT INTO odometer_samples (id, device_id, date_time, odometer_km)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			device_id   = EXCLUDED.device_id,
			date_time   = EXCLUDED.date_time,
			odometer_km = EXCLUDED.odometer_km
	`
	for _, o := range rows {
		if _, err := s.q.ExecContext(ctx, query, o.ID, o.DeviceID, o.DateTime.UTC(), o.OdometerKm); err != nil {
			return fmt.Errorf("failed to upsert odometer_sample %s: %w", o.ID, err)
		}
	}
	return nil
}

// OdometerRanges 时间窗口内每台设备的读数范围
func (s *PostgresStore) OdometerRanges(ctx context.Context, from, to time.Time, deviceID string) ([]OdometerRange, error) {
	query := `
		SELECT device_id,
		       MIN(odometer_km) AS odo_min,
		       MAX(odometer_km) AS odo_max,
		       COUNT(*)         AS samples
		FROM odometer_samples
		WHERE date_time BETWEEN $1 AND $2
	`
	args := []interface{}{from.UTC(), to.UTC()}
	if deviceID != "" {
		query += " AND device_id = $3"
		args = append(args, deviceID)
	}
	query += " GROUP BY device_id ORDER BY device_id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query odometer_samples: %w", err)
	}
	defer rows.Close()

	var out []OdometerRange
	for rows.Next() {
		var r OdometerRange
		if err := rows.Scan(&r.DeviceID, &r.MinKm, &r.MaxKm, &r.Samples); err != nil {
			return nil, fmt.Errorf("failed to scan odometer range: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

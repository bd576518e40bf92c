package repository

import (
	"context"
	"fmt"
	"strings"

	"fleet-telemetry/internal/models"

	"github.com/lib/pq"
)

// UpsertIncidents 写入事件（主键为数据源事件 id）
func (s *PostgresStore) UpsertIncidents(ctx context.Context, rows []models.IncidentEvent) error {
	query := `
		INSERT INTO exception_events (id, device_id, rule_name, severity, date_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			rule_name = EXCLUDED.rule_name,
			severity  = EXCLUDED.severity,
			date_time = EXCLUDED.date_time
	`
	for _, e := range rows {
		if _, err := s.q.ExecContext(ctx, query,
			e.ID,
			e.DeviceID,
			e.RuleName,
			string(e.Severity),
			e.DateTime.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert exception_event %s: %w", e.ID, err)
		}
	}
	return nil
}

// ListIncidents 按过滤条件查询事件（按时间升序，附带设备显示名称）
func (s *PostgresStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]IncidentRow, error) {
	where := []string{"e.date_time BETWEEN $1 AND $2"}
	args := []interface{}{filter.From.UTC(), filter.To.UTC()}
	argN := 3

	if filter.DeviceID != "" {
		where = append(where, fmt.Sprintf("e.device_id = $%d", argN))
		args = append(args, filter.DeviceID)
		argN++
	}
	if len(filter.Rules) > 0 {
		where = append(where, fmt.Sprintf("e.rule_name = ANY($%d)", argN))
		args = append(args, pq.Array(filter.Rules))
		argN++
	}
	if len(filter.Severities) > 0 {
		sev := make([]string, 0, len(filter.Severities))
		for _, s := range filter.Severities {
			sev = append(sev, string(s))
		}
		where = append(where, fmt.Sprintf("e.severity = ANY($%d)", argN))
		args = append(args, pq.Array(sev))
		argN++
	}

	query := `
		SELECT e.id, e.device_id, COALESCE(e.rule_name, ''), COALESCE(e.severity, ''), e.date_time,
		       COALESCE(d.name, e.device_id) AS device_name
		FROM exception_events e
		LEFT JOIN devices d ON d.id = e.device_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.date_time ASC, e.id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exception_events: %w", err)
	}
	defer rows.Close()

	var out []IncidentRow
	for rows.Next() {
		var r IncidentRow
		var severity string
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.RuleName, &severity, &r.DateTime, &r.DeviceName); err != nil {
			return nil, fmt.Errorf("failed to scan exception_event: %w", err)
		}
		r.Severity = models.Severity(severity)
		r.DateTime = r.DateTime.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

package models

import (
	"fmt"
	"time"
)

// Device 设备（对应 devices 表）
type Device struct {
	ID           string     `json:"id"`
	Name         *string    `json:"name,omitempty"`
	SerialNumber *string    `json:"serial_number,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"` // nil 表示占位行（元数据尚未获取）
}

// DisplayName 设备显示名称，未解析时返回原始 id
func (d Device) DisplayName() string {
	if d.Name != nil && *d.Name != "" {
		return *d.Name
	}
	return d.ID
}

// PositionSample 定位点（对应 log_records 表）
type PositionSample struct {
	ID        string    `json:"id"` // SampleKey(device_id, date_time)
	DeviceID  string    `json:"device_id"`
	DateTime  time.Time `json:"date_time"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
}

// IncidentEvent 规则违例事件（对应 exception_events 表）
type IncidentEvent struct {
	ID       string    `json:"id"` // 数据源事件 id
	DeviceID string    `json:"device_id"`
	RuleName string    `json:"rule_name"`
	Severity Severity  `json:"severity"`
	DateTime time.Time `json:"date_time"`
}

// OdometerSample 里程表读数（对应 odometer_samples 表，单位 km）
type OdometerSample struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	DateTime   time.Time `json:"date_time"`
	OdometerKm float64   `json:"odometer_km"`
}

// SyncCursor 同步游标（对应 sync_state 表）
type SyncCursor struct {
	Entity    EntityKind `json:"entity"`
	ToVersion *string    `json:"to_version,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// isoLayout 与 ISO-8601 "YYYY-MM-DDTHH:MM:SS+00:00" 一致；有亚秒时固定 6 位微秒
const (
	isoLayout       = "2006-01-02T15:04:05-07:00"
	isoLayoutMicros = "2006-01-02T15:04:05.000000-07:00"
)

// ISOFormat 将时间格式化为键使用的 ISO-8601 文本（统一转换为 UTC，偏移写作 +00:00）
func ISOFormat(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Truncate(time.Microsecond).Format(isoLayoutMicros)
	}
	return t.Format(isoLayout)
}

// SampleKey 定位点/里程表读数的确定性主键：device_id + "|" + isoformat(时间)
func SampleKey(deviceID string, t time.Time) string {
	return fmt.Sprintf("%s|%s", deviceID, ISOFormat(t))
}

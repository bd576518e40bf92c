package repository

import (
	"context"
	"time"

	"fleet-telemetry/internal/models"
)

// DevicesRepository 设备表
type DevicesRepository interface {
	// UpsertDevices 写入设备元数据（insert-or-replace，重复调用安全）
	UpsertDevices(ctx context.Context, devices []models.Device) error
	// EnsureDevices 为未知设备写入占位行，已存在的行保持不变
	EnsureDevices(ctx context.Context, ids []string) error
	// ResolvedDeviceIDs 返回 ids 中元数据已获取（resolved_at 非空）的设备
	ResolvedDeviceIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// PositionsRepository 定位点表（log_records）
type PositionsRepository interface {
	UpsertPositions(ctx context.Context, rows []models.PositionSample) error
	// ListPositions 按设备与时间窗口（闭区间）查询，按时间升序
	ListPositions(ctx context.Context, deviceID string, from, to time.Time) ([]models.PositionSample, error)
	// NearestPosition 在 [at-window, at+window] 内查找时间差最小的定位点，没有时返回 models.ErrNotFound
	NearestPosition(ctx context.Context, deviceID string, at time.Time, window time.Duration) (*models.PositionSample, error)
	// PositionStats 每台设备的定位点数量与首末时间
	PositionStats(ctx context.Context) ([]DevicePositionStats, error)
}

// IncidentsRepository 事件表（exception_events）
type IncidentsRepository interface {
	UpsertIncidents(ctx context.Context, rows []models.IncidentEvent) error
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]IncidentRow, error)
}

// OdometerRepository 里程表读数表（odometer_samples）
type OdometerRepository interface {
	UpsertOdometerSamples(ctx context.Context, rows []models.OdometerSample) error
	// OdometerRanges 时间窗口内每台设备的最小/最大读数与样本数；deviceID 为空表示全车队
	OdometerRanges(ctx context.Context, from, to time.Time, deviceID string) ([]OdometerRange, error)
}

// CursorRepository 同步游标表（sync_state）
type CursorRepository interface {
	// GetCursor 没有游标时返回 models.ErrCursorNotFound
	GetCursor(ctx context.Context, kind models.EntityKind) (*models.SyncCursor, error)
	SaveCursor(ctx context.Context, kind models.EntityKind, toVersion string) error
}

// Store 标准化数据存储（所有组件通过显式注入的 Store 访问数据）
type Store interface {
	DevicesRepository
	PositionsRepository
	IncidentsRepository
	OdometerRepository
	CursorRepository

	// WithinTx 在单个事务内执行 fn；fn 返回错误时全部回滚
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// IncidentFilter 事件查询过滤器
type IncidentFilter struct {
	From       time.Time
	To         time.Time
	DeviceID   string            // 为空表示全车队
	Rules      []string          // 为空表示不过滤规则
	Severities []models.Severity // 为空表示不过滤严重程度
}

// IncidentRow 事件 + 设备显示名称
type IncidentRow struct {
	models.IncidentEvent
	DeviceName string `json:"device_name"` // 设备未解析时为原始 id
}

// OdometerRange 单台设备在窗口内的读数范围
type OdometerRange struct {
	DeviceID string
	MinKm    float64
	MaxKm    float64
	Samples  int
}

// DevicePositionStats 单台设备定位点统计
type DevicePositionStats struct {
	DeviceID   string
	DeviceName string
	Count      int
	FirstFix   time.Time
	LastFix    time.Time
}

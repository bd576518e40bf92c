package feed

import (
	"context"

	"fleet-telemetry/internal/models"
)

// Provider 遥测数据源（已认证的句柄由调用方提供）
type Provider interface {
	// GetFeed 按游标增量拉取一页数据
	GetFeed(ctx context.Context, req models.FeedRequest) (*models.FeedPage, error)
	// GetDevice 按 id 精确查询单个设备，不存在时返回 models.ErrNotFound
	GetDevice(ctx context.Context, id string) (models.RawRecord, error)
}

// DiagnosticFinder 诊断项查询（用于定位里程表诊断）
type DiagnosticFinder interface {
	FindDiagnostic(ctx context.Context, nameContains string) (models.RawRecord, error)
}

package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"fleet-telemetry/internal/feed"
	"fleet-telemetry/internal/models"
	"fleet-telemetry/internal/repository"

	"go.uber.org/zap"
)

// Result 一次解析的统计
type Result struct {
	Fetched    int      // 本次从数据源获取到元数据的设备数
	Unresolved []string // 获取失败、以占位行保存的设备 id
}

// DeviceResolver 设备元数据解析器
// 对同步页中引用的设备，只为尚未解析的 id 逐个查询数据源；查询失败不阻断同步。
type DeviceResolver struct {
	provider feed.Provider
	logger   *zap.Logger
	now      func() time.Time
}

// NewDeviceResolver 创建设备解析器
func NewDeviceResolver(provider feed.Provider, logger *zap.Logger) *DeviceResolver {
	return &DeviceResolver{
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve 确保 ids 中每个设备在 store 中都有对应行
// 已解析的设备不再查询；失败的设备写入占位行并记录警告。
// 只有 store 错误和上下文取消会返回 error。
func (r *DeviceResolver) Resolve(ctx context.Context, store repository.DevicesRepository, ids map[string]struct{}) (*Result, error) {
	result := &Result{}
	if len(ids) == 0 {
		return result, nil
	}

	all := make([]string, 0, len(ids))
	for id := range ids {
		all = append(all, id)
	}
	sort.Strings(all)

	known, err := store.ResolvedDeviceIDs(ctx, all)
	if err != nil {
		return nil, err
	}

	var resolved []models.Device
	for _, id := range all {
		if _, ok := known[id]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := r.provider.GetDevice(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Failed to resolve device metadata",
				zap.String("device_id", id),
				zap.Error(err),
			)
			result.Unresolved = append(result.Unresolved, id)
			continue
		}
		resolved = append(resolved, r.toDevice(id, raw))
	}

	if len(resolved) > 0 {
		if err := store.UpsertDevices(ctx, resolved); err != nil {
			return nil, err
		}
	}
	if len(result.Unresolved) > 0 {
		if err := store.EnsureDevices(ctx, result.Unresolved); err != nil {
			return nil, err
		}
	}

	result.Fetched = len(resolved)
	return result, nil
}

func (r *DeviceResolver) toDevice(id string, raw models.RawRecord) models.Device {
	now := r.now().UTC()
	dev := models.Device{ID: id, ResolvedAt: &now}
	if v, ok := raw.First("name", "Name"); ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			dev.Name = &s
		}
	}
	if v, ok := raw.First("serialNumber", "SerialNumber", "serial_number"); ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			dev.SerialNumber = &s
		}
	}
	return dev
}

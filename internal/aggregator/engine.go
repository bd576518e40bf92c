package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fleet-telemetry/internal/models"
	"fleet-telemetry/internal/repository"

	"go.uber.org/zap"
)

// DefaultCorrelationWindow 事件与定位点时间匹配窗口（±）
const DefaultCorrelationWindow = 5 * time.Minute

// DefaultRankingLimit 排名默认条数
const DefaultRankingLimit = 10

// Reader 聚合引擎只读访问的存储接口
type Reader interface {
	repository.DevicesRepository
	repository.PositionsRepository
	repository.IncidentsRepository
	repository.OdometerRepository
}

// Window 查询时间窗口（闭区间）
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Options 聚合引擎参数
type Options struct {
	CacheTTL          time.Duration
	CorrelationWindow time.Duration
}

// DeviceDistance 单台设备窗口内行驶距离
type DeviceDistance struct {
	DeviceID string  `json:"device_id"`
	Km       float64 `json:"km"`
	Samples  int     `json:"samples"`
}

// DistanceSummary 行驶距离汇总
type DistanceSummary struct {
	Devices []DeviceDistance `json:"devices"`
	TotalKm float64          `json:"total_km"`
}

// RankingEntry 严重事件率排名项
type RankingEntry struct {
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	Km         float64 `json:"km"`
	Grave      int     `json:"grave"`
	RatePer100 float64 `json:"rate_per_100km"`
}

// RouteSummary 单台设备窗口内的轨迹概要
type RouteSummary struct {
	DeviceID string        `json:"device_id"`
	Points   int           `json:"points"`
	FirstFix *time.Time    `json:"first_fix,omitempty"`
	LastFix  *time.Time    `json:"last_fix,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RuleCount 按规则统计的事件数
type RuleCount struct {
	RuleName string `json:"rule_name"`
	Count    int    `json:"count"`
}

// Engine 聚合引擎（只读）
type Engine struct {
	store             Reader
	cache             *resultCache
	correlationWindow time.Duration
	logger            *zap.Logger
}

// NewEngine 创建聚合引擎；kv 为 nil 时不缓存
func NewEngine(store Reader, kv KVStore, opts Options, logger *zap.Logger) *Engine {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CorrelationWindow <= 0 {
		opts.CorrelationWindow = DefaultCorrelationWindow
	}
	return &Engine{
		store:             store,
		cache:             &resultCache{kv: kv, ttl: opts.CacheTTL, logger: logger},
		correlationWindow: opts.CorrelationWindow,
		logger:            logger,
	}
}

// Distance 窗口内行驶距离
// 每台设备取 max-min（小于 0 时按 0）；只有一个样本的设备贡献 0；车队总距离为各设备之和。
// deviceID 为空表示全车队。
func (e *Engine) Distance(ctx context.Context, w Window, deviceID string) (*DistanceSummary, error) {
	key := cacheKey("distance", windowKey(w), deviceID)
	var cached DistanceSummary
	if e.cache.load(ctx, key, &cached) {
		return &cached, nil
	}

	ranges, err := e.store.OdometerRanges(ctx, w.From, w.To, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load odometer ranges: %w", err)
	}

	summary := &DistanceSummary{Devices: make([]DeviceDistance, 0, len(ranges))}
	for _, r := range ranges {
		km := 0.0
		if r.Samples >= 2 {
			km = r.MaxKm - r.MinKm
			if km < 0 {
				km = 0
			}
		}
		summary.Devices = append(summary.Devices, DeviceDistance{DeviceID: r.DeviceID, Km: km, Samples: r.Samples})
		summary.TotalKm += km
	}
	sort.Slice(summary.Devices, func(i, j int) bool {
		return summary.Devices[i].DeviceID < summary.Devices[j].DeviceID
	})

	e.cache.store(ctx, key, summary)
	return summary, nil
}

// RatePer100Km 每 100 km 的事件数；距离不大于 0 时无定义（返回 nil）
func RatePer100Km(count int, km float64) *float64 {
	if km <= 0 {
		return nil
	}
	rate := float64(count) / km * 100.0
	return &rate
}

// GraveIncidentRate 窗口内严重事件（High/Critical，仅关注规则）每 100 km 的次数
// 距离为 0 或未知时返回 nil（"无此指标"），不会返回 0 或无穷大。
func (e *Engine) GraveIncidentRate(ctx context.Context, w Window, deviceID string) (*float64, error) {
	dist, err := e.Distance(ctx, w, deviceID)
	if err != nil {
		return nil, err
	}
	graves, err := e.graveIncidents(ctx, w, deviceID)
	if err != nil {
		return nil, err
	}
	return RatePer100Km(len(graves), dist.TotalKm), nil
}

func (e *Engine) graveIncidents(ctx context.Context, w Window, deviceID string) ([]repository.IncidentRow, error) {
	rows, err := e.store.ListIncidents(ctx, repository.IncidentFilter{
		From:       w.From,
		To:         w.To,
		DeviceID:   deviceID,
		Rules:      models.MonitoredRules,
		Severities: models.GraveSeverities,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load grave incidents: %w", err)
	}
	return rows, nil
}

// Incidents 窗口内关注规则的全部事件（附带设备显示名称），按时间升序
func (e *Engine) Incidents(ctx context.Context, w Window, deviceID string) ([]repository.IncidentRow, error) {
	rows, err := e.store.ListIncidents(ctx, repository.IncidentFilter{
		From:     w.From,
		To:       w.To,
		DeviceID: deviceID,
		Rules:    models.MonitoredRules,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}
	return rows, nil
}

// IncidentsByRule 按规则统计窗口内关注规则的事件数（数量降序，同数量按规则名）
func (e *Engine) IncidentsByRule(ctx context.Context, w Window, deviceID string) ([]RuleCount, error) {
	rows, err := e.Incidents(ctx, w, deviceID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.RuleName]++
	}
	out := make([]RuleCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, RuleCount{RuleName: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RuleName < out[j].RuleName
	})
	return out, nil
}

// LocateIncident 在 ±correlationWindow 内查找与事件时间最接近的同设备定位点
// 没有定位点时返回 nil（"无法定位"），不是错误。
func (e *Engine) LocateIncident(ctx context.Context, incident models.IncidentEvent) (*models.PositionSample, error) {
	pos, err := e.store.NearestPosition(ctx, incident.DeviceID, incident.DateTime, e.correlationWindow)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to locate incident %s: %w", incident.ID, err)
	}
	return pos, nil
}

// Ranking 严重事件率排名（越低越好）
// 没有定义事件率的设备（距离为 0）不参与排名；同事件率按设备名称排序。
func (e *Engine) Ranking(ctx context.Context, w Window, limit int) ([]RankingEntry, error) {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	key := cacheKey("ranking", windowKey(w), fmt.Sprint(limit))
	var cached []RankingEntry
	if e.cache.load(ctx, key, &cached) {
		return cached, nil
	}

	dist, err := e.Distance(ctx, w, "")
	if err != nil {
		return nil, err
	}
	graves, err := e.graveIncidents(ctx, w, "")
	if err != nil {
		return nil, err
	}

	graveCount := make(map[string]int)
	names := make(map[string]string)
	for _, g := range graves {
		graveCount[g.DeviceID]++
		names[g.DeviceID] = g.DeviceName
	}

	entries := make([]RankingEntry, 0, len(dist.Devices))
	for _, d := range dist.Devices {
		rate := RatePer100Km(graveCount[d.DeviceID], d.Km)
		if rate == nil {
			continue
		}
		name, ok := names[d.DeviceID]
		if !ok {
			name = e.deviceName(ctx, d.DeviceID)
		}
		entries = append(entries, RankingEntry{
			DeviceID:   d.DeviceID,
			DeviceName: name,
			Km:         d.Km,
			Grave:      graveCount[d.DeviceID],
			RatePer100: *rate,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RatePer100 != entries[j].RatePer100 {
			return entries[i].RatePer100 < entries[j].RatePer100
		}
		return entries[i].DeviceName < entries[j].DeviceName
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	e.cache.store(ctx, key, entries)
	return entries, nil
}

func (e *Engine) deviceName(ctx context.Context, id string) string {
	dev, err := e.store.GetDevice(ctx, id)
	if err != nil {
		return id
	}
	return dev.DisplayName()
}

// RouteSummary 单台设备窗口内的定位点数量、首末时间与持续时间
func (e *Engine) RouteSummary(ctx context.Context, w Window, deviceID string) (*RouteSummary, error) {
	points, err := e.store.ListPositions(ctx, deviceID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	summary := &RouteSummary{DeviceID: deviceID, Points: len(points)}
	if len(points) == 0 {
		return summary, nil
	}
	first := points[0].DateTime
	last := points[len(points)-1].DateTime
	summary.FirstFix = &first
	summary.LastFix = &last
	summary.Duration = last.Sub(first)
	return summary, nil
}

package report

import (
	"context"
	"fmt"
	"time"

	"fleet-telemetry/internal/aggregator"
	"fleet-telemetry/internal/repository"

	"go.uber.org/zap"
)

// LocatedIncident 事件及其最近定位点（无法定位时坐标为空）
type LocatedIncident struct {
	repository.IncidentRow
	Latitude  *float64
	Longitude *float64
}

// FleetReport 一个时间窗口的车队报表数据
type FleetReport struct {
	Window      aggregator.Window
	GeneratedAt time.Time
	DeviceID    string // 为空表示全车队
	Distance    *aggregator.DistanceSummary
	GraveRate   *float64 // nil 表示无定义
	Ranking     []aggregator.RankingEntry
	ByRule      []aggregator.RuleCount
	Incidents   []LocatedIncident
	Positions   []repository.DevicePositionStats
}

// Builder 从聚合引擎收集报表数据
type Builder struct {
	engine *aggregator.Engine
	store  repository.PositionsRepository
	logger *zap.Logger
}

// NewBuilder 创建报表构建器
func NewBuilder(engine *aggregator.Engine, store repository.PositionsRepository, logger *zap.Logger) *Builder {
	return &Builder{engine: engine, store: store, logger: logger}
}

// Build 收集窗口内的距离、严重事件率、排名与事件列表
func (b *Builder) Build(ctx context.Context, w aggregator.Window, deviceID string) (*FleetReport, error) {
	rep := &FleetReport{Window: w, DeviceID: deviceID, GeneratedAt: time.Now().UTC()}

	var err error
	if rep.Distance, err = b.engine.Distance(ctx, w, deviceID); err != nil {
		return nil, err
	}
	if rep.GraveRate, err = b.engine.GraveIncidentRate(ctx, w, deviceID); err != nil {
		return nil, err
	}
	if rep.Ranking, err = b.engine.Ranking(ctx, w, aggregator.DefaultRankingLimit); err != nil {
		return nil, err
	}
	if rep.ByRule, err = b.engine.IncidentsByRule(ctx, w, deviceID); err != nil {
		return nil, err
	}

	incidents, err := b.engine.Incidents(ctx, w, deviceID)
	if err != nil {
		return nil, err
	}
	located := 0
	for _, inc := range incidents {
		li := LocatedIncident{IncidentRow: inc}
		pos, err := b.engine.LocateIncident(ctx, inc.IncidentEvent)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			li.Latitude, li.Longitude = pos.Latitude, pos.Longitude
			located++
		}
		rep.Incidents = append(rep.Incidents, li)
	}

	if rep.Positions, err = b.store.PositionStats(ctx); err != nil {
		return nil, fmt.Errorf("failed to load position stats: %w", err)
	}

	b.logger.Info("Built fleet report",
		zap.Time("from", w.From),
		zap.Time("to", w.To),
		zap.String("device_id", deviceID),
		zap.Float64("total_km", rep.Distance.TotalKm),
		zap.Int("incidents", len(rep.Incidents)),
		zap.Int("located", located),
	)
	return rep, nil
}

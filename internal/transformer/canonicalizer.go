package transformer

import (
	"fmt"

	"fleet-telemetry/internal/models"

	"go.uber.org/zap"
)

// Batch 一页原始记录的标准化结果
type Batch struct {
	Kind      models.EntityKind
	Positions []models.PositionSample
	Incidents []models.IncidentEvent
	Odometer  []models.OdometerSample
	Rejected  []error
}

// Accepted 成功标准化的行数
func (b *Batch) Accepted() int {
	return len(b.Positions) + len(b.Incidents) + len(b.Odometer)
}

// Canonicalizer 按实体类型分派到对应的转换器
type Canonicalizer struct {
	position *PositionTransformer
	incident *IncidentTransformer
	odometer *OdometerTransformer
	logger   *zap.Logger
}

// NewCanonicalizer 创建标准化器
func NewCanonicalizer(logger *zap.Logger) *Canonicalizer {
	return &Canonicalizer{
		position: NewPositionTransformer(logger),
		incident: NewIncidentTransformer(logger),
		odometer: NewOdometerTransformer(logger),
		logger:   logger,
	}
}

// Canonicalize 转换一页记录；单条记录失败只计入 Rejected，不影响其他记录
func (c *Canonicalizer) Canonicalize(kind models.EntityKind, records []models.RawRecord) (*Batch, error) {
	switch kind {
	case models.EntityLogRecord, models.EntityExceptionEvent, models.EntityStatusData:
	default:
		return nil, fmt.Errorf("no transformer for entity kind %s", kind)
	}
	batch := &Batch{Kind: kind}

	for i, raw := range records {
		var err error
		switch kind {
		case models.EntityLogRecord:
			var p *models.PositionSample
			if p, err = c.position.Transform(raw); err == nil {
				batch.Positions = append(batch.Positions, *p)
			}
		case models.EntityExceptionEvent:
			var e *models.IncidentEvent
			if e, err = c.incident.Transform(raw); err == nil {
				batch.Incidents = append(batch.Incidents, *e)
			}
		case models.EntityStatusData:
			var o *models.OdometerSample
			if o, err = c.odometer.Transform(raw); err == nil {
				batch.Odometer = append(batch.Odometer, *o)
			}
		}

		if err != nil {
			batch.Rejected = append(batch.Rejected, err)
			c.logger.Debug("Rejected malformed record",
				zap.String("entity", string(kind)),
				zap.Int("index", i),
				zap.Error(err),
			)
		}
	}

	return batch, nil
}

// DeviceIDs 收集一页记录中引用的不同设备 id
func DeviceIDs(records []models.RawRecord) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, raw := range records {
		if ref, ok := models.DeviceRefOf(raw); ok {
			ids[ref.ID] = struct{}{}
		}
	}
	return ids
}

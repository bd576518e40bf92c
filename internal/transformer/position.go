package transformer

import (
	"fleet-telemetry/internal/models"

	"go.uber.org/zap"
)

// PositionTransformer 定位点（LogRecord）转换器
type PositionTransformer struct {
	logger *zap.Logger
}

// NewPositionTransformer 创建定位点转换器
func NewPositionTransformer(logger *zap.Logger) *PositionTransformer {
	return &PositionTransformer{logger: logger}
}

// Transform 将一条原始 LogRecord 转换为标准化定位点
// 缺少设备、时间无法解析或数值字段非空但非法时拒绝该记录。
func (t *PositionTransformer) Transform(raw models.RawRecord) (*models.PositionSample, error) {
	kind := models.EntityLogRecord

	ref, ok := models.DeviceRefOf(raw)
	if !ok {
		return nil, models.Malformed(kind, "device", "missing device id")
	}

	tsRaw, ok := raw.First("dateTime", "DateTime")
	if !ok {
		return nil, models.Malformed(kind, "dateTime", "missing timestamp")
	}
	ts, err := ParseTimestamp(tsRaw)
	if err != nil {
		return nil, models.Malformed(kind, "dateTime", err.Error())
	}

	sample := &models.PositionSample{
		ID:       models.SampleKey(ref.ID, ts),
		DeviceID: ref.ID,
		DateTime: ts,
	}

	fields := []struct {
		name string
		keys []string
		dst  **float64
	}{
		{"latitude", []string{"latitude", "Latitude"}, &sample.Latitude},
		{"longitude", []string{"longitude", "Longitude"}, &sample.Longitude},
		{"speed", []string{"speed", "Speed"}, &sample.Speed},
	}
	for _, f := range fields {
		v, _ := raw.First(f.keys...)
		parsed, err := ParseFloat(v)
		if err != nil {
			return nil, models.Malformed(kind, f.name, err.Error())
		}
		*f.dst = parsed
	}

	return sample, nil
}

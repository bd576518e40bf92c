package transformer

import (
	"fleet-telemetry/internal/models"

	"go.uber.org/zap"
)

// OdometerMetersThreshold 里程表单位判定阈值
// 数据源不携带单位：读数大于该值视为米（除以 1000 得到 km），否则视为 km。
// 这是一个已知的近似规则，不是数据源保证的约定。
const OdometerMetersThreshold = 1_000_000

// NormalizeOdometerKm 按阈值规则将原始读数换算为 km
func NormalizeOdometerKm(raw float64) float64 {
	if raw > OdometerMetersThreshold {
		return raw / 1000.0
	}
	return raw
}

// OdometerTransformer 里程表读数（StatusData）转换器
type OdometerTransformer struct {
	logger *zap.Logger
}

// NewOdometerTransformer 创建里程表转换器
func NewOdometerTransformer(logger *zap.Logger) *OdometerTransformer {
	return &OdometerTransformer{logger: logger}
}

// Transform 将一条原始 StatusData 转换为标准化里程表读数
func (t *OdometerTransformer) Transform(raw models.RawRecord) (*models.OdometerSample, error) {
	kind := models.EntityStatusData

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

	v, _ := raw.First("data", "Data")
	value, err := ParseFloat(v)
	if err != nil {
		return nil, models.Malformed(kind, "data", err.Error())
	}
	if value == nil {
		return nil, models.Malformed(kind, "data", "missing odometer reading")
	}

	return &models.OdometerSample{
		ID:         models.SampleKey(ref.ID, ts),
		DeviceID:   ref.ID,
		DateTime:   ts,
		OdometerKm: NormalizeOdometerKm(*value),
	}, nil
}

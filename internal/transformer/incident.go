package transformer

import (
	"fleet-telemetry/internal/models"

	"go.uber.org/zap"
)

// IncidentTransformer 规则违例事件（ExceptionEvent）转换器
// 所有事件都会保存；规则白名单过滤在读取侧进行。
type IncidentTransformer struct {
	logger *zap.Logger
}

// NewIncidentTransformer 创建事件转换器
func NewIncidentTransformer(logger *zap.Logger) *IncidentTransformer {
	return &IncidentTransformer{logger: logger}
}

// Transform 将一条原始 ExceptionEvent 转换为标准化事件
func (t *IncidentTransformer) Transform(raw models.RawRecord) (*models.IncidentEvent, error) {
	kind := models.EntityExceptionEvent

	idRaw, _ := raw.First("id", "Id")
	id, ok := stringField(idRaw)
	if !ok {
		return nil, models.Malformed(kind, "id", "missing event id")
	}

	ref, ok := models.DeviceRefOf(raw)
	if !ok {
		return nil, models.Malformed(kind, "device", "missing device id")
	}

	tsRaw, ok := raw.First("activeFrom", "dateTime", "DateTime")
	if !ok {
		return nil, models.Malformed(kind, "activeFrom", "missing timestamp")
	}
	ts, err := ParseTimestamp(tsRaw)
	if err != nil {
		return nil, models.Malformed(kind, "activeFrom", err.Error())
	}

	ruleName, severity := ruleOf(raw)

	return &models.IncidentEvent{
		ID:       id,
		DeviceID: ref.ID,
		RuleName: ruleName,
		Severity: severity,
		DateTime: ts,
	}, nil
}

// ruleOf 提取规则名称与严重程度
// 规则名称优先级：ruleName > rule.name > rule（字符串）> rule.id
func ruleOf(raw models.RawRecord) (string, models.Severity) {
	var name string
	var severity models.Severity

	if v, ok := raw.First("ruleName", "RuleName"); ok {
		name, _ = stringField(v)
	}

	if rule, ok := raw.First("rule", "Rule"); ok {
		switch r := rule.(type) {
		case string:
			if name == "" {
				name = r
			}
		case map[string]interface{}:
			if name == "" {
				if n, ok := stringField(r["name"]); ok {
					name = n
				} else if id, ok := stringField(r["id"]); ok {
					name = id
				}
			}
			if s, ok := r["severity"].(string); ok {
				severity = models.ParseSeverity(s)
			}
		}
	}

	if v, ok := raw.First("severity", "Severity"); ok {
		if s, ok := v.(string); ok {
			severity = models.ParseSeverity(s)
		}
	}

	return name, severity
}

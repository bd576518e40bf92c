package models

import "strings"

// Severity 事件严重程度（有序：Critical > High > Medium > Low）
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityUnknown  Severity = ""
)

// ParseSeverity 不区分大小写解析严重程度，无法识别时返回 SeverityUnknown
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Rank 排序权重，数值越大越严重
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// IsGrave 是否为严重事件（High 或 Critical）
func (s Severity) IsGrave() bool {
	return s.Rank() >= SeverityHigh.Rank()
}

// GraveSeverities 严重事件的取值集合
var GraveSeverities = []Severity{SeverityHigh, SeverityCritical}

// MonitoredRules 报表关注的规则白名单（过滤发生在读取侧）
var MonitoredRules = []string{
	"Harsh Braking",
	"Harsh Acceleration",
	"Harsh Cornering",
	"Possible Collision",
}

// IsMonitoredRule 是否为关注的规则
func IsMonitoredRule(name string) bool {
	for _, r := range MonitoredRules {
		if r == name {
			return true
		}
	}
	return false
}

package models

import "fmt"

// EntityKind 远程数据源的实体类型（同时作为 sync_state.entity 的取值）
type EntityKind string

const (
	EntityLogRecord      EntityKind = "LogRecord"      // 定位点
	EntityExceptionEvent EntityKind = "ExceptionEvent" // 规则违例事件
	EntityStatusData     EntityKind = "StatusData"     // 里程表读数（odometer 诊断）
	EntityDevice         EntityKind = "Device"
	EntityDiagnostic     EntityKind = "Diagnostic"
)

// SyncableKinds 参与增量同步的实体类型
var SyncableKinds = []EntityKind{EntityLogRecord, EntityExceptionEvent, EntityStatusData}

// ParseEntityKind 解析同步实体类型（大小写敏感，与数据源保持一致）
func ParseEntityKind(s string) (EntityKind, error) {
	for _, k := range SyncableKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind: %q", s)
}

func (k EntityKind) String() string { return string(k) }

package models

// RawRecord 数据源返回的原始记录（字段类型不固定）
type RawRecord map[string]interface{}

// FeedRequest 增量拉取请求
type FeedRequest struct {
	Kind         EntityKind
	FromVersion  *string // 为 nil 表示首次同步
	ResultsLimit int
	Search       map[string]interface{} // 可选的附加过滤条件（如 diagnosticSearch）
}

// FeedPage 增量拉取结果
// ToVersion 即使 Records 为空也会返回（表示"暂无新数据"）
type FeedPage struct {
	Records   []RawRecord
	ToVersion string
}

// First 依次读取多个候选字段，返回第一个存在且非 nil 的值
func (r RawRecord) First(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

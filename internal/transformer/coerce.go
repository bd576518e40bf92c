package transformer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// 无时区的 ISO-8601 文本按 UTC 解释
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp 解析时间字段
// 支持 RFC3339 文本（"Z" 等同于 "+00:00"）、无时区文本（视为 UTC）以及已是 time.Time 的值。
// 结果统一为 UTC。
func ParseTimestamp(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, fmt.Errorf("zero timestamp")
		}
		return val.UTC(), nil
	case *time.Time:
		if val == nil || val.IsZero() {
			return time.Time{}, fmt.Errorf("zero timestamp")
		}
		return val.UTC(), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		// 偏移量形如 +0000 的文本
		if t, err := time.Parse("2006-01-02T15:04:05.999999999-0700", s); err == nil {
			return t.UTC(), nil
		}
		for _, layout := range naiveLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// ParseFloat 将数值字段转换为 float64
// 返回 (nil, nil) 表示字段为空；非空但无法转换时返回错误。
func ParseFloat(v interface{}) (*float64, error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("unsupported numeric type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return &f, nil
}

// stringField 读取字符串字段（数字类 id 也转为字符串）
func stringField(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int, int64:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

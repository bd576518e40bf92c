package models

import (
	"fmt"
	"strings"
)

// DeviceRef 设备引用
// 数据源中 device 字段可能是裸 id 字符串，也可能是带 id 字段的对象；
// 在入口处统一解析为 DeviceRef，后续流程不再区分形态。
type DeviceRef struct {
	ID   string
	Name string // 对象形态时可能携带的名称（仅作参考，权威数据以 Device 查询为准）
}

// ParseDeviceRef 从原始字段值解析设备引用
func ParseDeviceRef(v interface{}) (DeviceRef, bool) {
	switch val := v.(type) {
	case string:
		id := strings.TrimSpace(val)
		if id == "" {
			return DeviceRef{}, false
		}
		return DeviceRef{ID: id}, true
	case map[string]interface{}:
		ref := DeviceRef{}
		if id, ok := val["id"]; ok && id != nil {
			ref.ID = strings.TrimSpace(fmt.Sprint(id))
		}
		if name, ok := val["name"].(string); ok {
			ref.Name = name
		}
		if ref.ID == "" {
			return DeviceRef{}, false
		}
		return ref, true
	case RawRecord:
		return ParseDeviceRef(map[string]interface{}(val))
	default:
		return DeviceRef{}, false
	}
}

// DeviceRefOf 读取原始记录的 device 字段
func DeviceRefOf(raw RawRecord) (DeviceRef, bool) {
	v, ok := raw.First("device", "Device")
	if !ok {
		return DeviceRef{}, false
	}
	return ParseDeviceRef(v)
}

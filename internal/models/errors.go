package models

import (
	"errors"
	"fmt"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// ErrCursorNotFound 实体尚无同步游标（首次同步）
var ErrCursorNotFound = errors.New("sync cursor not found")

// FetchError 拉取一页数据失败（网络/数据源错误或上下文取消）
// 本轮同步中止，游标保持不变，可稍后重试。
type FetchError struct {
	Kind EntityKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s feed: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedRecordError 单条记录无法标准化，跳过该记录，同步继续
type MalformedRecordError struct {
	Kind   EntityKind
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s record: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("malformed %s record: field %s: %s", e.Kind, e.Field, e.Reason)
}

// Malformed 构造 MalformedRecordError
func Malformed(kind EntityKind, field, reason string) error {
	return &MalformedRecordError{Kind: kind, Field: field, Reason: reason}
}

// IsMalformed 判断是否为记录级错误
func IsMalformed(err error) bool {
	var m *MalformedRecordError
	return errors.As(err, &m)
}

package rtdb

import "errors"

var (
	// ErrPermissionDenied 表示规则拒绝了对该路径的读或写。
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidPath 表示路径或 key 不合法。
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidQuery 表示查询参数组合不合法。
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidValue 表示写入的值不是 JSON 对象。
	ErrInvalidValue = errors.New("invalid value")
	// ErrDisconnected 表示存储已关闭，连接不可用。
	ErrDisconnected = errors.New("disconnected")
)

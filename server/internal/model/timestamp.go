package model

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// serverTimestamp 是写入时的服务端时间占位符，存储落盘时替换为服务器时钟（毫秒）。
var serverTimestamp = []byte(`{".sv":"timestamp"}`)

// Timestamp 是 Unix 毫秒时间戳。
// 零值表示"由服务端分配"：序列化时输出占位符，由 rtdb 在写入时解析成真实时间。
type Timestamp int64

// ServerTimestamp 返回等待服务端分配的时间戳（即零值）。
func ServerTimestamp() Timestamp { return 0 }

// TimestampOf 将 time.Time 转换为毫秒时间戳。
func TimestampOf(t time.Time) Timestamp { return Timestamp(t.UnixMilli()) }

// IsServerValue 判断时间戳是否仍等待服务端分配。
func (t Timestamp) IsServerValue() bool { return t == 0 }

// Time 返回对应的 time.Time；未分配时返回零值时间。
func (t Timestamp) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(t))
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t == 0 {
		out := make([]byte, len(serverTimestamp))
		copy(out, serverTimestamp)
		return out, nil
	}
	return strconv.AppendInt(nil, int64(t), 10), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*t = 0
		return nil
	case data[0] == '{':
		// 未解析的占位符按"未分配"处理。
		*t = 0
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", data, err)
	}
	*t = Timestamp(int64(ms))
	return nil
}

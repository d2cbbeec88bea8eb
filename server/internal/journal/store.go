package journal

import (
	"context"
	"time"
)

// Entry 是一次落盘的节点写入。
type Entry struct {
	Seq       int64
	Path      string
	Key       string
	Value     []byte
	WrittenAt time.Time
}

type Store interface {
	// Append 以 append-only 的契约写入日志，返回本次写入的 seq。
	// 约定：seq 单调递增；回放时按 seq 顺序重建节点树。
	Append(ctx context.Context, e *Entry) (int64, error)
	// List 返回全部日志条目（按 seq 顺序），用于启动时回放。
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

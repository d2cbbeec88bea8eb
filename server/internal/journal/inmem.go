package journal

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示日志已关闭。
var ErrClosed = errors.New("journal closed")

// InMemoryStore 是一个基于内存的日志实现，重启即丢数据。
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seq     int64
	closed  bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append 追加一条日志并分配单调递增的 seq。
// 副作用：Value 会被复制，调用方之后修改原切片不影响已写入的数据。
func (s *InMemoryStore) Append(_ context.Context, e *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	s.seq++
	entryCopy := *e
	entryCopy.Seq = s.seq
	entryCopy.Value = append([]byte(nil), e.Value...)
	s.entries = append(s.entries, entryCopy)

	return s.seq, nil
}

// List 返回全部日志（按 seq 顺序）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e
		out[i].Value = append([]byte(nil), e.Value...)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

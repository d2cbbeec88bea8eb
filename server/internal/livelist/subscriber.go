// Package livelist 维护实时存储上某个路径的有序视图，以及 loading/error 状态。
//
// 一个 Subscriber 同一时刻最多持有一个存储监听：目标或存储句柄变化时，
// 先释放旧监听再建立新监听。每次订阅都有独立的代号（generation），
// 已释放订阅的迟到回调不会再修改状态。
package livelist

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"rugrow/server/internal/rtdb"
)

// ErrClosed 表示 Subscriber 已关闭。
var ErrClosed = errors.New("subscriber closed")

// Options 是订阅配置。limitToFirst 与 limitToLast 至多一个有意义；都不设置时返回全量。
type Options struct {
	LimitToFirst int    `json:"limitToFirst,omitempty"`
	LimitToLast  int    `json:"limitToLast,omitempty"`
	OrderBy      string `json:"orderBy,omitempty"`
}

// Target 是订阅目标：路径加配置。订阅建立后不可变，变化即重建订阅。
type Target struct {
	Path string `json:"path"`
	Options
}

func (t Target) query() rtdb.Query {
	return rtdb.Query{
		Path:         t.Path,
		OrderBy:      t.OrderBy,
		LimitToFirst: t.LimitToFirst,
		LimitToLast:  t.LimitToLast,
	}
}

// State 是订阅的三态结果。
//
//	未就绪：IsLoading=true,  Data=nil, Err=nil
//	空：    IsLoading=false, Data=[],  Err=nil
//	降级：  IsLoading=false, Data=最后一次成功的数据（可能为 nil）, Err!=nil
//
// Data 在 Subscriber 内只会被整体替换，调用方不得修改其元素。
type State[T any] struct {
	Data      []T
	IsLoading bool
	Err       error
}

// Degraded 报告订阅是否处于失败状态（Data 为最后一次成功的数据）。
func (s State[T]) Degraded() bool { return s.Err != nil }

// Empty 报告存储是否确认该路径下没有数据。
func (s State[T]) Empty() bool { return !s.IsLoading && s.Err == nil && s.Data != nil && len(s.Data) == 0 }

// Subscriber 是单个路径上的实时列表订阅。
type Subscriber[T any, PT Record[T]] struct {
	logger *zap.Logger

	mu          sync.Mutex
	db          rtdb.Database
	target      Target
	gen         uint64
	off         func()
	state       State[T]
	watchers    map[uint64]chan State[T]
	nextWatcher uint64
	closed      bool
}

// New 创建 Subscriber 并立即订阅。db 可以为 nil 或 nil 指针（存储尚未初始化），
// 此时保持未就绪状态，直到 SetDatabase 提供句柄。
func New[T any, PT Record[T]](db rtdb.Database, target Target, logger *zap.Logger) *Subscriber[T, PT] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rtdb.IsNil(db) {
		db = nil
	}
	s := &Subscriber[T, PT]{
		logger:   logger,
		db:       db,
		target:   target,
		watchers: make(map[uint64]chan State[T]),
	}

	s.mu.Lock()
	s.resubscribeLocked()
	s.mu.Unlock()

	return s
}

// State 返回当前状态。
func (s *Subscriber[T, PT]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target 返回当前订阅目标。
func (s *Subscriber[T, PT]) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Retarget 切换订阅目标；目标未变化时不做任何事。
func (s *Subscriber[T, PT]) Retarget(target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || target == s.target {
		return
	}
	s.target = target
	s.resubscribeLocked()
}

// SetDatabase 替换存储句柄（例如初始化完成后从 nil 变为可用）。
func (s *Subscriber[T, PT]) SetDatabase(db rtdb.Database) {
	if rtdb.IsNil(db) {
		db = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || db == s.db {
		return
	}
	s.db = db
	s.resubscribeLocked()
}

// Watch 返回状态变化通知。channel 只保留最新状态：消费过慢时中间状态会被覆盖。
// 返回时 channel 中已有当前状态；cancel 之后 channel 被关闭。
func (s *Subscriber[T, PT]) Watch() (<-chan State[T], func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State[T], 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = ch
	ch <- s.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// Settled 等待当前订阅结束 loading，返回结算后的状态。
func (s *Subscriber[T, PT]) Settled(ctx context.Context) (State[T], error) {
	ch, cancel := s.Watch()
	defer cancel()

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return s.State(), ErrClosed
			}
			if !st.IsLoading {
				return st, nil
			}
		case <-ctx.Done():
			return s.State(), ctx.Err()
		}
	}
}

// Close 释放存储监听。可在任何快照到达之前调用；之后的迟到回调被忽略。
func (s *Subscriber[T, PT]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.releaseLocked()
	s.gen++
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

func (s *Subscriber[T, PT]) releaseLocked() {
	if s.off != nil {
		off := s.off
		s.off = nil
		off()
	}
}

// resubscribeLocked 先释放旧监听，再开启新的 loading 周期。
func (s *Subscriber[T, PT]) resubscribeLocked() {
	s.releaseLocked()
	s.gen++
	gen := s.gen

	s.state = State[T]{IsLoading: true}
	s.publishLocked()

	if s.db == nil || s.target.Path == "" {
		return
	}

	target := s.target
	s.off = s.db.OnValue(target.query(),
		func(snap rtdb.Snapshot) { s.handleSnapshot(gen, target, snap) },
		func(err error) { s.handleError(gen, target, err) },
	)
}

func (s *Subscriber[T, PT]) handleSnapshot(gen uint64, target Target, snap rtdb.Snapshot) {
	data, err := Normalize[T, PT](snap, target.Options)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return
	}
	if err != nil {
		s.logger.Warn("normalize snapshot failed", zap.String("path", target.Path), zap.Error(err))
		s.state.Err = err
		s.state.IsLoading = false
		s.publishLocked()
		return
	}

	s.state = State[T]{Data: data}
	s.publishLocked()
}

func (s *Subscriber[T, PT]) handleError(gen uint64, target Target, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return
	}
	s.logger.Warn("subscription failed", zap.String("path", target.Path), zap.Error(err))

	// 保留最后一次成功的数据：降级而不是清空。
	s.state.Err = err
	s.state.IsLoading = false
	s.publishLocked()
}

func (s *Subscriber[T, PT]) publishLocked() {
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.state:
		default:
		}
	}
}

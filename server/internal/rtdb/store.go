package rtdb

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rugrow/server/internal/journal"
)

// Database 是实时层级存储对订阅方与写入方暴露的能力。
type Database interface {
	// OnValue 注册监听：先异步投递当前快照，之后每次变更投递一次完整快照。
	// 失败（拒绝读取、路径非法、断开）只投递一次 onError，随后监听自动失效。
	// 返回的 off 幂等，可在首个快照到达前调用。
	OnValue(q Query, onSnapshot func(Snapshot), onError func(error)) (off func())
	// Get 一次性读取查询结果。
	Get(ctx context.Context, q Query) (Snapshot, error)
	// Push 以存储生成的 key 追加子节点，返回该 key。
	Push(ctx context.Context, path string, value any) (string, error)
	// Set 以指定 key 写入（覆盖）子节点。
	Set(ctx context.Context, path, key string, value any) error
}

// Store 是进程内的实时存储，可选地由 journal 持久化。
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	listeners   map[uint64]*listener
	nextID      uint64
	closed      bool

	rules   Rules
	journal journal.Store
	now     func() time.Time
	newKey  func() string
	logger  *zap.Logger
}

var _ Database = (*Store)(nil)

// IsNil 报告 db 是否为空句柄，包括装在接口里的 nil 指针（如尚未 Open 的 *Store）。
func IsNil(db Database) bool {
	if db == nil {
		return true
	}
	v := reflect.ValueOf(db)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

type Option func(*Store)

func WithRules(r Rules) Option { return func(s *Store) { s.rules = r } }

// WithJournal 让每次写入先落日志，Open 时回放已有日志。
func WithJournal(j journal.Store) Option { return func(s *Store) { s.journal = j } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithKeyGenerator(gen func() string) Option { return func(s *Store) { s.newKey = gen } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// newPushKey 使用 UUIDv7：按时间有序，key 顺序即插入顺序。
func newPushKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Open 创建存储；配置了 journal 时按 seq 回放重建节点树。
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		collections: make(map[string]map[string][]byte),
		listeners:   make(map[uint64]*listener),
		now:         time.Now,
		newKey:      newPushKey,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	if s.journal != nil {
		entries, err := s.journal.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		for _, e := range entries {
			s.applyLocked(e.Path, e.Key, e.Value)
		}
		s.logger.Info("journal replayed", zap.Int("entries", len(entries)))
	}

	return s, nil
}

func (s *Store) OnValue(q Query, onSnapshot func(Snapshot), onError func(error)) func() {
	l := newListener(q, onSnapshot, onError)
	if s == nil {
		l.fail(ErrDisconnected)
		return l.stop
	}

	cq, err := q.Validate()
	if err == nil && !s.rules.CanRead(cq.Path) {
		err = fmt.Errorf("%w: read %s", ErrPermissionDenied, cq.Path)
	}

	s.mu.Lock()
	if err == nil && s.closed {
		err = ErrDisconnected
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("listen rejected", zap.String("query", q.String()), zap.Error(err))
		l.fail(err)
		return l.stop
	}

	l.query = cq
	s.nextID++
	l.id = s.nextID
	s.listeners[l.id] = l
	// 在锁内投递初始快照，保证它排在后续写入的通知之前。
	l.postSnapshot(s.snapshotLocked(cq))
	s.mu.Unlock()

	s.logger.Debug("listener attached", zap.Uint64("listener", l.id), zap.String("query", cq.String()))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, l.id)
			s.mu.Unlock()
			l.stop()
			s.logger.Debug("listener released", zap.Uint64("listener", l.id))
		})
	}
}

func (s *Store) Get(ctx context.Context, q Query) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	cq, err := q.Validate()
	if err != nil {
		return Snapshot{}, err
	}
	if !s.rules.CanRead(cq.Path) {
		return Snapshot{}, fmt.Errorf("%w: read %s", ErrPermissionDenied, cq.Path)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrDisconnected
	}
	return s.snapshotLocked(cq), nil
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	if s == nil {
		return "", ErrDisconnected
	}
	key := s.newKey()
	if err := s.write(ctx, path, key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Set(ctx context.Context, path, key string, value any) error {
	if s == nil {
		return ErrDisconnected
	}
	if err := checkKey(key); err != nil {
		return err
	}
	return s.write(ctx, path, key, value)
}

func (s *Store) write(ctx context.Context, path, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := CleanPath(path)
	if err != nil {
		return err
	}
	if !s.rules.CanWrite(cp) {
		return fmt.Errorf("%w: write %s", ErrPermissionDenied, cp)
	}

	now := s.now()
	data, err := encodeValue(value, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrDisconnected
	}
	if s.journal != nil {
		if _, err := s.journal.Append(ctx, &journal.Entry{Path: cp, Key: key, Value: data, WrittenAt: now}); err != nil {
			return fmt.Errorf("journal write %s/%s: %w", cp, key, err)
		}
	}
	s.applyLocked(cp, key, data)
	s.notifyLocked(cp)

	s.logger.Debug("node written", zap.String("path", cp), zap.String("key", key))
	return nil
}

func (s *Store) applyLocked(path, key string, data []byte) {
	coll, ok := s.collections[path]
	if !ok {
		coll = make(map[string][]byte)
		s.collections[path] = coll
	}
	coll[key] = data
}

func (s *Store) notifyLocked(path string) {
	for _, l := range s.listeners {
		if l.query.Path == path {
			l.postSnapshot(s.snapshotLocked(l.query))
		}
	}
}

func (s *Store) snapshotLocked(q Query) Snapshot {
	coll := s.collections[q.Path]
	children := make([]Child, 0, len(coll))
	for k, v := range coll {
		children = append(children, Child{Key: k, Value: v})
	}
	return Snapshot{path: q.Path, children: applyQuery(children, q)}
}

// Close 断开存储：所有存活的监听收到 ErrDisconnected，之后的读写全部失败。
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, l := range s.listeners {
		l.fail(ErrDisconnected)
		delete(s.listeners, id)
	}
	s.mu.Unlock()

	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// encodeValue 把值编码为 JSON 对象，并把服务端占位符（{".sv":"timestamp"}）替换为 now。
func encodeValue(value any, now time.Time) ([]byte, error) {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		raw = b
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: value must be a JSON object", ErrInvalidValue)
	}

	out, err := json.Marshal(resolveServerValues(obj, now.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}

func resolveServerValues(v any, nowMS int64) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 && t[".sv"] == "timestamp" {
			return nowMS
		}
		for k, child := range t {
			t[k] = resolveServerValues(child, nowMS)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = resolveServerValues(child, nowMS)
		}
		return t
	default:
		return v
	}
}

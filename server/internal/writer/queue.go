package writer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"rugrow/server/internal/rtdb"
)

var (
	// ErrQueueFull 表示队列已满，写入被丢弃（背压控制）。
	ErrQueueFull = errors.New("write queue full")
	// ErrClosed 表示队列已关闭。
	ErrClosed = errors.New("write queue closed")
)

const (
	// 队列容量：超过此值的写入将被丢弃
	defaultQueueCapacity = 100
	// 单次写入超时
	defaultWriteTimeout = 10 * time.Second
	// 超过该耗时的写入记录告警
	slowWriteThreshold = 5 * time.Second
)

// Config 是写队列配置，零值使用默认值。
type Config struct {
	Capacity     int           `yaml:"capacity"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WriteQueue 串行执行追加写入（单 goroutine），调用方不被写入确认阻塞。
// 写入失败不会同步返回给调用方：只记录日志，并体现在 PendingWrite 上。
type WriteQueue struct {
	db      rtdb.Database
	writes  chan *queuedWrite
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
	timeout time.Duration

	// 统计信息
	mu              sync.Mutex
	closed          bool
	totalWrites     int64
	processedWrites int64
	failedWrites    int64
	droppedWrites   int64
}

type queuedWrite struct {
	path      string
	value     any
	timestamp time.Time
	pending   *PendingWrite
}

// PendingWrite 是一次尚未确认的写入；调用方可选择等待以拿到生成的 ID。
type PendingWrite struct {
	done chan struct{}
	id   string
	err  error
}

func newPendingWrite() *PendingWrite {
	return &PendingWrite{done: make(chan struct{})}
}

func (p *PendingWrite) resolve(id string, err error) {
	p.id, p.err = id, err
	close(p.done)
}

// Done 在写入被确认或失败后关闭。
func (p *PendingWrite) Done() <-chan struct{} { return p.done }

// Wait 等待写入完成并返回存储生成的 ID。
func (p *PendingWrite) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.id, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// New 创建写队列并启动处理 goroutine。
func New(db rtdb.Database, cfg Config, logger *zap.Logger) *WriteQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultQueueCapacity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &WriteQueue{
		db:      db,
		writes:  make(chan *queuedWrite, cfg.Capacity),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		timeout: cfg.WriteTimeout,
	}

	q.wg.Add(1)
	go q.processLoop()

	return q
}

// Append 把一条记录追加到 path 下（异步，非阻塞）。
func (q *WriteQueue) Append(path string, value any) *PendingWrite {
	pending := newPendingWrite()
	w := &queuedWrite{
		path:      path,
		value:     value,
		timestamp: time.Now(),
		pending:   pending,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("append after close", zap.String("path", path))
		pending.resolve("", ErrClosed)
		return pending
	}

	select {
	case q.writes <- w:
		q.totalWrites++
		q.logger.Debug("write enqueued", zap.String("path", path), zap.Int("queue_size", len(q.writes)))
	default:
		q.droppedWrites++
		q.logger.Warn("write queue full, dropping write", zap.String("path", path))
		pending.resolve("", ErrQueueFull)
	}
	return pending
}

// processLoop 串行处理写入（单线程）
func (q *WriteQueue) processLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case w := <-q.writes:
			q.process(w)
		}
	}
}

func (q *WriteQueue) process(w *queuedWrite) {
	start := time.Now()
	queueLatency := start.Sub(w.timestamp)

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	id, err := q.db.Push(ctx, w.path, w.value)
	elapsed := time.Since(start)

	q.mu.Lock()
	q.processedWrites++
	if err != nil {
		q.failedWrites++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("write failed",
			zap.String("path", w.path),
			zap.Duration("queue_latency", queueLatency),
			zap.Duration("processing_time", elapsed),
			zap.Error(err))
	} else {
		q.logger.Debug("write committed",
			zap.String("path", w.path),
			zap.String("id", id),
			zap.Duration("queue_latency", queueLatency),
			zap.Duration("processing_time", elapsed))
	}
	if elapsed > slowWriteThreshold {
		q.logger.Warn("slow write", zap.String("path", w.path), zap.Duration("processing_time", elapsed))
	}

	w.pending.resolve(id, err)
}

// Close 停止处理；仍在队列中的写入以 ErrClosed 结束。
func (q *WriteQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	abandoned := 0
	for drained := false; !drained; {
		select {
		case w := <-q.writes:
			abandoned++
			w.pending.resolve("", ErrClosed)
		default:
			drained = true
		}
	}

	st := q.Stats()
	q.logger.Info("write queue closed",
		zap.Int64("total", st.Total),
		zap.Int64("processed", st.Processed),
		zap.Int64("failed", st.Failed),
		zap.Int64("dropped", st.Dropped),
		zap.Int("abandoned", abandoned))
	return nil
}

// Stats 是写队列的统计快照。
type Stats struct {
	Total     int64 `json:"total_writes"`
	Processed int64 `json:"processed_writes"`
	Failed    int64 `json:"failed_writes"`
	Dropped   int64 `json:"dropped_writes"`
	Pending   int   `json:"pending_writes"`
	Capacity  int   `json:"queue_capacity"`
}

func (q *WriteQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Total:     q.totalWrites,
		Processed: q.processedWrites,
		Failed:    q.failedWrites,
		Dropped:   q.droppedWrites,
		Pending:   len(q.writes),
		Capacity:  cap(q.writes),
	}
}

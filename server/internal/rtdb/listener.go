package rtdb

import "sync"

// listener 为单个 OnValue 注册串行派发回调。
// 每个 listener 拥有独立的 goroutine 与无界 FIFO 队列：投递永不阻塞存储，
// 回调按投递顺序执行；off 之后队列被丢弃，不再有新的回调开始执行。
type listener struct {
	id         uint64
	query      Query
	onSnapshot func(Snapshot)
	onError    func(error)

	mu        sync.Mutex
	queue     []func()
	wake      chan struct{}
	done      chan struct{}
	stopped   bool
	finishing bool // 错误已入队：队列排空后自动停止
}

func newListener(q Query, onSnapshot func(Snapshot), onError func(error)) *listener {
	l := &listener{
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *listener) postSnapshot(snap Snapshot) {
	l.post(func() {
		if l.onSnapshot != nil {
			l.onSnapshot(snap)
		}
	})
}

func (l *listener) post(fn func()) {
	l.mu.Lock()
	if l.stopped || l.finishing {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// fail 投递一次错误并在其之后终止该 listener。
func (l *listener) fail(err error) {
	l.mu.Lock()
	if l.stopped || l.finishing {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() {
		if l.onError != nil {
			l.onError(err)
		}
	})
	l.finishing = true
	l.mu.Unlock()
	l.signal()
}

func (l *listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// stop 幂等；可在回调内部调用。
func (l *listener) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

func (l *listener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.stopped {
				l.mu.Unlock()
				return
			}
			if len(l.queue) == 0 {
				finishing := l.finishing
				l.mu.Unlock()
				if finishing {
					l.stop()
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

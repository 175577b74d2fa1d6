package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultTaskTimeout bounds each background task (outcome emission,
// chain submission) so a stuck downstream never pins a worker.
const defaultTaskTimeout = 5 * time.Second

// Pool is a bounded background worker pool. Submission never blocks the
// request path: when the queue is full the task is dropped with a
// warning, because outcome emission is best-effort by contract.
type Pool struct {
	tasks   chan poolTask
	timeout time.Duration
	logger  *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type poolTask struct {
	name    string
	timeout time.Duration // 0 means the pool default
	fn      func(ctx context.Context)
}

// NewPool starts workers goroutines over a queue of the given depth.
func NewPool(workers, queueDepth int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	p := &Pool{
		tasks:   make(chan poolTask, queueDepth),
		timeout: timeout,
		logger:  slog.Default().With("component", "gateway_pool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		timeout := t.timeout
		if timeout <= 0 {
			timeout = p.timeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		t.fn(ctx)
		cancel()
	}
}

// Submit enqueues fn under the pool's default timeout. Returns false
// when the queue is full or the pool is closed and the task was
// dropped.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) bool {
	return p.SubmitWithTimeout(name, 0, fn)
}

// SubmitWithTimeout enqueues fn with its own deadline, for tasks whose
// downstream budget exceeds the pool default (chain confirmation
// waits). A timeout <= 0 falls back to the pool default.
func (p *Pool) SubmitWithTimeout(name string, timeout time.Duration, fn func(ctx context.Context)) bool {
	defer func() {
		// Submitting to a closed pool drops the task instead of
		// panicking; shutdown races with in-flight requests.
		if recover() != nil {
			p.logger.Warn("background task dropped, pool closed", "task", name)
		}
	}()
	select {
	case p.tasks <- poolTask{name: name, timeout: timeout, fn: fn}:
		return true
	default:
		p.logger.Warn("background task dropped, queue full", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for in-flight work to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

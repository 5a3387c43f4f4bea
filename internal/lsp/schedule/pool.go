package schedule

import (
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wycleffsean/linthost/internal/queue"
)

// Pool is a fixed set of worker goroutines draining a shared FIFO. Submit
// never blocks the caller; jobs wait in the queue until a worker is free.
type Pool struct {
	jobs   *queue.Queue[func()]
	group  errgroup.Group
	size   int
	logger *zap.Logger
}

// NewPool starts size workers. A size below one starts a single worker.
func NewPool(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{jobs: queue.New[func()](), size: size, logger: logger}
	for i := 0; i < size; i++ {
		worker := i
		p.group.Go(func() error {
			p.work(worker)
			return nil
		})
	}
	return p
}

func (p *Pool) Size() int { return p.size }

// Submit queues job. It reports false once the pool is closed.
func (p *Pool) Submit(job func()) bool {
	return p.jobs.Push(job)
}

func (p *Pool) work(worker int) {
	for {
		job, ok := p.jobs.Pop()
		if !ok {
			return
		}
		p.run(worker, job)
	}
}

func (p *Pool) run(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker recovered from panic", zap.Int("worker", worker), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	job()
}

// Close stops accepting jobs, lets the workers finish what is queued and
// waits for them to exit.
func (p *Pool) Close() error {
	p.jobs.Close()
	return p.group.Wait()
}

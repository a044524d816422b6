package worker

import (
	"runtime"
	"sync"

	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

// Task is one unit of queued work.
type Task func()

// Pool is a fixed-size executor over a bounded queue. Submission never
// blocks: when the queue is full the task is rejected and the caller decides
// what to do with the backpressure.
type Pool struct {
	tasks   chan Task
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewPool starts workers goroutines draining a queue of queueDepth tasks.
// Non-positive sizes fall back to the number of CPUs and twice that depth.
func NewPool(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if queueDepth < 1 {
		queueDepth = workers * 2
	}

	p := &Pool{tasks: make(chan Task, queueDepth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}

	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		QueueDepth.Dec()
		task()
	}
}

// Submit enqueues a task. It fails with ErrCodeQueueFull when the queue is at
// capacity and ErrCodeWorkerStopped after Stop.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.New(errors.ErrCodeWorkerStopped, "worker pool is stopped")
	}

	select {
	case p.tasks <- task:
		QueueDepth.Inc()
		return nil
	default:
		return errors.New(errors.ErrCodeQueueFull, "worker queue is full")
	}
}

// Stop closes the queue and waits for queued tasks to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

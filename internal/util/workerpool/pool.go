package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	Name string
	Fn   func(context.Context) error
}

// Pool manages a bounded set of goroutines executing tasks from a queue.
// Task failures are observed through the task's own Fn; the pool only
// counts them.
type Pool struct {
	name       string
	maxWorkers int
	taskQueue  chan Task
	logger     *zap.Logger

	workers  sync.WaitGroup
	inflight sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	completedTasks uint64
	failedTasks    uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// New creates a pool and starts its workers
func New(cfg *Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		taskQueue:  make(chan Task, cfg.QueueSize),
		logger:     cfg.Logger,
		stopChan:   make(chan struct{}),
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started",
		zap.String("pool", p.name),
		zap.Int("max_workers", p.maxWorkers))

	return p
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.taskQueue:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(workerID int, task Task) {
	defer p.inflight.Done()

	start := time.Now()
	err := p.safeExecute(task)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Debug("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	atomic.AddUint64(&p.completedTasks, 1)
	p.logger.Debug("Task completed",
		zap.String("pool", p.name),
		zap.Int("worker_id", workerID),
		zap.String("task", task.Name),
		zap.Duration("duration", time.Since(start)))
}

// safeExecute runs the task with panic recovery
func (p *Pool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()
	return task.Fn(context.Background())
}

// Submit enqueues a task, blocking until the queue accepts it, the pool
// stops, or ctx is cancelled
func (p *Pool) Submit(ctx context.Context, task Task) error {
	// Checked before the enqueue select: once stopChan is closed the
	// select below could still win the queue send and strand the task
	select {
	case <-p.stopChan:
		return fmt.Errorf("worker pool %q is stopped", p.name)
	default:
	}

	p.inflight.Add(1)
	select {
	case <-p.stopChan:
		p.inflight.Done()
		return fmt.Errorf("worker pool %q is stopped", p.name)
	case <-ctx.Done():
		p.inflight.Done()
		return ctx.Err()
	case p.taskQueue <- task:
		return nil
	}
}

// Wait blocks until every submitted task has finished executing
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Stop shuts the pool down, waiting up to timeout for workers to finish
// their current task. Callers must Wait before Stop: tasks still queued
// at stop time are never executed.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.workers.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Debug("Worker pool stopped", zap.String("pool", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("pool", p.name))
		}
	})
	return err
}

// Stats is a point-in-time snapshot of pool counters
type Stats struct {
	Name           string
	MaxWorkers     int
	QueuedTasks    int
	CompletedTasks uint64
	FailedTasks    uint64
}

// Stats returns current pool counters, safe to call concurrently
func (p *Pool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		QueuedTasks:    len(p.taskQueue),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
	}
}

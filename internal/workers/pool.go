// Package workers provides a bounded goroutine pool for fanning out
// short-lived, independent tasks (the Market Scanner's per-symbol
// momentum scoring) without spawning one goroutine per item.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
	PanicRecovery   bool
}

// DefaultPoolConfig returns sensible defaults for an I/O-bound fan-out.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU() * 2,
		QueueSize:       1000,
		TaskTimeout:     10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		PanicRecovery:   true,
	}
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type worker struct {
	id     int
	pool   *Pool
	logger *zap.Logger
}

// NewPool creates a new worker pool.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start initializes and starts all workers.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queueSize", p.config.QueueSize),
	)
	for i := 0; i < p.config.NumWorkers; i++ {
		w := &worker{id: i, pool: p, logger: p.logger.With(zap.Int("workerId", i))}
		p.wg.Add(1)
		go w.run()
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case task, ok := <-w.pool.taskQueue:
			if !ok {
				return
			}
			w.executeTask(task)
		}
	}
}

// executeTask executes a single task with timeout and panic recovery.
func (w *worker) executeTask(task Task) {
	ctx, cancel := context.WithTimeout(w.pool.ctx, w.pool.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if w.pool.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
				done <- err
			}()
		}
		err = task.Execute()
		if !w.pool.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			w.pool.failed.Add(1)
			w.logger.Debug("task failed", zap.Error(err))
		} else {
			w.pool.completed.Add(1)
		}
	case <-ctx.Done():
		w.pool.failed.Add(1)
		w.logger.Warn("task timed out", zap.Duration("timeout", w.pool.config.TaskTimeout))
	}
}

// Submit adds a task to the queue, returning ErrQueueFull rather than
// blocking the caller when every worker is saturated.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits a function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop gracefully shuts down the pool, waiting up to ShutdownTimeout for
// in-flight tasks to finish.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out", zap.String("name", p.config.Name))
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks.
func (p *Pool) QueueLength() int { return len(p.taskQueue) }

// IsRunning returns whether the pool is running.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Stats returns current pool statistics, for the status surface.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns a snapshot of the pool's task counters.
func (p *Pool) Stats() Stats {
	return Stats{Submitted: p.submitted.Load(), Completed: p.completed.Load(), Failed: p.failed.Load()}
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error.
type PoolError struct{ Message string }

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic.
type PanicError struct{ Recovered interface{} }

func (e *PanicError) Error() string { return "panic recovered" }

// Package parallel provides the fixed-size worker pool that executes reach
// solves.
package parallel

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/dd0wney/cluso-flowroute/pkg/logging"
)

// WorkerPool manages a pool of worker goroutines
type WorkerPool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex // Protects taskQueue from concurrent close during send
	closed    bool         // Protected by mu
	onPanic   func(recovered any)
}

// ErrTooManyWorkers is returned when the worker count exceeds the maximum allowed.
var ErrTooManyWorkers = fmt.Errorf("worker count exceeds maximum")

// MaxWorkers is the maximum number of workers allowed in a pool.
const MaxWorkers = math.MaxInt / 2

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPanicHandler sets the function called with the value recovered from a
// panicking task. The default logs it.
func WithPanicHandler(fn func(recovered any)) PoolOption {
	return func(wp *WorkerPool) {
		wp.onPanic = fn
	}
}

// DefaultWorkers is the pool size used when none is configured.
func DefaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// NewWorkerPool creates a new worker pool with specified number of workers.
// Non-positive counts select DefaultWorkers. Returns an error if the worker
// count exceeds MaxWorkers.
func NewWorkerPool(workers int, opts ...PoolOption) (*WorkerPool, error) {
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	// Prevent overflow in buffer size calculation
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyWorkers, workers, MaxWorkers)
	}

	pool := &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(), workers*2), // Buffer for 2x workers
		onPanic: func(r any) {
			logging.ErrorLog("worker panic recovered", logging.Component("parallel"), logging.Any("panic", r))
		},
	}
	for _, opt := range opts {
		opt(pool)
	}

	pool.start()
	return pool, nil
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// start initializes the worker goroutines
func (wp *WorkerPool) start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		wp.run(task)
	}
}

// run executes one task, keeping the worker alive if it panics.
func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.onPanic(r)
		}
	}()
	task()
}

// Submit adds a task to the worker pool. It blocks while the queue is full.
// Returns false if the pool is closed, true if task was submitted
func (wp *WorkerPool) Submit(task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return false
	}

	// Safe to send because we hold the lock and pool is not closed
	wp.taskQueue <- task
	return true
}

// Close stops accepting tasks and waits for queued tasks to finish.
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.taskQueue)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}

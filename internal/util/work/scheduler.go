package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultConcurrency caps in-flight tasks when none is configured.
const DefaultConcurrency = 20

var ErrTaskPanicked = errors.New("task panicked")

// TaskFunc is one unit of work.
type TaskFunc[T any] func(ctx context.Context) (T, error)

// ProgressFunc is called after every completion with the updated counters.
type ProgressFunc func(completed, total int)

// Future is the settled-later result of a scheduled task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the task has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task settles or ctx ends. A ctx error does not
// cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type scheduledTask[T any] struct {
	ctx    context.Context
	fn     TaskFunc[T]
	future *Future[T]
}

// Scheduler is a FIFO task runner with at most concurrency tasks in flight.
// Failed tasks count as completed so the queue keeps draining.
type Scheduler[T any] struct {
	concurrency int
	onProgress  ProgressFunc

	mu        sync.Mutex
	queue     []*scheduledTask[T]
	running   int
	completed int
	total     int
	// 已计入 completed 但进度回调尚未返回
	settling int

	// 保证进度回调按完成顺序串行触发
	progressMu sync.Mutex
}

// NewScheduler creates a scheduler. concurrency <= 0 uses DefaultConcurrency.
func NewScheduler[T any](concurrency int, onProgress ProgressFunc) *Scheduler[T] {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler[T]{
		concurrency: concurrency,
		onProgress:  onProgress,
	}
}

// Add enqueues fn and returns its future. ctx is passed to fn when it runs.
func (s *Scheduler[T]) Add(ctx context.Context, fn TaskFunc[T]) *Future[T] {
	task := &scheduledTask[T]{
		ctx:    ctx,
		fn:     fn,
		future: &Future[T]{done: make(chan struct{})},
	}

	s.mu.Lock()
	s.queue = append(s.queue, task)
	s.total++
	s.mu.Unlock()

	s.dispatch()
	return task.future
}

func (s *Scheduler[T]) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.running < s.concurrency && len(s.queue) > 0 {
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		go s.run(task)
	}
}

func (s *Scheduler[T]) run(task *scheduledTask[T]) {
	value, err := s.invoke(task)

	// future 完成前计数与进度回调均已更新
	s.progressMu.Lock()
	s.mu.Lock()
	s.running--
	s.completed++
	s.settling++
	completed, total := s.completed, s.total
	s.mu.Unlock()
	if s.onProgress != nil {
		s.onProgress(completed, total)
	}
	s.mu.Lock()
	s.settling--
	s.mu.Unlock()
	s.progressMu.Unlock()

	task.future.value = value
	task.future.err = err
	close(task.future.done)

	s.dispatch()
}

func (s *Scheduler[T]) invoke(task *scheduledTask[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task.fn(task.ctx)
}

// IsIdle reports whether nothing is queued, running or reporting progress.
func (s *Scheduler[T]) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running == 0 && s.settling == 0 && len(s.queue) == 0
}

// Progress returns the completed and total task counters.
func (s *Scheduler[T]) Progress() (completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.total
}

// Running returns the number of tasks currently executing.
func (s *Scheduler[T]) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// WaitAll waits for every future and returns values and errors by index.
func WaitAll[T any](ctx context.Context, futures []*Future[T]) ([]T, []error) {
	values := make([]T, len(futures))
	errs := make([]error, len(futures))
	for i, f := range futures {
		values[i], errs[i] = f.Wait(ctx)
	}
	return values, errs
}

// Package background runs fire-and-forget tasks off the request path.
//
// Tasks are best-effort: failures are logged and never retried, and a
// task runs to completion regardless of whether the request that
// submitted it is still alive. Tasks therefore receive a fresh
// context, not the request's.
package background

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of deferred work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes submitted tasks on a fixed pool of workers.
type Runner struct {
	queue  chan Task
	logger *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRunner starts a runner with the given worker count and queue
// depth. Both are clamped to a minimum of 1.
func NewRunner(workers, queueDepth int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	r := &Runner{
		queue:  make(chan Task, queueDepth),
		logger: logger.With("component", "background"),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work()
	}
	return r
}

func (r *Runner) work() {
	defer r.wg.Done()
	for task := range r.queue {
		if err := task.Run(context.Background()); err != nil {
			r.logger.Error("background task failed", "task", task.Name, "error", err)
		}
	}
}

// Submit queues a task without blocking. When the queue is full the
// task is dropped with a warning; callers must not depend on
// execution.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case r.queue <- Task{Name: name, Run: fn}:
		return true
	default:
		r.logger.Warn("background queue full, dropping task", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for queued work to finish.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}

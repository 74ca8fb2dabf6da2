package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// task is a unit of work run on the worker goroutine.
type task func(ctx context.Context)

// scheduler carries tasks from callers to one worker goroutine.
type scheduler struct {
	clock  clock.Clock
	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc

	// closed is closed once the scheduler refuses new work.
	closed    chan struct{}
	closeOnce sync.Once

	// exited is closed when the worker loop returns.
	exited chan struct{}
}

func newScheduler(clk clock.Clock) *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		clock:  clk,
		tasks:  make(chan task),
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// close stops accepting tasks. Safe to call multiple times.
func (s *scheduler) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// join waits up to timeout for the worker to exit.
func (s *scheduler) join(timeout time.Duration) bool {
	timer := s.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-s.exited:
		return true
	case <-timer.C:
		return false
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// call runs fn on the worker and waits up to timeout for its result.
// A timeout does not cancel fn; its result is dropped when it finishes.
func call[T any](s *scheduler, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result := make(chan outcome[T], 1)

	t := func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome[T]{err: fmt.Errorf("relay: task panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		result <- outcome[T]{value: v, err: err}
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-s.closed:
		return zero, ErrNotRunning
	case s.tasks <- t:
	case <-timer.C:
		return zero, fmt.Errorf("%w: worker busy for %s", ErrTimeout, timeout)
	}

	select {
	case r := <-result:
		return r.value, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w: no result within %s", ErrTimeout, timeout)
	}
}

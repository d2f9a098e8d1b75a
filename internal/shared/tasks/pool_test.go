package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsDispatchedTasks(t *testing.T) {
	p := NewPool(2, 10)
	p.Start()
	defer p.Shutdown(time.Second)

	var ran atomic.Int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		err := p.Dispatch(Task{
			Name: "count",
			Run: func(ctx context.Context) error {
				if ran.Add(1) == 5 {
					close(done)
				}
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Dispatch() failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("tasks did not run, completed=%d", ran.Load())
	}
}

func TestPool_TaskFailureDoesNotStopWorkers(t *testing.T) {
	p := NewPool(1, 10)
	p.Start()
	defer p.Shutdown(time.Second)

	done := make(chan struct{})

	p.Dispatch(Task{Name: "fails", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}})
	p.Dispatch(Task{Name: "succeeds", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after a failed task")
	}
}

func TestPool_FullQueueDropsTask(t *testing.T) {
	p := NewPool(1, 1)
	// Not started: nothing drains the queue.

	if err := p.Dispatch(Task{Name: "first", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Dispatch() first = %v, want nil", err)
	}
	if err := p.Dispatch(Task{Name: "second", Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("Dispatch() on full queue = nil, want error")
	}
}

// Package tasks runs fire-and-forget side work (benefit matching, follow-up
// syncs) off the request path. A task failure is logged and counted, never
// propagated to the caller that dispatched it.
package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	taskTracer          = otel.Tracer("bankfeed/tasks")
	taskMeter           = otel.Meter("bankfeed/tasks")
	taskDuration, _     = taskMeter.Float64Histogram("tasks.duration", metric.WithDescription("Task execution duration in seconds"), metric.WithUnit("s"))
	taskTotal, _        = taskMeter.Int64Counter("tasks.total", metric.WithDescription("Total tasks executed by status"))
	taskQueueDropped, _ = taskMeter.Int64Counter("tasks.queue_dropped", metric.WithDescription("Tasks dropped due to full queue"))
)

// Task is a named unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher accepts background tasks. Implemented by Pool; domain services
// depend on the interface so tests can capture dispatches synchronously.
type Dispatcher interface {
	Dispatch(task Task) error
}

// Pool processes tasks on a fixed set of worker goroutines.
type Pool struct {
	workerCount int
	taskTimeout time.Duration
	queue       chan Task
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewPool(workerCount, queueSize int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workerCount: workerCount,
		taskTimeout: 120 * time.Second,
		queue:       make(chan Task, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	log.Printf("Starting task pool with %d workers", p.workerCount)

	for i := 1; i <= p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(id, task)
		}
	}
}

func (p *Pool) runTask(workerID int, task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.taskTimeout)
	defer cancel()

	ctx, span := taskTracer.Start(ctx, "task.run",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("task.name", task.Name),
		),
	)
	defer span.End()

	start := time.Now()

	if err := task.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		taskTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error"), attribute.String("task", task.Name)))
		taskDuration.Record(ctx, time.Since(start).Seconds())
		log.Printf("Worker %d: task %s failed: %v", workerID, task.Name, err)
		return
	}

	taskTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success"), attribute.String("task", task.Name)))
	taskDuration.Record(ctx, time.Since(start).Seconds())
}

// Dispatch enqueues a task without blocking. A full queue drops the task
// with a log line and a metric; background work is best-effort by contract.
func (p *Pool) Dispatch(task Task) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.queue <- task:
		return nil
	default:
		taskQueueDropped.Add(context.Background(), 1)
		log.Printf("Warning: task queue full, dropping %s", task.Name)
		return fmt.Errorf("task queue full, dropping %s", task.Name)
	}
}

// Shutdown stops accepting tasks and waits for in-flight work up to timeout.
func (p *Pool) Shutdown(timeout time.Duration) {
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Task pool: all workers finished")
	case <-time.After(timeout):
		log.Println("Task pool: timeout reached, forcing shutdown")
	}
	p.cancel()
}

package app

import (
	"context"
	"sync"
	"time"

	"chat_delivery_service/pkg/config"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/metrics"

	"go.uber.org/zap"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// TaskRunner bounded queue of side effects that never affect an ack
type TaskRunner struct {
	queue      chan task
	workers    int
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stop       chan struct{}
}

// NewTaskRunner create TaskRunner, call Start before Submit
func NewTaskRunner(cfg config.BackgroundConfig, timeout time.Duration) *TaskRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &TaskRunner{
		queue:      make(chan task, cfg.QueueSize),
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    timeout,
		stop:       make(chan struct{}),
	}
}

// Start spawns the workers
func (r *TaskRunner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
}

// Submit enqueues fn; a full queue drops the task
func (r *TaskRunner) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.queue <- task{name: name, fn: fn}:
		return true
	default:
		metrics.BackgroundFailures.WithLabelValues(name).Inc()
		logger.Log.Warn("background queue full, task dropped", zap.String("task", name))
		return false
	}
}

// Stop drains queued tasks and waits for the workers
func (r *TaskRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *TaskRunner) work() {
	defer r.wg.Done()
	for {
		select {
		case t := <-r.queue:
			r.run(t)
		case <-r.stop:
			for {
				select {
				case t := <-r.queue:
					r.run(t)
				default:
					return
				}
			}
		}
	}
}

func (r *TaskRunner) run(t task) {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.retryDelay * time.Duration(attempt))
		}
		if err = r.once(t); err == nil {
			return
		}
		logger.Log.Debug("background task failed", zap.String("task", t.name), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	metrics.BackgroundFailures.WithLabelValues(t.name).Inc()
	logger.Log.Error("background task gave up", zap.String("task", t.name), zap.Error(err))
}

func (r *TaskRunner) once(t task) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = errPanic(rec)
		}
	}()
	return t.fn(ctx)
}

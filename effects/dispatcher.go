// Package effects runs best-effort side effects off the request path.
package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Task is one side effect. It must honour ctx cancellation.
type Task func(ctx context.Context) error

var effectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relationd_side_effects_total",
		Help: "Side-effect tasks by name and outcome (ok, error, panic, dropped)",
	},
	[]string{"task", "outcome"},
)

// Config sizes the dispatcher.
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type job struct {
	name string
	fn   Task
}

// Dispatcher executes tasks on a fixed pool of workers. Failed tasks are
// logged and counted, never retried.
type Dispatcher struct {
	ch       chan job
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// New creates a Dispatcher and starts its workers.
func New(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		ch:      make(chan job, cfg.QueueSize),
		timeout: cfg.TaskTimeout,
		logger:  logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues fn without blocking. It reports false when the task was
// dropped because the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Dispatch(name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		effectsTotal.WithLabelValues(name, "dropped").Inc()
		d.logger.Warn("side effect dropped after stop", zap.String("task", name))
		return false
	}
	select {
	case d.ch <- job{name: name, fn: fn}:
		return true
	default:
		effectsTotal.WithLabelValues(name, "dropped").Inc()
		d.logger.Warn("side effect queue full, dropping task", zap.String("task", name))
		return false
	}
}

// Stop closes the queue and waits for queued tasks to finish or for ctx to
// expire, whichever comes first.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.ch)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("side effect dispatcher stop timed out", zap.Int("pending", len(d.ch)))
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.ch {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	// Tasks outlive the request that queued them.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			d.logger.Error("side effect panicked",
				zap.String("task", j.name), zap.String("panic", fmt.Sprint(r)))
		}
		effectsTotal.WithLabelValues(j.name, outcome).Inc()
	}()

	if err := j.fn(ctx); err != nil {
		outcome = "error"
		d.logger.Error("side effect failed", zap.String("task", j.name), zap.Error(err))
	}
}

// Package events runs fire-and-forget side effects (audit writes,
// notifications, anomaly analysis) off the request path.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
)

// Job is one unit of background work. The context carries the per-job
// timeout and is independent of the request that submitted it.
type Job func(ctx context.Context) error

type Config struct {
	BufferSize int
	Workers    int
	JobTimeout time.Duration
}

type task struct {
	name string
	job  Job
}

// Dispatcher is a bounded queue drained by a fixed worker pool. Submit never
// blocks: when the queue is full the job is dropped and counted. Every job
// Submit accepts runs before Close returns.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
	ch     chan task
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	// mu orders enqueues against Close
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		ch:     make(chan task, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case t := <-d.ch:
			d.execute(t)
		case <-d.done:
			for {
				select {
				case t := <-d.ch:
					d.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.DispatcherJobDurationSeconds.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			d.logger.Error("background job panicked", "job", t.name, "panic", fmt.Sprint(r))
		}
	}()

	if err := t.job(ctx); err != nil {
		d.logger.Warn("background job failed", "job", t.name, "error", err)
	}
}

// Submit enqueues job and reports whether it was accepted. A nil dispatcher
// runs nothing.
func (d *Dispatcher) Submit(name string, job Job) bool {
	if d == nil || job == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.ch <- task{name: name, job: job}:
		return true
	default:
		d.dropped.Add(1)
		metrics.DispatcherDroppedTotal.Inc()
		d.logger.Warn("background queue full, job dropped", "job", name)
		return false
	}
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

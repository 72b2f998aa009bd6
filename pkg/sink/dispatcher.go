// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// DefaultPublishTimeout bounds a single Publish call
const DefaultPublishTimeout = 5 * time.Second

// Dispatcher fans snapshots out to sinks from a fixed pool of workers.
// Dispatch never blocks: when the queue is full the snapshot is dropped.
type Dispatcher struct {
	queue   chan sbs.Snapshot
	sinks   []Sink
	workers int
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	dispatched atomic.Uint64
	dropped    atomic.Uint64
	published  atomic.Uint64
	failed     atomic.Uint64
}

// DispatcherStats is a point-in-time copy of the dispatcher counters
type DispatcherStats struct {
	Dispatched uint64
	Dropped    uint64
	Published  uint64
	Failed     uint64
}

// NewDispatcher creates a dispatcher with the given pool and queue sizes
func NewDispatcher(sinks []Sink, workers, queue int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:   make(chan sbs.Snapshot, queue),
		sinks:   sinks,
		workers: workers,
		timeout: DefaultPublishTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("Dispatcher started", zap.Int("workers", d.workers), zap.Int("sinks", len(d.sinks)))
}

// Stop stops accepting snapshots, lets the workers drain the queue and
// waits for them to exit
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	d.logger.Info("Dispatcher stopped",
		zap.Uint64("published", d.published.Load()),
		zap.Uint64("dropped", d.dropped.Load()),
		zap.Uint64("failed", d.failed.Load()))
}

// Dispatch queues a snapshot and reports whether it was accepted
func (d *Dispatcher) Dispatch(snap sbs.Snapshot) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- snap:
		d.dispatched.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("Dispatcher queue full, dropping snapshot", zap.String("battery", snap.Battery))
		return false
	}
}

// Stats returns the current counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Published:  d.published.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for snap := range d.queue {
		d.process(id, snap)
	}
}

func (d *Dispatcher) process(id int, snap sbs.Snapshot) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		err := s.Publish(ctx, snap)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Error("Failed to publish snapshot",
				zap.Int("worker", id),
				zap.String("sink", s.Name()),
				zap.Error(err))
			continue
		}
		d.published.Add(1)
	}
}

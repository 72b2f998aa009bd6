// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"
	"sync"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

const loopbackQueue = 64

// Loopback is an in-memory CAN bus. Frames sent on one endpoint are
// delivered to every other endpoint opened from the same Loopback.
type Loopback struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopback creates an empty loopback bus
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches a new endpoint to the bus
func (b *Loopback) Open() Bus {
	ep := &loopEndpoint{
		bus:  b,
		ch:   make(chan sbs.Frame, loopbackQueue),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.dead = true
		close(ep.done)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close detaches and closes all endpoints
func (b *Loopback) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.shutdown()
	}
	b.endpoints = nil
	return nil
}

type loopEndpoint struct {
	bus  *Loopback
	ch   chan sbs.Frame
	mu   sync.Mutex
	dead bool
	done chan struct{}
}

// Send delivers the frame to all other endpoints, blocking while a
// receiver's queue is full.
func (e *loopEndpoint) Send(ctx context.Context, frame sbs.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}

	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		select {
		case t.ch <- frame:
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *loopEndpoint) Receive(ctx context.Context) (sbs.Frame, error) {
	select {
	case f := <-e.ch:
		return f, nil
	case <-e.done:
		// drain anything queued before close
		select {
		case f := <-e.ch:
			return f, nil
		default:
		}
		return sbs.Frame{}, ErrClosed
	case <-ctx.Done():
		return sbs.Frame{}, ctx.Err()
	}
}

func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	e.shutdown()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	return nil
}

func (e *loopEndpoint) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	close(e.done)
}

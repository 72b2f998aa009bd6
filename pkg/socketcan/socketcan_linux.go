// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package socketcan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brutella/can"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Linux can_id flag bits
const (
	flagEFF = 0x80000000
	flagRTR = 0x40000000
	flagERR = 0x20000000
	maskEFF = 0x1FFFFFFF
	maskSFF = 0x000007FF
)

// Bus wraps a brutella/can bus bound to one interface
type Bus struct {
	bus    *can.Bus
	frames chan sbs.Frame
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	skipped atomic.Uint64
}

var _ canbus.Bus = (*Bus)(nil)

// Open binds to the named interface and starts publishing received frames
func Open(iface string) (*Bus, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN interface %s: %w", iface, err)
	}

	b := &Bus{
		bus:    bus,
		frames: make(chan sbs.Frame, 128),
		done:   make(chan struct{}),
	}
	bus.Subscribe(b)

	go func() {
		err := bus.ConnectAndPublish()
		b.errMu.Lock()
		b.err = err
		b.errMu.Unlock()
		b.Close()
	}()
	return b, nil
}

// Handle implements can.Handler. It runs on the publishing goroutine.
func (b *Bus) Handle(frame can.Frame) {
	f, ok := fromCAN(frame)
	if !ok {
		b.skipped.Add(1)
		return
	}
	select {
	case b.frames <- f:
	case <-b.done:
	}
}

func (b *Bus) Send(ctx context.Context, frame sbs.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return canbus.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.bus.Publish(toCAN(frame)); err != nil {
		return fmt.Errorf("socketcan: publish %s: %w", frame, err)
	}
	return nil
}

func (b *Bus) Receive(ctx context.Context) (sbs.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-b.done:
		b.errMu.Lock()
		defer b.errMu.Unlock()
		if b.err != nil {
			return sbs.Frame{}, fmt.Errorf("socketcan: %w", b.err)
		}
		return sbs.Frame{}, canbus.ErrClosed
	case <-ctx.Done():
		return sbs.Frame{}, ctx.Err()
	}
}

func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.bus.Disconnect()
	})
	return err
}

// Skipped returns the number of remote and error frames ignored
func (b *Bus) Skipped() uint64 {
	return b.skipped.Load()
}

func toCAN(f sbs.Frame) can.Frame {
	id := f.ID
	if f.Extended {
		id |= flagEFF
	}
	return can.Frame{ID: id, Length: f.Len, Data: f.Data}
}

func fromCAN(frame can.Frame) (sbs.Frame, bool) {
	if frame.ID&(flagRTR|flagERR) != 0 || frame.Length > sbs.MaxDataLen {
		return sbs.Frame{}, false
	}
	f := sbs.Frame{Len: frame.Length, Data: frame.Data}
	if frame.ID&flagEFF != 0 {
		f.ID = frame.ID & maskEFF
		f.Extended = true
	} else {
		f.ID = frame.ID & maskSFF
	}
	return f, true
}

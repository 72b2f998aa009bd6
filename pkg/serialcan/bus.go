// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialcan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

const (
	defaultQueue = 128
	readBufSize  = 256
)

// Option configures a Bus
type Option func(*Bus)

// WithFrameGap sets the inter-record gap used to resynchronise the stream.
// Zero disables gap resync.
func WithFrameGap(gap time.Duration) Option {
	return func(b *Bus) { b.gap = gap }
}

// WithLogger sets the logger used for framing diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithQueue sets how many decoded frames may wait for Receive
func WithQueue(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = n
		}
	}
}

// Bus adapts a byte stream speaking serial CAN module records into a
// canbus.Bus. It reads 12-byte receive records and writes 14-byte transmit
// records.
type Bus struct {
	rw     io.ReadWriteCloser
	gap    time.Duration
	queue  int
	logger *zap.Logger

	frames chan sbs.Frame
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error

	discarded atomic.Uint64
	invalid   atomic.Uint64
}

var _ canbus.Bus = (*Bus)(nil)

// New wraps rw and starts the reader goroutine. The Bus owns rw and closes
// it on Close.
func New(rw io.ReadWriteCloser, opts ...Option) *Bus {
	b := &Bus{
		rw:     rw,
		gap:    DefaultFrameGap,
		queue:  defaultQueue,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.frames = make(chan sbs.Frame, b.queue)
	go b.readLoop()
	return b
}

func (b *Bus) readLoop() {
	defer close(b.frames)

	splitter := NewSplitter(RxRecordLen, b.gap)
	buf := make([]byte, readBufSize)
	for {
		n, err := b.rw.Read(buf)
		if n > 0 {
			for _, rec := range splitter.Feed(buf[:n], time.Now()) {
				f, perr := ParseRx(rec)
				if perr != nil {
					b.invalid.Add(1)
					b.logger.Debug("Dropping invalid record", zap.Error(perr), zap.Binary("record", rec))
					continue
				}
				select {
				case b.frames <- f:
				case <-b.done:
					return
				}
			}
			if d := splitter.Discarded(); d != b.discarded.Load() {
				b.logger.Debug("Discarded partial record", zap.Uint64("total", d))
				b.discarded.Store(d)
			}
		}
		if err != nil {
			b.errMu.Lock()
			b.readErr = err
			b.errMu.Unlock()
			return
		}
	}
}

// Send writes one transmit record. The context is only checked before the
// write starts; serial writes of 14 bytes are not interruptible.
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

	rec := EncodeTx(frame)
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.rw.Write(rec); err != nil {
		return fmt.Errorf("serialcan: write %s: %w", frame, err)
	}
	return nil
}

// Receive returns the next decoded frame
func (b *Bus) Receive(ctx context.Context) (sbs.Frame, error) {
	select {
	case f, ok := <-b.frames:
		if !ok {
			return sbs.Frame{}, b.err()
		}
		return f, nil
	case <-ctx.Done():
		return sbs.Frame{}, ctx.Err()
	}
}

func (b *Bus) err() error {
	select {
	case <-b.done:
		return canbus.ErrClosed
	default:
	}
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.readErr == nil || errors.Is(b.readErr, io.EOF) {
		return canbus.ErrClosed
	}
	return fmt.Errorf("serialcan: read: %w", b.readErr)
}

// Close stops the reader and closes the underlying stream
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.rw.Close()
	})
	return err
}

// Discarded returns the number of partial records dropped by gap resync
func (b *Bus) Discarded() uint64 {
	return b.discarded.Load()
}

// Invalid returns the number of complete records that failed to parse
func (b *Bus) Invalid() uint64 {
	return b.invalid.Load()
}

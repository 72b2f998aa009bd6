// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

func mustFrame(t *testing.T, id uint32, data ...byte) sbs.Frame {
	t.Helper()
	f, err := sbs.NewFrame(id, data)
	require.NoError(t, err)
	return f
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoopback_SendReceive(t *testing.T) {
	bus := NewLoopback()
	defer bus.Close()

	a, b, c := bus.Open(), bus.Open(), bus.Open()
	ctx := testContext(t)

	f := mustFrame(t, sbs.IDInfo01, 1, 2, 3, 4, 5, 6, 7, 8)
	require.NoError(t, a.Send(ctx, f))

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	got, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	// the sender does not receive its own frame
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = a.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopback_Close(t *testing.T) {
	bus := NewLoopback()
	a, b := bus.Open(), bus.Open()
	ctx := testContext(t)

	require.NoError(t, a.Send(ctx, mustFrame(t, 0x100)))
	require.NoError(t, bus.Close())

	// queued frames are still delivered after close
	_, err := b.Receive(ctx)
	require.NoError(t, err)

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Send(ctx, mustFrame(t, 0x100)), ErrClosed)

	late := bus.Open()
	_, err = late.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoopback_SendRejectsInvalidFrame(t *testing.T) {
	bus := NewLoopback()
	defer bus.Close()

	err := bus.Open().Send(testContext(t), sbs.Frame{ID: 0x800})
	assert.ErrorIs(t, err, sbs.ErrInvalidID)
}

func TestLoopback_EndpointClose(t *testing.T) {
	bus := NewLoopback()
	defer bus.Close()

	a, b := bus.Open(), bus.Open()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	// sending with no remaining peers succeeds
	assert.NoError(t, a.Send(testContext(t), mustFrame(t, 0x171)))
}

func TestFilters(t *testing.T) {
	info := mustFrame(t, sbs.IDInfo03, 1)
	control := sbs.EncodeControl(sbs.ControlCharge)
	other := mustFrame(t, 0x321)
	extended := sbs.Frame{ID: sbs.IDInfo03, Extended: true}

	tests := []struct {
		name   string
		filter FrameFilter
		want   [4]bool
	}{
		{"ByID", ByID(sbs.IDControl), [4]bool{false, true, false, false}},
		{"BMSInfo", BMSInfo(), [4]bool{true, false, false, false}},
		{"Or", Or(BMSInfo(), ByID(sbs.IDControl)), [4]bool{true, true, false, false}},
		{"Not", Not(BMSInfo()), [4]bool{false, true, true, true}},
		{"Or nil", Or(nil, ByID(0x321)), [4]bool{false, false, true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, f := range []sbs.Frame{info, control, other, extended} {
				assert.Equal(t, tt.want[i], tt.filter(f), "frame %s", f)
			}
		})
	}
}

func TestFiltered_SkipsRejectedFrames(t *testing.T) {
	bus := NewLoopback()
	defer bus.Close()

	tx := bus.Open()
	rx := Filtered(bus.Open(), BMSInfo())
	ctx := testContext(t)

	require.NoError(t, tx.Send(ctx, mustFrame(t, 0x321, 9)))
	require.NoError(t, tx.Send(ctx, sbs.EncodeControl(sbs.ControlInactive)))
	require.NoError(t, tx.Send(ctx, mustFrame(t, sbs.IDInfo05, 1, 0, 0)))

	got, err := rx.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(sbs.IDInfo05), got.ID)

	assert.Same(t, tx, Filtered(tx, nil))
}

func TestLoggedBus(t *testing.T) {
	bus := NewLoopback()
	defer bus.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	tx := NewLoggedBus(bus.Open(), logger, zapcore.DebugLevel, LogWrite)
	rx := NewLoggedBus(bus.Open(), logger, zapcore.DebugLevel, LogRead)
	ctx := testContext(t)

	require.NoError(t, tx.Send(ctx, sbs.EncodeControl(sbs.ControlCharge)))
	_, err := rx.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("canbus send").Len())
	received := logs.FilterMessage("canbus receive").All()
	require.Len(t, received, 1)
	assert.Equal(t, "160#02", received[0].ContextMap()["frame"])

	// cancelled receives are not reported as failures
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = rx.Receive(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, logs.FilterMessage("canbus receive failed").Len())

	err = tx.Send(ctx, sbs.Frame{ID: 0xFFFF})
	assert.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("canbus send failed").Len())
}

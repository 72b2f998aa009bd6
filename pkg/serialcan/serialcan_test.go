// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialcan

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// ============================================================
// Records
// ============================================================

func TestEncodeRx(t *testing.T) {
	f, err := sbs.NewFrame(sbs.IDInfo05, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	rec := EncodeRx(f)
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x75, 0x01, 0x02, 0x03, 0, 0, 0, 0, 0}, rec)

	got, err := ParseRx(rec)
	require.NoError(t, err)
	assert.Equal(t, uint32(sbs.IDInfo05), got.ID)
	assert.Equal(t, uint8(8), got.Len)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got.Payload()[:3])
}

func TestParseRx_Errors(t *testing.T) {
	_, err := ParseRx(make([]byte, 11))
	assert.ErrorIs(t, err, ErrRecordLen)

	_, err = ParseRx([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, sbs.ErrInvalidID)
}

func TestEncodeTx_Control(t *testing.T) {
	rec := EncodeTx(sbs.EncodeControl(sbs.ControlCharge))
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x60, 0, 0, 0x02, 0, 0, 0, 0, 0, 0, 0}, rec)

	f, err := ParseTx(rec)
	require.NoError(t, err)
	cs, ok := sbs.DecodeControl(f)
	require.True(t, ok)
	assert.Equal(t, sbs.ControlCharge, cs)
}

func TestParseTx_Errors(t *testing.T) {
	tests := []struct {
		name string
		rec  []byte
		want error
	}{
		{"short", make([]byte, 13), ErrRecordLen},
		{"bad ext flag", []byte{0, 0, 1, 0x60, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidFlags},
		{"remote", []byte{0, 0, 1, 0x60, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, ErrRemoteFrame},
		{"standard id too large", []byte{0, 0, 0x08, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, sbs.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTx(tt.rec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseTx_Extended(t *testing.T) {
	rec := []byte{0x18, 0xFF, 0x50, 0xE5, 1, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	f, err := ParseTx(rec)
	require.NoError(t, err)
	assert.True(t, f.Extended)
	assert.Equal(t, uint32(0x18FF50E5), f.ID)
	assert.Equal(t, rec, EncodeTx(f))
}

// ============================================================
// Splitter
// ============================================================

func TestSplitter_ChunkedRecords(t *testing.T) {
	s := NewSplitter(RxRecordLen, DefaultFrameGap)
	now := time.Unix(0, 0)

	a := EncodeRx(sbs.EncodeControl(sbs.ControlCharge))
	b := EncodeRx(sbs.EncodeControl(sbs.ControlDischarge))
	stream := append(append([]byte{}, a...), b...)

	assert.Empty(t, s.Feed(stream[:5], now))
	assert.Equal(t, 5, s.Pending())

	now = now.Add(time.Millisecond)
	records := s.Feed(stream[5:20], now)
	require.Len(t, records, 1)
	assert.Equal(t, a, records[0])

	now = now.Add(time.Millisecond)
	records = s.Feed(stream[20:], now)
	require.Len(t, records, 1)
	assert.Equal(t, b, records[0])
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, uint64(0), s.Discarded())
}

func TestSplitter_GapResync(t *testing.T) {
	s := NewSplitter(RxRecordLen, DefaultFrameGap)
	now := time.Unix(0, 0)

	rec := EncodeRx(sbs.EncodeControl(sbs.ControlCharge))

	// a lost byte leaves a partial record behind
	assert.Empty(t, s.Feed(rec[:7], now))

	// the next record starts after an idle gap and is parsed cleanly
	now = now.Add(DefaultFrameGap + time.Millisecond)
	records := s.Feed(rec, now)
	require.Len(t, records, 1)
	assert.Equal(t, rec, records[0])
	assert.Equal(t, uint64(1), s.Discarded())
}

func TestSplitter_NoGapKeepsPartial(t *testing.T) {
	s := NewSplitter(TxRecordLen, 0)
	now := time.Unix(0, 0)

	rec := EncodeTx(sbs.EncodeControl(sbs.ControlCharge))
	assert.Empty(t, s.Feed(rec[:3], now))

	records := s.Feed(rec[3:], now.Add(time.Hour))
	require.Len(t, records, 1)
	assert.Equal(t, rec, records[0])
	assert.Equal(t, uint64(0), s.Discarded())
}

func TestSplitter_RecordsAreCopies(t *testing.T) {
	s := NewSplitter(2, 0)
	now := time.Unix(0, 0)

	first := s.Feed([]byte{1, 2, 3}, now)
	second := s.Feed([]byte{4, 5, 6}, now)
	assert.Equal(t, [][]byte{{1, 2}}, first)
	assert.Equal(t, [][]byte{{3, 4}, {5, 6}}, second)

	s.Feed([]byte{7}, now)
	s.Reset()
	assert.Equal(t, 0, s.Pending())
}

// ============================================================
// Bus
// ============================================================

func newPipeBus(t *testing.T) (*Bus, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	bus := New(local, WithFrameGap(0))
	t.Cleanup(func() {
		bus.Close()
		peer.Close()
	})
	return bus, peer
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBus_Receive(t *testing.T) {
	bus, peer := newPipeBus(t)
	ctx := testContext(t)

	f, err := sbs.NewFrame(sbs.IDInfo01, []byte{0xE8, 0x03, 0x40, 0x01, 0, 0, 0, 0})
	require.NoError(t, err)
	rec := EncodeRx(f)

	go func() {
		_, _ = peer.Write(rec[:4])
		_, _ = peer.Write(rec[4:])
	}()

	got, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	state := sbs.NewState()
	_, err = state.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, 7.8125, state.Pack.Voltage)
}

func TestBus_SkipsInvalidRecords(t *testing.T) {
	bus, peer := newPipeBus(t)
	ctx := testContext(t)

	bad := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0}
	good := EncodeRx(sbs.EncodeControl(sbs.ControlCharge))
	go func() {
		_, _ = peer.Write(append(bad, good...))
	}()

	got, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(sbs.IDControl), got.ID)
	assert.Equal(t, uint64(1), bus.Invalid())
}

func TestBus_Send(t *testing.T) {
	bus, peer := newPipeBus(t)
	ctx := testContext(t)

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, TxRecordLen)
		_, err := io.ReadFull(peer, buf)
		if err == nil {
			received <- buf
		}
	}()

	require.NoError(t, bus.Send(ctx, sbs.EncodeControl(sbs.ControlDeepSleep)))

	select {
	case rec := <-received:
		assert.Equal(t, EncodeTx(sbs.EncodeControl(sbs.ControlDeepSleep)), rec)
	case <-ctx.Done():
		t.Fatal("peer did not receive transmit record")
	}
}

func TestBus_SendCancelled(t *testing.T) {
	bus, _ := newPipeBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Send(ctx, sbs.EncodeControl(sbs.ControlCharge))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBus_PeerClosed(t *testing.T) {
	bus, peer := newPipeBus(t)
	require.NoError(t, peer.Close())

	_, err := bus.Receive(testContext(t))
	assert.Error(t, err)
}

func TestBus_Close(t *testing.T) {
	bus, _ := newPipeBus(t)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, err := bus.Receive(testContext(t))
	assert.ErrorIs(t, err, canbus.ErrClosed)
	assert.ErrorIs(t, bus.Send(testContext(t), sbs.EncodeControl(sbs.ControlCharge)), canbus.ErrClosed)
}

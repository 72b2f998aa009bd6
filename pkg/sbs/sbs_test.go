// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Helpers
// ============================================================

func fill(n int, v byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = v
	}
	return data
}

// primedState returns a state with every message decoded once from 0xAA payloads
func primedState(t *testing.T) *State {
	t.Helper()
	s := NewState()
	for _, id := range InfoIDs {
		_, err := Decode(s, id, fill(8, 0xAA))
		require.NoError(t, err)
	}
	return s
}

// ============================================================
// Decode
// ============================================================

func TestDecode_KnownIDs(t *testing.T) {
	tests := []struct {
		id   uint32
		want MessageType
	}{
		{IDInfo01, MessageInfo01},
		{IDInfo02, MessageInfo02},
		{IDInfo03, MessageInfo03},
		{IDInfo04, MessageInfo04},
		{IDInfo05, MessageInfo05},
		{IDInfo06, MessageInfo06},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			s := NewState()
			msg, err := Decode(s, tt.id, fill(8, 0x01))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
			assert.Equal(t, uint64(1), s.Count(tt.want))
		})
	}
}

func TestDecode_OnlyOwnedFieldsChange(t *testing.T) {
	for _, id := range InfoIDs {
		msg := MessageForID(id)
		t.Run(msg.String(), func(t *testing.T) {
			s := primedState(t)
			before := *s

			_, err := Decode(s, id, fill(8, 0x55))
			require.NoError(t, err)

			if msg != MessageInfo01 {
				assert.Equal(t, before.Pack, s.Pack)
			}
			if msg != MessageInfo02 {
				assert.Equal(t, before.Status, s.Status)
			}
			if msg != MessageInfo03 {
				assert.Equal(t, before.Cells.Lower, s.Cells.Lower)
			}
			if msg != MessageInfo04 {
				assert.Equal(t, before.Cells.Upper, s.Cells.Upper)
			}
			if msg != MessageInfo05 {
				assert.Equal(t, before.Balancing, s.Balancing)
			}
			if msg != MessageInfo06 {
				assert.Equal(t, before.Temperatures, s.Temperatures)
			}
			assert.NotEqual(t, before, *s)
		})
	}
}

func TestDecode_UnrecognizedID(t *testing.T) {
	for _, id := range []uint32{0x000, 0x160, 0x170, 0x177, 0x7FF, 0x1FFFFFFF} {
		s := primedState(t)
		before := *s

		msg, err := Decode(s, id, fill(8, 0xFF))
		assert.Equal(t, MessageNone, msg)
		assert.ErrorIs(t, err, ErrUnrecognizedID)
		assert.Equal(t, before, *s, "state must not change for id 0x%X", id)
	}
}

func TestDecode_ShortPayloadRejected(t *testing.T) {
	tests := []struct {
		id     uint32
		minLen int
	}{
		{IDInfo01, 7},
		{IDInfo02, 8},
		{IDInfo03, 8},
		{IDInfo04, 6},
		{IDInfo05, 3},
		{IDInfo06, 8},
	}

	for _, tt := range tests {
		t.Run(FormatMessageType(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.minLen, RequiredLen(MessageForID(tt.id)))
			for n := 0; n < tt.minLen; n++ {
				s := primedState(t)
				before := *s

				msg, err := Decode(s, tt.id, fill(n, 0x33))
				assert.Equal(t, MessageNone, msg)
				assert.ErrorIs(t, err, ErrMalformedFrame)
				assert.Equal(t, before, *s)
			}

			s := NewState()
			_, err := Decode(s, tt.id, fill(tt.minLen, 0x33))
			assert.NoError(t, err, "exact minimum length must decode")
		})
	}
}

func TestDecode_FrameMethod(t *testing.T) {
	s := NewState()
	f, err := NewFrame(IDInfo05, []byte{0x01, 0x00, 0x04})
	require.NoError(t, err)

	msg, err := s.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, MessageInfo05, msg)
	assert.Equal(t, []int{1, 14}, s.Balancing.Cells())

	ext := Frame{ID: IDInfo05, Extended: true, Len: 3}
	_, err = s.Decode(ext)
	assert.True(t, errors.Is(err, ErrUnrecognizedID), "extended frames are not BMS messages")
}

// ============================================================
// Scaling and layouts
// ============================================================

func TestDecode_PackVoltageAndCurrent(t *testing.T) {
	s := NewState()
	// 1000 LE = E8 03; current 320 LE = 40 01
	_, err := Decode(s, IDInfo01, []byte{0xE8, 0x03, 0x40, 0x01, 0, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, 7.8125, s.Pack.Voltage)
	assert.Equal(t, 10.0, s.Pack.Current)
}

func TestDecode_PackVoltageFullRange(t *testing.T) {
	s := NewState()
	_, err := Decode(s, IDInfo01, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, 65535*0.0078125, s.Pack.Voltage)
	assert.Equal(t, 65535*0.03125, s.Pack.Current)
}

func TestDecode_Status(t *testing.T) {
	s := NewState()
	_, err := Decode(s, IDInfo02, []byte{
		0x05, 0x00, // IDLE
		87,         // SoC
		100,        // SoH raw
		0x10, 0x27, // 10000 mAh
		0x20, 0x4E, // 20000 mAh
	})
	require.NoError(t, err)

	assert.Equal(t, StateIdle, s.Status.State)
	assert.Equal(t, "IDLE", s.StateName())
	assert.Equal(t, uint8(87), s.Status.StateOfCharge)
	assert.Equal(t, 50.0, s.Status.StateOfHealth)
	assert.Equal(t, uint16(10000), s.Status.RemainingCapacity)
	assert.Equal(t, uint16(20000), s.Status.FullCapacity)
}

func TestDecode_StateOfHealthKeepsHalfSteps(t *testing.T) {
	s := NewState()
	_, err := Decode(s, IDInfo02, []byte{0, 0, 0, 199, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 99.5, s.Status.StateOfHealth)
}

func TestDecode_CellVoltages(t *testing.T) {
	s := NewState()
	_, err := Decode(s, IDInfo03, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	_, err = Decode(s, IDInfo04, []byte{9, 10, 11, 12, 13, 14})
	require.NoError(t, err)

	for n := 1; n <= NumCells; n++ {
		v, ok := s.Cells.Voltage(n)
		require.True(t, ok)
		assert.Equal(t, uint8(n), v, "cell %d", n)
	}
	_, ok := s.Cells.Voltage(0)
	assert.False(t, ok)
	_, ok = s.Cells.Voltage(15)
	assert.False(t, ok)

	all := s.Cells.All()
	assert.Equal(t, uint8(1), all[0])
	assert.Equal(t, uint8(14), all[13])
}

func TestDecode_Temperatures(t *testing.T) {
	s := NewState()
	_, err := Decode(s, IDInfo06, []byte{
		0x19, 0x00, // 25
		0xF6, 0xFF, // -10
		0x2A, 0x00, // 42
		21, 200,
	})
	require.NoError(t, err)

	assert.Equal(t, int16(25), s.Temperatures.Powerstage1)
	assert.Equal(t, int16(-10), s.Temperatures.Powerstage2)
	assert.Equal(t, int16(42), s.Temperatures.MCU)
	assert.Equal(t, uint8(21), s.Temperatures.Cell1)
	assert.Equal(t, uint8(200), s.Temperatures.Cell2)
}

func TestBalancing_GroupMapping(t *testing.T) {
	tests := []struct {
		name string
		bits [3]uint8
		want []int
	}{
		{"none", [3]uint8{0, 0, 0}, nil},
		{"first front-end", [3]uint8{0b00111111, 0, 0}, []int{1, 2, 3, 4, 5, 6}},
		{"second front-end", [3]uint8{0, 0b00011111, 0}, []int{7, 8, 9, 10, 11}},
		{"third front-end", [3]uint8{0, 0, 0b00000111}, []int{12, 13, 14}},
		{"unused bits ignored", [3]uint8{0b11000000, 0b11100000, 0b11111000}, nil},
		{"mixed", [3]uint8{0b00000010, 0b00000100, 0b00000001}, []int{2, 9, 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Balancing{Bits: tt.bits}
			assert.Equal(t, tt.want, b.Cells())
		})
	}
}

// ============================================================
// Error flags
// ============================================================

func TestErrorFlags_Byte4(t *testing.T) {
	s := NewState()
	// bit 7 = EEPROM, bit 4 = PACK_VOLTAGE_MAX
	_, err := Decode(s, IDInfo01, []byte{0, 0, 0, 0, 0b10010000, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, []ErrorFlag{ErrPackVoltageMax, ErrEEPROM}, s.Pack.Errors.Active())
	assert.True(t, s.ErrorActive())

	_, err = Decode(s, IDInfo01, []byte{0, 0, 0, 0, 0b00010001, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []ErrorFlag{ErrTempPowerstage1, ErrPackVoltageMax}, s.Pack.Errors.Active())

	_, err = Decode(s, IDInfo01, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, s.ErrorActive())
	assert.Equal(t, "NONE", s.Pack.Errors.String())
}

func TestErrorFlags_EveryBitMapsToOneFlag(t *testing.T) {
	for f := ErrorFlag(0); f < NumErrorFlags; f++ {
		t.Run(f.String(), func(t *testing.T) {
			payload := make([]byte, 8)
			payload[f.ByteOffset()] = f.Mask()

			s := NewState()
			_, err := Decode(s, IDInfo01, payload)
			require.NoError(t, err)

			assert.Equal(t, []ErrorFlag{f}, s.Pack.Errors.Active())
			assert.True(t, s.ErrorActive())
			assert.NotEmpty(t, f.Description())

			parsed, ok := ParseErrorFlag(f.String())
			require.True(t, ok)
			assert.Equal(t, f, parsed)
		})
	}
}

func TestErrorFlags_DeviceMasks(t *testing.T) {
	tests := []struct {
		flag   ErrorFlag
		offset int
		mask   uint8
	}{
		{ErrTempPowerstage1, 4, 0x01},
		{ErrEEPROM, 4, 0x80},
		{ErrCMCRC, 5, 0x01},
		{ErrPowerstage, 5, 0x10},
		{ErrPackVoltageMin, 5, 0x80},
		{ErrDischargeVoltage, 6, 0x01},
		{ErrAnalogOvercurrent, 6, 0x08},
		{ErrUndertempDischarge, 6, 0x80},
	}

	for _, tt := range tests {
		t.Run(tt.flag.String(), func(t *testing.T) {
			assert.Equal(t, tt.offset, tt.flag.ByteOffset())
			assert.Equal(t, tt.mask, tt.flag.Mask())
		})
	}
}

func TestPackFlags_Byte7(t *testing.T) {
	s := NewState()
	_, err := Decode(s, IDInfo01, []byte{0, 0, 0, 0, 0, 0, 0, 0b00000110})
	require.NoError(t, err)

	assert.False(t, s.Pack.Flags.PassiveCurrentFlow())
	assert.True(t, s.Pack.Flags.CANTimeout())
	assert.True(t, s.Pack.Flags.ChargePlugDetected())
	assert.False(t, s.ErrorActive(), "byte 7 status bits are not error flags")

	// a 7-byte frame keeps the previous byte 7 flags
	_, err = Decode(s, IDInfo01, []byte{0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, s.Pack.Flags.ChargePlugDetected())
}

func TestParseErrorFlag_Unknown(t *testing.T) {
	_, ok := ParseErrorFlag("NOT_A_FLAG")
	assert.False(t, ok)
	assert.Equal(t, "UNKNOWN", ErrorFlag(NumErrorFlags).String())
	assert.False(t, ErrorFlags(0xFFFFFFFF).Has(ErrorFlag(30)))
}

// ============================================================
// Counters
// ============================================================

func TestReceiveCounters(t *testing.T) {
	s := NewState()
	const n = 17
	for i := 0; i < n; i++ {
		_, err := Decode(s, IDInfo03, fill(8, byte(i)))
		require.NoError(t, err)
	}
	_, _ = Decode(s, 0x123, fill(8, 0))
	_, _ = Decode(s, IDInfo03, fill(2, 0))

	assert.Equal(t, [NumInfoMessages]uint64{0, 0, n, 0, 0, 0}, s.Counts())
	assert.Equal(t, uint64(0), s.Count(MessageNone))
}

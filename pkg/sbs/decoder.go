// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedID is returned for frames that are not BMS info messages.
	// This is normal on a shared bus and callers usually ignore it.
	ErrUnrecognizedID = errors.New("sbs: unrecognized identifier")
	// ErrMalformedFrame is returned when a payload is too short for its message
	ErrMalformedFrame = errors.New("sbs: malformed frame")
)

type messageDecoder struct {
	msg    MessageType
	minLen int
	apply  func(s *State, data []byte)
}

var decoders = map[uint32]messageDecoder{
	IDInfo01: {MessageInfo01, minLenInfo01, decodeInfo01},
	IDInfo02: {MessageInfo02, minLenInfo02, decodeInfo02},
	IDInfo03: {MessageInfo03, minLenInfo03, decodeInfo03},
	IDInfo04: {MessageInfo04, minLenInfo04, decodeInfo04},
	IDInfo05: {MessageInfo05, minLenInfo05, decodeInfo05},
	IDInfo06: {MessageInfo06, minLenInfo06, decodeInfo06},
}

// MessageForID returns the message type of an identifier, or MessageNone
func MessageForID(id uint32) MessageType {
	if d, ok := decoders[id]; ok {
		return d.msg
	}
	return MessageNone
}

// RequiredLen returns the minimum payload length of a message
func RequiredLen(m MessageType) int {
	if !m.Valid() {
		return 0
	}
	return decoders[m.ID()].minLen
}

// Decode applies one received frame to the state and returns the decoded
// message type. Unknown identifiers return ErrUnrecognizedID and payloads
// shorter than the message layout return ErrMalformedFrame; in both cases
// the state is left untouched.
func Decode(s *State, id uint32, data []byte) (MessageType, error) {
	d, ok := decoders[id]
	if !ok {
		return MessageNone, ErrUnrecognizedID
	}
	if len(data) < d.minLen {
		return MessageNone, fmt.Errorf("%w: %s (0x%03X) needs %d bytes, got %d",
			ErrMalformedFrame, d.msg, id, d.minLen, len(data))
	}
	d.apply(s, data)
	s.received[d.msg-1]++
	return d.msg, nil
}

// Decode applies a frame to the state, see Decode
func (s *State) Decode(f Frame) (MessageType, error) {
	if f.Extended {
		return MessageNone, ErrUnrecognizedID
	}
	return Decode(s, f.ID, f.Payload())
}

func u16(data []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(data[offset:])
}

func decodeInfo01(s *State, data []byte) {
	s.Pack.Voltage = float64(u16(data, 0)) * PackVoltageScale
	s.Pack.Current = float64(u16(data, 2)) * PackCurrentScale
	s.Pack.Errors = errorFlagsFromBytes(data[4], data[5], data[6])
	if len(data) > 7 {
		s.Pack.Flags = PackFlags(data[7])
	}
}

func decodeInfo02(s *State, data []byte) {
	s.Status.State = StateCode(u16(data, 0))
	s.Status.StateOfCharge = data[2]
	s.Status.StateOfHealth = float64(data[3]) * StateOfHealthScale
	s.Status.RemainingCapacity = u16(data, 4)
	s.Status.FullCapacity = u16(data, 6)
}

func decodeInfo03(s *State, data []byte) {
	copy(s.Cells.Lower[:], data[:numLowerCells])
}

func decodeInfo04(s *State, data []byte) {
	copy(s.Cells.Upper[:], data[:numUpperCells])
}

func decodeInfo05(s *State, data []byte) {
	copy(s.Balancing.Bits[:], data[:numBalanceBits])
}

func decodeInfo06(s *State, data []byte) {
	s.Temperatures.Powerstage1 = int16(u16(data, 0))
	s.Temperatures.Powerstage2 = int16(u16(data, 2))
	s.Temperatures.MCU = int16(u16(data, 4))
	s.Temperatures.Cell1 = data[6]
	s.Temperatures.Cell2 = data[7]
}

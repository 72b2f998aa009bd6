// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import (
	"errors"
	"fmt"
	"strings"
)

// Identifier limits
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLen    = 8
)

var (
	ErrInvalidID  = errors.New("sbs: invalid identifier")
	ErrInvalidLen = errors.New("sbs: invalid data length")
)

// Frame is a classical CAN data frame as exchanged with the transport.
// Only the first Len bytes of Data are meaningful.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxDataLen]byte
}

// NewFrame builds a frame from an identifier and up to 8 payload bytes
func NewFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidLen, len(data))
	}
	f := Frame{ID: id, Extended: id > MaxStandardID, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate returns an error if the identifier or length is out of range
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the valid data bytes of the frame
func (f Frame) Payload() []byte {
	n := min(int(f.Len), MaxDataLen)
	return f.Data[:n]
}

// String renders the frame in candump style, e.g. "171#0102030405060708"
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID)
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, "%02X", d)
	}
	return b.String()
}

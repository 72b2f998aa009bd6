// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serialcan speaks the data-mode framing of Longan Serial CAN Bus
// modules: fixed-size binary records over a UART, delimited by idle gaps.
//
// The module emits one 12-byte record per received CAN frame:
//
//	[ID (4 bytes, big-endian)][DATA (8 bytes)]
//
// and accepts one 14-byte record per frame to transmit:
//
//	[ID (4 bytes, big-endian)][EXT (1)][RTR (1)][DATA (8 bytes)]
//
// The same records are used by the TCP frame bridge so that a network
// client looks exactly like a serial module.
package serialcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Record sizes
const (
	RxRecordLen = 12
	TxRecordLen = 14
)

var (
	ErrRecordLen    = errors.New("serialcan: invalid record length")
	ErrRemoteFrame  = errors.New("serialcan: remote frames are not supported")
	ErrInvalidFlags = errors.New("serialcan: invalid flag byte")
)

// EncodeRx builds the record the module emits for a received frame.
// Payloads shorter than 8 bytes are zero padded.
func EncodeRx(f sbs.Frame) []byte {
	rec := make([]byte, RxRecordLen)
	binary.BigEndian.PutUint32(rec[0:4], f.ID)
	copy(rec[4:], f.Payload())
	return rec
}

// ParseRx decodes a 12-byte receive record. The record carries no length
// field so the frame always has 8 data bytes.
func ParseRx(rec []byte) (sbs.Frame, error) {
	if len(rec) != RxRecordLen {
		return sbs.Frame{}, fmt.Errorf("%w: %d", ErrRecordLen, len(rec))
	}
	id := binary.BigEndian.Uint32(rec[0:4])
	f := sbs.Frame{ID: id, Extended: id > sbs.MaxStandardID, Len: sbs.MaxDataLen}
	copy(f.Data[:], rec[4:])
	if err := f.Validate(); err != nil {
		return sbs.Frame{}, err
	}
	return f, nil
}

// EncodeTx builds the record that asks the module to transmit f
func EncodeTx(f sbs.Frame) []byte {
	rec := make([]byte, TxRecordLen)
	binary.BigEndian.PutUint32(rec[0:4], f.ID)
	if f.Extended {
		rec[4] = 1
	}
	copy(rec[6:], f.Payload())
	return rec
}

// ParseTx decodes a 14-byte transmit record
func ParseTx(rec []byte) (sbs.Frame, error) {
	if len(rec) != TxRecordLen {
		return sbs.Frame{}, fmt.Errorf("%w: %d", ErrRecordLen, len(rec))
	}
	if rec[4] > 1 || rec[5] > 1 {
		return sbs.Frame{}, ErrInvalidFlags
	}
	if rec[5] == 1 {
		return sbs.Frame{}, ErrRemoteFrame
	}
	f := sbs.Frame{
		ID:       binary.BigEndian.Uint32(rec[0:4]),
		Extended: rec[4] == 1,
		Len:      sbs.MaxDataLen,
	}
	copy(f.Data[:], rec[6:])
	if err := f.Validate(); err != nil {
		return sbs.Frame{}, err
	}
	return f, nil
}

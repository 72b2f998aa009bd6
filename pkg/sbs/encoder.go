// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

// EncodeControl builds the state change frame for the given control state.
// The frame carries the state code in its single payload byte and must be
// transmitted by the caller.
func EncodeControl(cs ControlState) Frame {
	f := Frame{ID: IDControl, Len: 1}
	f.Data[0] = byte(cs)
	return f
}

// DecodeControl extracts the control state from a frame built by
// EncodeControl. It returns false for other identifiers or empty payloads.
func DecodeControl(f Frame) (ControlState, bool) {
	if f.ID != IDControl || f.Extended || f.Len < 1 {
		return 0, false
	}
	return ControlState(f.Data[0]), true
}

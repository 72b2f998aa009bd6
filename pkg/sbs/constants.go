// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sbs decodes and encodes the CAN messages of a Smart Battery Solutions
// 10bis14s battery management system (BMS).
//
// The BMS broadcasts six informational messages (0x171-0x176) carrying pack
// voltage and current, error flags, operating state, cell voltages, balancing
// status and temperatures. A single control message (0x160) switches the
// battery's operating state. Decoded values accumulate in a State.
//
// See "Specification CAN Bus (General) Project: 10bis14s BMS", 29.07.2015.
package sbs

// CAN identifiers of the informational messages sent by the BMS
const (
	IDInfo01 = 0x171 // pack voltage, current, error flags
	IDInfo02 = 0x172 // operating state, SoC, SoH, capacity
	IDInfo03 = 0x173 // cell voltages 1-8
	IDInfo04 = 0x174 // cell voltages 9-14
	IDInfo05 = 0x175 // cell balancing bits
	IDInfo06 = 0x176 // temperatures
)

// IDControl is the CAN identifier of the state change command sent to the BMS
const IDControl = 0x160

// InfoIDs lists the informational identifiers in message order
var InfoIDs = [NumInfoMessages]uint32{IDInfo01, IDInfo02, IDInfo03, IDInfo04, IDInfo05, IDInfo06}

// Fixed-point scale factors (BMS CAN document, pages 6 and 9)
const (
	PackVoltageScale   = 0.0078125 // V per LSB (1/128)
	PackCurrentScale   = 0.03125   // A per LSB (1/32)
	StateOfHealthScale = 0.5       // % per LSB
)

// Minimum payload length of each informational message.
// Info01 byte 7 carries optional status flags and is not required.
const (
	minLenInfo01 = 7
	minLenInfo02 = 8
	minLenInfo03 = 8
	minLenInfo04 = 6
	minLenInfo05 = 3
	minLenInfo06 = 8
)

// Pack layout
const (
	NumCells       = 14
	numLowerCells  = 8
	numUpperCells  = NumCells - numLowerCells
	numBalanceBits = 3
)

// MessageType identifies one of the six informational messages (1-6)
type MessageType int

// Message type values
const (
	MessageNone MessageType = iota
	MessageInfo01
	MessageInfo02
	MessageInfo03
	MessageInfo04
	MessageInfo05
	MessageInfo06
)

// NumInfoMessages is the number of informational message types
const NumInfoMessages = 6

// ControlState is a command value that switches the BMS operating mode
type ControlState uint8

// Control state values. 4 is not assigned by the device.
const (
	ControlInactive  ControlState = 0
	ControlDischarge ControlState = 1
	ControlCharge    ControlState = 2
	ControlAlarmMode ControlState = 3 // infinite 12V active time, no reaction to button and charge input
	Control12VMode   ControlState = 5
	ControlDeepSleep ControlState = 6
)

// StateCode is the operating state reported by the BMS in Info02
type StateCode uint16

// Operating state values
const (
	StateInit1            StateCode = 1
	StateInit2            StateCode = 2
	StateInit3            StateCode = 3
	StateInit4            StateCode = 4
	StateIdle             StateCode = 5
	StateDischarge        StateCode = 6
	StateCharge           StateCode = 7
	StateFault            StateCode = 10
	StateCritErr          StateCode = 11
	StatePrepareDeepSleep StateCode = 99 // board net supply is cut off in 2 seconds
	StateDeepSleep        StateCode = 100
)

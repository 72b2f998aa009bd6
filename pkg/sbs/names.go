// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import "fmt"

var stateNames = map[StateCode]string{
	StateInit1:            "INIT1",
	StateInit2:            "INIT2",
	StateInit3:            "INIT3",
	StateInit4:            "INIT4",
	StateIdle:             "IDLE",
	StateDischarge:        "DISCHARGE",
	StateCharge:           "CHARGE",
	StateFault:            "FAULT",
	StateCritErr:          "CRIT_ERR",
	StatePrepareDeepSleep: "PREPARE_DEEPSLEEP",
	StateDeepSleep:        "DEEPSLEEP",
}

var controlStateNames = map[ControlState]string{
	ControlInactive:  "INACTIVE",
	ControlDischarge: "DISCHARGE",
	ControlCharge:    "CHARGE",
	ControlAlarmMode: "ALARM_MODE",
	Control12VMode:   "12V_MODE",
	ControlDeepSleep: "DEEP_SLEEP",
}

var (
	stateCodesByName    map[string]StateCode
	controlStatesByName map[string]ControlState
)

func init() {
	stateCodesByName = make(map[string]StateCode, len(stateNames))
	for code, name := range stateNames {
		stateCodesByName[name] = code
	}
	controlStatesByName = make(map[string]ControlState, len(controlStateNames))
	for cs, name := range controlStateNames {
		controlStatesByName[name] = cs
	}
}

// Name returns the symbolic name of the state code, or false if the code is unknown
func (c StateCode) Name() (string, bool) {
	name, ok := stateNames[c]
	return name, ok
}

// String returns the state name, or "UNKNOWN(<code>)" for unrecognized codes
func (c StateCode) String() string {
	if name, ok := stateNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
}

// Valid reports whether the code is one of the documented operating states
func (c StateCode) Valid() bool {
	_, ok := stateNames[c]
	return ok
}

// StateName looks up the symbolic name of a raw operating state code
func StateName(code uint16) (string, bool) {
	return StateCode(code).Name()
}

// ParseStateCode looks up an operating state by name (exact match)
func ParseStateCode(name string) (StateCode, bool) {
	c, ok := stateCodesByName[name]
	return c, ok
}

// Name returns the symbolic name of the control state, or false if unassigned
func (cs ControlState) Name() (string, bool) {
	name, ok := controlStateNames[cs]
	return name, ok
}

// String returns the control state name, or "UNKNOWN(<code>)"
func (cs ControlState) String() string {
	if name, ok := controlStateNames[cs]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(cs))
}

// Valid reports whether the value is one of the assigned control states
func (cs ControlState) Valid() bool {
	_, ok := controlStateNames[cs]
	return ok
}

// ParseControlState looks up a control state by name. The match is exact and
// case-sensitive, e.g. "CHARGE" or "12V_MODE".
func ParseControlState(name string) (ControlState, bool) {
	cs, ok := controlStatesByName[name]
	return cs, ok
}

// ControlStates returns all assigned control states in code order
func ControlStates() []ControlState {
	return []ControlState{
		ControlInactive,
		ControlDischarge,
		ControlCharge,
		ControlAlarmMode,
		Control12VMode,
		ControlDeepSleep,
	}
}

// Valid reports whether m is one of the six informational messages
func (m MessageType) Valid() bool {
	return m >= MessageInfo01 && m <= MessageInfo06
}

// ID returns the CAN identifier of the message, or 0 for MessageNone
func (m MessageType) ID() uint32 {
	if !m.Valid() {
		return 0
	}
	return InfoIDs[m-1]
}

// String returns the message name, e.g. "INFO_01"
func (m MessageType) String() string {
	if !m.Valid() {
		return "NONE"
	}
	return fmt.Sprintf("INFO_%02d", int(m))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import (
	"math/bits"
	"strings"
)

// ErrorFlag is the bit index of one BMS error flag in ErrorFlags.
// Index = (payload byte - 4) * 8 + bit, so the value order follows the
// Info01 payload bytes 4, 5 and 6 from the least significant bit up.
type ErrorFlag uint8

// Error flags reported in Info01 bytes 4-6
const (
	ErrTempPowerstage1 ErrorFlag = iota
	ErrTempPowerstage2
	ErrChargeCurrent
	ErrDischargeCurrent
	ErrPackVoltageMax
	ErrAnalogOvervoltage
	ErrCurrSensorOffset
	ErrEEPROM
	ErrCMCRC
	ErrExternalEnable
	ErrCMAlert
	ErrCMFault
	ErrPowerstage
	ErrPreCharge
	ErrOutputVoltageHigh
	ErrPackVoltageMin
	ErrDischargeVoltage
	ErrCMCellUndervoltage
	ErrCMCellOvervoltage
	ErrAnalogOvercurrent
	ErrOvertempCharge
	ErrOvertempDischarge
	ErrUndertempCharge
	ErrUndertempDischarge

	NumErrorFlags = 24
)

// errorFlagOffset is the Info01 payload offset of the first error byte
const errorFlagOffset = 4

type flagInfo struct {
	name        string
	description string
}

var errorFlagTable = [NumErrorFlags]flagInfo{
	ErrTempPowerstage1:    {"TEMP_POWERSTAGE_1", "Temperature at powerstage sensor 1 above limits"},
	ErrTempPowerstage2:    {"TEMP_POWERSTAGE_2", "Temperature at powerstage sensor 2 above limits"},
	ErrChargeCurrent:      {"CHARGE_CURRENT", "Charge current above limits"},
	ErrDischargeCurrent:   {"DISCHARGE_CURRENT", "Discharge current above limits"},
	ErrPackVoltageMax:     {"PACK_VOLTAGE_MAX", "Sum of cell voltages above max"},
	ErrAnalogOvervoltage:  {"ANALOG_OVERVOLTAGE", "Overvoltage detected (analog)"},
	ErrCurrSensorOffset:   {"CURR_SENSOR_OFFSET", "Offset of current measurement out of range"},
	ErrEEPROM:             {"EEPROM", "Error in EEPROM"},
	ErrCMCRC:              {"CM_CRC", "CRC error in cell monitoring communication"},
	ErrExternalEnable:     {"EXTERNAL_ENABLE", "External enable input inhibits output activation"},
	ErrCMAlert:            {"CM_ALERT", "Alert from cell monitoring"},
	ErrCMFault:            {"CM_FAULT", "Fault from cell monitoring"},
	ErrPowerstage:         {"POWERSTAGE", "Fault signal from powerstage driver"},
	ErrPreCharge:          {"PRECHARGE", "Error during precharge, reduce load"},
	ErrOutputVoltageHigh:  {"OUTPUT_VOLTAGE_HIGH", "Voltage at charge/discharge terminal above limits"},
	ErrPackVoltageMin:     {"PACK_VOLTAGE_MIN", "Sum of cell voltages below min"},
	ErrDischargeVoltage:   {"DISCHARGE_VOLTAGE", "Lowest cell voltage below minimum discharge limit"},
	ErrCMCellUndervoltage: {"CM_CELL_UNDERVOLTAGE", "Undervoltage on one or more cells"},
	ErrCMCellOvervoltage:  {"CM_CELL_OVERVOLTAGE", "Overvoltage on one or more cells"},
	ErrAnalogOvercurrent:  {"ANALOG_OVERCURRENT", "Overcurrent detected (analog)"},
	ErrOvertempCharge:     {"OVERTEMP_CHARGE", "Temperature while charging above limits"},
	ErrOvertempDischarge:  {"OVERTEMP_DISCHARGE", "Temperature while discharging above limits"},
	ErrUndertempCharge:    {"UNDERTEMP_CHARGE", "Temperature while charging below min"},
	ErrUndertempDischarge: {"UNDERTEMP_DISCHARGE", "Temperature while discharging below min"},
}

var errorFlagsByName map[string]ErrorFlag

func init() {
	errorFlagsByName = make(map[string]ErrorFlag, NumErrorFlags)
	for i, info := range errorFlagTable {
		errorFlagsByName[info.name] = ErrorFlag(i)
	}
}

// Mask returns the single-bit mask of the flag within its payload byte
func (f ErrorFlag) Mask() uint8 {
	return 1 << (f % 8)
}

// ByteOffset returns the Info01 payload offset that carries the flag
func (f ErrorFlag) ByteOffset() int {
	return errorFlagOffset + int(f)/8
}

// String returns the flag name, e.g. "PACK_VOLTAGE_MAX"
func (f ErrorFlag) String() string {
	if int(f) >= NumErrorFlags {
		return "UNKNOWN"
	}
	return errorFlagTable[f].name
}

// Description returns a human-readable explanation of the flag
func (f ErrorFlag) Description() string {
	if int(f) >= NumErrorFlags {
		return ""
	}
	return errorFlagTable[f].description
}

// ParseErrorFlag looks up a flag by its name
func ParseErrorFlag(name string) (ErrorFlag, bool) {
	f, ok := errorFlagsByName[name]
	return f, ok
}

// ErrorFlags is the set of 24 BMS error flags
type ErrorFlags uint32

const errorFlagsMask = 1<<NumErrorFlags - 1

// errorFlagsFromBytes assembles the set from Info01 bytes 4, 5 and 6
func errorFlagsFromBytes(b4, b5, b6 byte) ErrorFlags {
	return ErrorFlags(uint32(b4) | uint32(b5)<<8 | uint32(b6)<<16)
}

// Has reports whether the flag is set
func (e ErrorFlags) Has(f ErrorFlag) bool {
	if int(f) >= NumErrorFlags {
		return false
	}
	return e&(1<<f) != 0
}

// Any reports whether at least one flag is set
func (e ErrorFlags) Any() bool {
	return e&errorFlagsMask != 0
}

// Count returns the number of flags set
func (e ErrorFlags) Count() int {
	return bits.OnesCount32(uint32(e & errorFlagsMask))
}

// Active returns the set flags in bit order
func (e ErrorFlags) Active() []ErrorFlag {
	if !e.Any() {
		return nil
	}
	active := make([]ErrorFlag, 0, e.Count())
	for f := ErrorFlag(0); f < NumErrorFlags; f++ {
		if e.Has(f) {
			active = append(active, f)
		}
	}
	return active
}

// Names returns the names of the set flags in bit order
func (e ErrorFlags) Names() []string {
	active := e.Active()
	names := make([]string, len(active))
	for i, f := range active {
		names[i] = f.String()
	}
	return names
}

// String joins the names of the set flags with "|", or returns "NONE"
func (e ErrorFlags) String() string {
	if !e.Any() {
		return "NONE"
	}
	return strings.Join(e.Names(), "|")
}

// PackFlags holds the status bits of Info01 byte 7
type PackFlags uint8

// Pack status bits
const (
	FlagCurrFlowPassiveState PackFlags = 0x01 // current flow detected when no current should flow
	FlagCANTimeout           PackFlags = 0x02 // CAN timeout detected
	FlagChargePlugDetected   PackFlags = 0x04 // charge plug detected
)

// PassiveCurrentFlow reports the current-flow-in-passive-state error
func (p PackFlags) PassiveCurrentFlow() bool { return p&FlagCurrFlowPassiveState != 0 }

// CANTimeout reports the CAN timeout error
func (p PackFlags) CANTimeout() bool { return p&FlagCANTimeout != 0 }

// ChargePlugDetected reports whether a charge plug is connected
func (p PackFlags) ChargePlugDetected() bool { return p&FlagChargePlugDetected != 0 }

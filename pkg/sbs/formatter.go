// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessageType returns the human-readable name for a CAN identifier
func FormatMessageType(id uint32) string {
	switch id {
	case IDInfo01:
		return "INFO_01 (pack)"
	case IDInfo02:
		return "INFO_02 (status)"
	case IDInfo03:
		return "INFO_03 (cells 1-8)"
	case IDInfo04:
		return "INFO_04 (cells 9-14)"
	case IDInfo05:
		return "INFO_05 (balancing)"
	case IDInfo06:
		return "INFO_06 (temperatures)"
	case IDControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// FormatFrame formats a raw frame with a timestamp into a single line
func FormatFrame(f Frame, at time.Time) string {
	payload := make([]string, 0, MaxDataLen)
	for _, b := range f.Payload() {
		payload = append(payload, fmt.Sprintf("%02X", b))
	}
	return fmt.Sprintf("[%s] %s (0x%03X) len=%d  %s\n",
		at.Format("15:04:05.000"), FormatMessageType(f.ID), f.ID, f.Len, strings.Join(payload, " "))
}

// FormatUpdate formats the fields written by the given message
func FormatUpdate(s *State, m MessageType) string {
	switch m {
	case MessageInfo01:
		result := fmt.Sprintf("  Pack: %.3f V, %.3f A\n", s.Pack.Voltage, s.Pack.Current)
		result += fmt.Sprintf("  Errors: %s\n", s.Pack.Errors)
		if s.Pack.Flags.ChargePlugDetected() {
			result += "  Charge plug detected\n"
		}
		if s.Pack.Flags.PassiveCurrentFlow() {
			result += "  Current flow in passive state\n"
		}
		if s.Pack.Flags.CANTimeout() {
			result += "  CAN timeout\n"
		}
		return result

	case MessageInfo02:
		return fmt.Sprintf("  State: %s (%d), SoC: %d%%, SoH: %.1f%%, Remaining: %d mAh, Full: %d mAh\n",
			s.Status.State, uint16(s.Status.State), s.Status.StateOfCharge, s.Status.StateOfHealth,
			s.Status.RemainingCapacity, s.Status.FullCapacity)

	case MessageInfo03:
		return "  Cells 1-8: " + formatCells(s.Cells.Lower[:], 1)

	case MessageInfo04:
		return "  Cells 9-14: " + formatCells(s.Cells.Upper[:], numLowerCells+1)

	case MessageInfo05:
		cells := s.Balancing.Cells()
		if len(cells) == 0 {
			return fmt.Sprintf("  Balancing: none (bits %08b %08b %08b)\n",
				s.Balancing.Bits[0], s.Balancing.Bits[1], s.Balancing.Bits[2])
		}
		return fmt.Sprintf("  Balancing cells: %v\n", cells)

	case MessageInfo06:
		t := s.Temperatures
		return fmt.Sprintf("  Powerstage: %d / %d, MCU: %d, Cells: %d / %d\n",
			t.Powerstage1, t.Powerstage2, t.MCU, t.Cell1, t.Cell2)
	}
	return ""
}

func formatCells(cells []uint8, first int) string {
	parts := make([]string, len(cells))
	for i, v := range cells {
		parts[i] = fmt.Sprintf("#%d=%d", first+i, v)
	}
	return strings.Join(parts, " ") + "\n"
}

// FormatState formats a full summary of the state
func FormatState(s *State) string {
	var b strings.Builder
	for m := MessageInfo01; m <= MessageInfo06; m++ {
		if s.Count(m) == 0 {
			fmt.Fprintf(&b, "%s: (not received)\n", m)
			continue
		}
		fmt.Fprintf(&b, "%s: (%d received)\n", m, s.Count(m))
		b.WriteString(FormatUpdate(s, m))
	}
	return b.String()
}

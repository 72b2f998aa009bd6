// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialcan

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UART speed used when none is configured
const DefaultBaudRate = 115200

// OpenSerial opens a serial port in 8N1 mode and wraps it in a Bus
func OpenSerial(portName string, baudRate int, opts ...Option) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return New(port, opts...), nil
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

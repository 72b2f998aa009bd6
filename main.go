// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// sbsmon - SBS battery management system CAN monitor
//
// A CLI tool for decoding, monitoring and controlling SBS BMS packs over
// CAN, and for bridging their telemetry to TCP clients and message brokers.

package main

import (
	"os"

	"github.com/Thermoquad/sbsmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

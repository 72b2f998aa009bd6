// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import "time"

// Snapshot is an immutable, serializable copy of a State. It is safe to hand
// to other goroutines and is the payload published by telemetry sinks.
type Snapshot struct {
	Battery   string    `json:"battery"`
	Timestamp time.Time `json:"timestamp"`

	PackVoltage float64  `json:"pack_voltage"`
	PackCurrent float64  `json:"pack_current"`
	ErrorActive bool     `json:"error_active"`
	Errors      []string `json:"errors"`
	ErrorBits   uint32   `json:"error_bits"`

	PassiveCurrentFlow bool `json:"passive_current_flow"`
	CANTimeout         bool `json:"can_timeout"`
	ChargePlugDetected bool `json:"charge_plug_detected"`

	State             string  `json:"state"`
	StateCode         uint16  `json:"state_code"`
	StateOfCharge     uint8   `json:"state_of_charge"`
	StateOfHealth     float64 `json:"state_of_health"`
	RemainingCapacity uint16  `json:"remaining_capacity_mah"`
	FullCapacity      uint16  `json:"full_capacity_mah"`

	CellVoltages   [NumCells]uint8 `json:"cell_voltages"`
	BalancingCells []int           `json:"balancing_cells"`
	BalancingBits  [3]uint8        `json:"balancing_bits"`

	TempPowerstage1 int16 `json:"temp_powerstage_1"`
	TempPowerstage2 int16 `json:"temp_powerstage_2"`
	TempMCU         int16 `json:"temp_mcu"`
	TempCell1       uint8 `json:"temp_cell_1"`
	TempCell2       uint8 `json:"temp_cell_2"`

	Counts [NumInfoMessages]uint64 `json:"counts"`
}

// Snapshot copies the current values into a Snapshot tagged with the
// battery name and timestamp
func (s *State) Snapshot(battery string, at time.Time) Snapshot {
	errs := s.Pack.Errors.Names()
	if errs == nil {
		errs = []string{}
	}
	balancing := s.Balancing.Cells()
	if balancing == nil {
		balancing = []int{}
	}
	return Snapshot{
		Battery:   battery,
		Timestamp: at,

		PackVoltage: s.Pack.Voltage,
		PackCurrent: s.Pack.Current,
		ErrorActive: s.ErrorActive(),
		Errors:      errs,
		ErrorBits:   uint32(s.Pack.Errors),

		PassiveCurrentFlow: s.Pack.Flags.PassiveCurrentFlow(),
		CANTimeout:         s.Pack.Flags.CANTimeout(),
		ChargePlugDetected: s.Pack.Flags.ChargePlugDetected(),

		State:             s.Status.State.String(),
		StateCode:         uint16(s.Status.State),
		StateOfCharge:     s.Status.StateOfCharge,
		StateOfHealth:     s.Status.StateOfHealth,
		RemainingCapacity: s.Status.RemainingCapacity,
		FullCapacity:      s.Status.FullCapacity,

		CellVoltages:   s.Cells.All(),
		BalancingCells: balancing,
		BalancingBits:  s.Balancing.Bits,

		TempPowerstage1: s.Temperatures.Powerstage1,
		TempPowerstage2: s.Temperatures.Powerstage2,
		TempMCU:         s.Temperatures.MCU,
		TempCell1:       s.Temperatures.Cell1,
		TempCell2:       s.Temperatures.Cell2,

		Counts: s.received,
	}
}

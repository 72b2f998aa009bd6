// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

// Pack holds the values of Info01
type Pack struct {
	Voltage float64 // V
	Current float64 // A
	Errors  ErrorFlags
	Flags   PackFlags // only updated when the frame carries byte 7
}

// Status holds the values of Info02
type Status struct {
	State             StateCode
	StateOfCharge     uint8   // %, 0-100
	StateOfHealth     float64 // %, 0.5 steps
	RemainingCapacity uint16  // mAh
	FullCapacity      uint16  // mAh, adapts on each full charge cycle
}

// Cells holds the raw cell voltage readings of Info03 (Lower) and Info04 (Upper).
// A cell might not be installed depending on the pack configuration.
type Cells struct {
	Lower [numLowerCells]uint8 // cells 1-8
	Upper [numUpperCells]uint8 // cells 9-14
}

// Voltage returns the raw reading of cell n (1-14)
func (c Cells) Voltage(n int) (uint8, bool) {
	switch {
	case n >= 1 && n <= numLowerCells:
		return c.Lower[n-1], true
	case n > numLowerCells && n <= NumCells:
		return c.Upper[n-numLowerCells-1], true
	}
	return 0, false
}

// All returns the readings of cells 1-14 in order
func (c Cells) All() [NumCells]uint8 {
	var all [NumCells]uint8
	copy(all[:], c.Lower[:])
	copy(all[numLowerCells:], c.Upper[:])
	return all
}

// Balancing holds the bit-coded balancing status of Info05. The three bytes
// belong to the three cell monitoring front-ends driving the 14 serial cells.
type Balancing struct {
	Bits [numBalanceBits]uint8
}

// balanceGroups maps each balancing byte to its first cell and cell count
var balanceGroups = [numBalanceBits]struct{ first, count int }{
	{1, 6},  // cells 1-6
	{7, 5},  // cells 7-11
	{12, 3}, // cells 12-14
}

// IsBalancing reports whether cell n (1-14) is being balanced
func (b Balancing) IsBalancing(n int) bool {
	for i, g := range balanceGroups {
		if n >= g.first && n < g.first+g.count {
			return b.Bits[i]&(1<<(n-g.first)) != 0
		}
	}
	return false
}

// Cells returns the numbers of all cells currently being balanced
func (b Balancing) Cells() []int {
	var cells []int
	for n := 1; n <= NumCells; n++ {
		if b.IsBalancing(n) {
			cells = append(cells, n)
		}
	}
	return cells
}

// Temperatures holds the values of Info06
type Temperatures struct {
	Powerstage1 int16
	Powerstage2 int16
	MCU         int16
	Cell1       uint8
	Cell2       uint8
}

// State accumulates the latest values reported by one BMS.
// Each record is only meaningful after its message was decoded once; check
// Count before trusting it. State is not safe for concurrent use.
type State struct {
	Pack         Pack
	Status       Status
	Cells        Cells
	Balancing    Balancing
	Temperatures Temperatures

	received [NumInfoMessages]uint64
}

// NewState returns an empty state
func NewState() *State {
	return &State{}
}

// Count returns how many times the given message was decoded
func (s *State) Count(m MessageType) uint64 {
	if !m.Valid() {
		return 0
	}
	return s.received[m-1]
}

// Counts returns the receive counters of all six messages
func (s *State) Counts() [NumInfoMessages]uint64 {
	return s.received
}

// ErrorActive reports whether at least one BMS error flag is set
func (s *State) ErrorActive() bool {
	return s.Pack.Errors.Any()
}

// StateName returns the name of the reported operating state
func (s *State) StateName() string {
	return s.Status.State.String()
}

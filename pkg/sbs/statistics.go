// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Statistics tracks frame counts and error rates of a decode session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames        uint64
	DecodedFrames      uint64
	UnrecognizedFrames uint64
	MalformedFrames    uint64
	TransportErrors    uint64
	PerMessage         [NumInfoMessages]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one Decode call
func (s *Statistics) Update(msg MessageType, decodeErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	switch {
	case decodeErr == nil && msg.Valid():
		s.DecodedFrames++
		s.PerMessage[msg-1]++
	case errors.Is(decodeErr, ErrUnrecognizedID):
		s.UnrecognizedFrames++
	default:
		s.MalformedFrames++
	}
}

// RecordTransportError counts a framing or read error reported by the transport
func (s *Statistics) RecordTransportError() {
	s.TransportErrors++
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.MalformedFrames+s.TransportErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d\n", s.TotalFrames)
	fmt.Fprintf(&b, "BMS Frames:      %8d (%.1f%%)\n", s.DecodedFrames, percent(s.DecodedFrames))
	for i, n := range s.PerMessage {
		if n > 0 {
			fmt.Fprintf(&b, "  %s:         %8d\n", MessageType(i+1), n)
		}
	}
	if s.UnrecognizedFrames > 0 {
		fmt.Fprintf(&b, "Other Traffic:   %8d (%.1f%%)\n", s.UnrecognizedFrames, percent(s.UnrecognizedFrames))
	}
	if s.MalformedFrames > 0 {
		fmt.Fprintf(&b, "Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
	}
	if s.TransportErrors > 0 {
		fmt.Fprintf(&b, "Transport Errs:  %8d\n", s.TransportErrors)
	}
	fmt.Fprintf(&b, "Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

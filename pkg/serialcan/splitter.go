// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialcan

import "time"

// DefaultFrameGap is the idle time after which a partial record is
// considered lost and discarded.
const DefaultFrameGap = 10 * time.Millisecond

// Splitter cuts a byte stream into fixed-size records.
//
// The serial link has no start marker or checksum, so the only way to
// resynchronise after a lost byte is timing: when more than gap elapses
// between two chunks while a record is incomplete, the partial record is
// dropped. A zero gap disables timing resync, which suits transports that
// preserve record boundaries (TCP bridge, WebSocket).
type Splitter struct {
	size      int
	gap       time.Duration
	buf       []byte
	last      time.Time
	discarded uint64
}

// NewSplitter creates a splitter for records of the given size
func NewSplitter(size int, gap time.Duration) *Splitter {
	return &Splitter{
		size: size,
		gap:  gap,
		buf:  make([]byte, 0, size*4),
	}
}

// Feed appends a chunk received at now and returns every completed record.
// Returned slices are copies and remain valid after the next call.
func (s *Splitter) Feed(p []byte, now time.Time) [][]byte {
	if len(p) == 0 {
		return nil
	}
	if s.gap > 0 && len(s.buf) > 0 && now.Sub(s.last) > s.gap {
		s.discarded++
		s.buf = s.buf[:0]
	}
	s.last = now
	s.buf = append(s.buf, p...)

	var records [][]byte
	n := 0
	for len(s.buf)-n >= s.size {
		rec := make([]byte, s.size)
		copy(rec, s.buf[n:n+s.size])
		records = append(records, rec)
		n += s.size
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
	return records
}

// Pending returns the number of buffered bytes of an incomplete record
func (s *Splitter) Pending() int {
	return len(s.buf)
}

// Discarded returns how many partial records were dropped by gap resync
func (s *Splitter) Discarded() uint64 {
	return s.discarded
}

// Reset drops any buffered partial record without counting it
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// FrameFilter decides whether a frame is of interest
type FrameFilter func(sbs.Frame) bool

// ByID matches frames with the exact standard identifier
func ByID(id uint32) FrameFilter {
	return func(f sbs.Frame) bool { return !f.Extended && f.ID == id }
}

// ByIDs matches any of the provided standard identifiers
func ByIDs(ids ...uint32) FrameFilter {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(f sbs.Frame) bool {
		if f.Extended {
			return false
		}
		_, ok := m[f.ID]
		return ok
	}
}

// BMSInfo matches the six informational messages broadcast by the BMS
func BMSInfo() FrameFilter {
	return ByIDs(sbs.InfoIDs[:]...)
}

// Or matches when either filter matches. A nil filter is ignored.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f sbs.Frame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(sbs.Frame) bool { return false }
	}
	return func(f sbs.Frame) bool { return !a(f) }
}

// Filtered wraps a Bus so that Receive skips frames the filter rejects.
// Send is passed through unchanged. A nil filter returns the bus as is.
func Filtered(inner Bus, filter FrameFilter) Bus {
	if filter == nil {
		return inner
	}
	return &filteredBus{inner: inner, filter: filter}
}

type filteredBus struct {
	inner  Bus
	filter FrameFilter
}

func (b *filteredBus) Send(ctx context.Context, frame sbs.Frame) error {
	return b.inner.Send(ctx, frame)
}

func (b *filteredBus) Receive(ctx context.Context) (sbs.Frame, error) {
	for {
		f, err := b.inner.Receive(ctx)
		if err != nil {
			return f, err
		}
		if b.filter(f) {
			return f, nil
		}
	}
}

func (b *filteredBus) Close() error {
	return b.inner.Close()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package socketcan

import (
	"context"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Bus is unavailable outside Linux
type Bus struct{}

var _ canbus.Bus = (*Bus)(nil)

// Open always fails on this platform
func Open(iface string) (*Bus, error) {
	return nil, ErrUnsupported
}

func (*Bus) Send(context.Context, sbs.Frame) error { return ErrUnsupported }
func (*Bus) Receive(context.Context) (sbs.Frame, error) { return sbs.Frame{}, ErrUnsupported }
func (*Bus) Close() error { return nil }
func (*Bus) Skipped() uint64 { return 0 }

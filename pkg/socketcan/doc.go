// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package socketcan exposes a Linux SocketCAN interface (for example can0
// behind a USB adapter) as a canbus.Bus.
package socketcan

import "errors"

// ErrUnsupported is returned by Open on platforms without SocketCAN
var ErrUnsupported = errors.New("socketcan: not supported on this platform")

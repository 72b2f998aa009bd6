// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package canbus defines the transport abstraction the monitor reads BMS
// frames from and writes control frames to, plus an in-memory loopback bus
// and frame filters.
package canbus

import (
	"context"
	"errors"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Bus sends and receives classical CAN frames.
// Implementations must be safe for one concurrent sender and one receiver.
type Bus interface {
	// Send transmits a frame. Context cancellation aborts the operation.
	Send(ctx context.Context, frame sbs.Frame) error

	// Receive blocks until a frame is available or the context is cancelled.
	Receive(ctx context.Context) (sbs.Frame, error)

	// Close releases resources. Further Send/Receive return ErrClosed.
	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("canbus: closed")

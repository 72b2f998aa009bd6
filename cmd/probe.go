// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/spf13/cobra"
)

var probeTimeout int

var errProbeTimeout = errors.New("no BMS frame received")

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the connection by waiting for a BMS frame",
	Long: `Wait for a valid SBS BMS frame on the connection until timeout.

Frames from other CAN devices and BMS frames too short to decode are
ignored.

Exit codes:
  0 - BMS frame received before timeout
  1 - Timeout reached without receiving a BMS frame
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("sbsmon - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for BMS frame...\n\n")

	f, msg, skipped, err := probe(ctx, bus, time.Duration(probeTimeout)*time.Second)
	switch {
	case err == nil:
		if skipped > 0 {
			fmt.Printf("(skipped %d other frames)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received BMS frame\n")
		fmt.Printf("  Message: %s (0x%03X)\n", msg, f.ID)
		fmt.Printf("  Length: %d bytes\n", f.Len)
		fmt.Printf("  Data: %s\n", f)
		bus.Close()
		os.Exit(0)

	case errors.Is(err, errProbeTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No BMS frame received within %d seconds\n", probeTimeout)
		bus.Close()
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
	bus.Close()
	os.Exit(2)
	return nil
}

// probe waits for the first frame that decodes as a BMS info message and
// reports how many other frames were skipped before it
func probe(ctx context.Context, bus canbus.Bus, timeout time.Duration) (sbs.Frame, sbs.MessageType, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := sbs.NewState()
	skipped := 0
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return sbs.Frame{}, sbs.MessageNone, skipped, errProbeTimeout
			}
			return sbs.Frame{}, sbs.MessageNone, skipped, err
		}
		msg, err := state.Decode(f)
		if err == nil {
			return f, msg, skipped, nil
		}
		skipped++
	}
}

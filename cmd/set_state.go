// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var setStateWait time.Duration

var errNoStatus = errors.New("no status message received")

var setStateCmd = &cobra.Command{
	Use:   "set-state <STATE>",
	Short: "Request a BMS operating state",
	Long: `Transmit one control frame (0x160) requesting the given state.

Valid states: ` + strings.Join(controlStateNames(), ", ") + `

Names are case-insensitive on the command line. With --wait the command
waits for the next status message and prints the state the BMS reports.`,
	Args: cobra.ExactArgs(1),
	RunE: runSetState,
}

func init() {
	rootCmd.AddCommand(setStateCmd)
	setStateCmd.Flags().DurationVarP(&setStateWait, "wait", "w", 0, "Wait this long for the BMS to report its state")
}

func controlStateNames() []string {
	states := sbs.ControlStates()
	names := make([]string, len(states))
	for i, cs := range states {
		names[i] = cs.String()
	}
	return names
}

// parseControlArg resolves a command line state name
func parseControlArg(arg string) (sbs.ControlState, error) {
	cs, ok := sbs.ParseControlState(strings.ToUpper(strings.TrimSpace(arg)))
	if !ok {
		return 0, fmt.Errorf("unknown state %q (valid: %s)", arg, strings.Join(controlStateNames(), ", "))
	}
	return cs, nil
}

func runSetState(cmd *cobra.Command, args []string) error {
	cs, err := parseControlArg(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Connection: %s\n", connInfo)

	frame, err := sendControl(ctx, bus, cs)
	if err != nil {
		return err
	}
	fmt.Printf("Sent %s: %s\n", cs, frame)

	if setStateWait <= 0 {
		return nil
	}
	reported, err := awaitStatus(ctx, bus, setStateWait)
	if err != nil {
		return err
	}
	fmt.Printf("BMS reports state %s (%d)\n", reported, uint16(reported))
	return nil
}

// sendControl encodes and transmits one control frame
func sendControl(ctx context.Context, bus canbus.Bus, cs sbs.ControlState) (sbs.Frame, error) {
	frame := sbs.EncodeControl(cs)
	if err := bus.Send(ctx, frame); err != nil {
		return frame, fmt.Errorf("failed to send %s: %w", cs, err)
	}
	logger.Info("Control frame sent", zap.Stringer("state", cs))
	return frame, nil
}

// awaitStatus returns the operating state of the next status message
func awaitStatus(ctx context.Context, bus canbus.Bus, timeout time.Duration) (sbs.StateCode, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := sbs.NewState()
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w within %s", errNoStatus, timeout)
			}
			return 0, err
		}
		if msg, err := state.Decode(f); err == nil && msg == sbs.MessageInfo02 {
			return state.Status.State, nil
		}
	}
}

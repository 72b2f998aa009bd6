// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	monitorShowAll bool
	monitorRaw     bool
	monitorStats   time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and display BMS frames as they arrive",
	Long: `Continuously decode and display SBS BMS frames as they arrive.

Each frame is printed with timestamp, message name and payload bytes,
followed by the values it updated. Frames from other CAN devices are
counted but only shown with --all. A statistics summary is printed every
--stats interval and on exit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVarP(&monitorShowAll, "all", "a", false, "Also show frames that are not BMS messages")
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Only print raw frames, no decoded values")
	monitorCmd.Flags().DurationVar(&monitorStats, "stats", 0, "Statistics interval, 0 disables (default from config)")
}

type monitorOptions struct {
	showAll       bool
	raw           bool
	statsInterval time.Duration
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer bus.Close()

	opts := monitorOptions{
		showAll:       monitorShowAll,
		raw:           monitorRaw,
		statsInterval: cfg.Monitor.StatsInterval,
	}
	if cmd.Flags().Changed("stats") {
		opts.statsInterval = monitorStats
	}

	fmt.Printf("sbsmon - BMS Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return monitor(ctx, bus, os.Stdout, opts)
}

// monitor prints every frame received from bus until the bus closes or ctx
// is cancelled, then prints the final statistics
func monitor(ctx context.Context, bus canbus.Bus, w io.Writer, opts monitorOptions) error {
	state := sbs.NewState()
	stats := sbs.NewStatistics()
	frames, errc := receiveFrames(ctx, bus)

	var tick <-chan time.Time
	if opts.statsInterval > 0 {
		ticker := time.NewTicker(opts.statsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			fmt.Fprint(w, "\n"+stats.String()+"\n")

		case f, ok := <-frames:
			if !ok {
				err := endOfStream(ctx, <-errc)
				if err == nil && ctx.Err() == nil {
					logger.Info("Connection closed")
				}
				fmt.Fprint(w, "\n"+stats.String())
				return err
			}
			printFrame(w, state, stats, f, time.Now(), opts)
		}
	}
}

func printFrame(w io.Writer, state *sbs.State, stats *sbs.Statistics, f sbs.Frame, at time.Time, opts monitorOptions) {
	msg, err := state.Decode(f)
	stats.Update(msg, err)

	switch {
	case err == nil:
		fmt.Fprint(w, sbs.FormatFrame(f, at))
		if !opts.raw {
			fmt.Fprint(w, sbs.FormatUpdate(state, msg))
		}

	case errors.Is(err, sbs.ErrUnrecognizedID):
		if opts.showAll {
			fmt.Fprint(w, sbs.FormatFrame(f, at))
		}

	default:
		fmt.Fprint(w, sbs.FormatFrame(f, at))
		fmt.Fprintf(w, "  [ERROR] %v\n", err)
		logger.Debug("Malformed frame", zap.Stringer("frame", f), zap.Error(err))
	}
}

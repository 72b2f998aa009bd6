// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/capture"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	recordOut      string
	recordCount    uint64
	recordDuration time.Duration
	recordBMSOnly  bool
)

const recordFlushInterval = time.Second

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture raw CAN frames to a file",
	Long: `Write every received CAN frame with its arrival time to a CBOR capture
file. The capture can be decoded later with the replay command.

Recording stops on Ctrl+C, after --count frames or after --duration.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Capture file to write")
	recordCmd.Flags().Uint64VarP(&recordCount, "count", "n", 0, "Stop after this many frames, 0 for no limit")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Stop after this long, 0 for no limit")
	recordCmd.Flags().BoolVar(&recordBMSOnly, "bms-only", false, "Only record BMS info and control frames")
	_ = recordCmd.MarkFlagRequired("out")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	if recordDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer bus.Close()
	if recordBMSOnly {
		bus = canbus.Filtered(bus, canbus.Or(canbus.BMSInfo(), canbus.ByID(sbs.IDControl)))
	}

	w, err := capture.Create(recordOut, connInfo)
	if err != nil {
		return err
	}

	fmt.Printf("sbsmon - Record\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Writing to %s, press Ctrl+C to stop\n\n", recordOut)

	recErr := record(ctx, bus, w, recordCount)
	if err := w.Close(); err != nil && recErr == nil {
		recErr = err
	}
	fmt.Printf("Recorded %d frames\n", w.Count())
	return recErr
}

// record writes received frames to w until limit frames were written (0 for
// no limit), the bus closes or ctx is done
func record(ctx context.Context, bus canbus.Bus, w *capture.Writer, limit uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, errc := receiveFrames(ctx, bus)
	flush := time.NewTicker(recordFlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-flush.C:
			if err := w.Flush(); err != nil {
				return err
			}

		case f, ok := <-frames:
			if !ok {
				return endOfStream(ctx, <-errc)
			}
			if err := w.Write(time.Now(), f); err != nil {
				return err
			}
			if limit > 0 && w.Count() >= limit {
				logger.Debug("Frame limit reached", zap.Uint64("frames", limit))
				return nil
			}
		}
	}
}

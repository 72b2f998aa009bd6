// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/sbsmon/pkg/capture"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	replayQuiet bool
	replayRaw   bool
	replayAll   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <FILE>",
	Short: "Decode a capture file offline",
	Long: `Feed the frames of a capture written by the record command through the
decoder, printing them like the monitor command does, followed by the final
battery state and statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "Only print the final state and statistics")
	replayCmd.Flags().BoolVar(&replayRaw, "raw", false, "Only print raw frames, no decoded values")
	replayCmd.Flags().BoolVarP(&replayAll, "all", "a", false, "Also show frames that are not BMS messages")
}

func runReplay(cmd *cobra.Command, args []string) error {
	r, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Debug("Replaying capture",
		zap.String("file", args[0]),
		zap.String("source", r.Header.Source),
		zap.Time("created", r.Header.Created))

	fmt.Printf("sbsmon - Replay\n")
	fmt.Printf("Capture: %s (recorded %s", args[0], r.Header.Created.Local().Format("2006-01-02 15:04:05"))
	if r.Header.Source != "" {
		fmt.Printf(" from %s", r.Header.Source)
	}
	fmt.Printf(")\n\n")

	out := io.Writer(os.Stdout)
	if replayQuiet {
		out = io.Discard
	}
	state, stats, err := replay(r, out, monitorOptions{showAll: replayAll, raw: replayRaw})
	fmt.Printf("\n%s\n%s", sbs.FormatState(state), stats)
	return err
}

// replay decodes every record of r, printing each frame to w
func replay(r *capture.Reader, w io.Writer, opts monitorOptions) (*sbs.State, *sbs.Statistics, error) {
	state := sbs.NewState()
	stats := sbs.NewStatistics()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return state, stats, nil
		}
		if err != nil {
			return state, stats, err
		}

		f, err := rec.Frame()
		if err != nil {
			stats.RecordTransportError()
			fmt.Fprintf(w, "[ERROR] %v\n", err)
			continue
		}
		printFrame(w, state, stats, f, rec.Time, opts)
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// batchInterval is how often received frames are handed to the TUI
const batchInterval = 50 * time.Millisecond

var dashboardStale time.Duration

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive battery dashboard",
	Long: `Interactive TUI showing the live battery state.

Displays pack voltage and current, operating state, state of charge and
health, cell voltages with balancing, temperatures, active error flags and
per-message counters. A message that has not been received within --stale
is highlighted.

Press 'c' to pick a control state to request from the BMS.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().DurationVar(&dashboardStale, "stale", 0, "Highlight messages older than this, 0 disables (default from config)")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer bus.Close()

	staleAfter := cfg.Monitor.StaleAfter
	if cmd.Flags().Changed("stale") {
		staleAfter = dashboardStale
	}

	send := func(cs sbs.ControlState) tea.Cmd {
		return func() tea.Msg {
			_, err := sendControl(ctx, bus, cs)
			return controlSentMsg{state: cs, err: err}
		}
	}

	m := initialDashboardModel(connInfo, cfg.Battery, staleAfter, send)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go streamFrames(ctx, bus, p.Send)

	_, err = p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// streamFrames receives frames from bus and delivers them to the TUI in
// batches, so a busy bus does not cause one redraw per frame
func streamFrames(ctx context.Context, bus canbus.Bus, send func(tea.Msg)) {
	frames, errc := receiveFrames(ctx, bus)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	var batch []timedFrame
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				if len(batch) > 0 {
					send(frameBatchMsg{frames: batch})
				}
				if ctx.Err() == nil {
					send(busClosedMsg{err: endOfStream(ctx, <-errc)})
				}
				return
			}
			batch = append(batch, timedFrame{frame: f, at: time.Now()})

		case <-ticker.C:
			if len(batch) > 0 {
				send(frameBatchMsg{frames: batch})
				batch = nil
			}
		}
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/Thermoquad/sbsmon/pkg/sink"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Publish battery snapshots to Kafka, RabbitMQ or Redis",
	Long: `Decode the BMS traffic and publish a snapshot of the battery state to the
sinks listed in sinks.enabled every sinks.interval.

Snapshots are only published once a BMS message was received, and only
when new messages arrived since the previous one. When the Redis sink is
enabled and sinks.redis.command_channel is set, control state names
published on that channel (e.g. "CHARGE") are sent to the BMS.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	sinks, err := sink.Open(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	defer sink.CloseAll(sinks, logger)

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer bus.Close()

	var commands <-chan string
	if ch := cfg.Sinks.Redis.CommandChannel; ch != "" {
		for _, s := range sinks {
			if r, ok := s.(*sink.Redis); ok {
				var stop func()
				commands, stop = r.Commands(ctx, ch)
				defer stop()
				logger.Info("Listening for control commands", zap.String("channel", ch))
			}
		}
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	fmt.Printf("sbsmon - Telemetry Bridge\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Battery: %s, sinks: %v, interval: %s\n", cfg.Battery, names, cfg.Sinks.Interval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	d := sink.NewDispatcher(sinks, cfg.Sinks.Workers, cfg.Sinks.Queue, logger)
	d.Start()
	err = publish(ctx, bus, d, cfg.Battery, cfg.Sinks.Interval, commands)
	d.Stop()

	stats := d.Stats()
	logger.Info("Telemetry bridge stopped",
		zap.Uint64("dispatched", stats.Dispatched),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("published", stats.Published),
		zap.Uint64("failed", stats.Failed))
	return err
}

// publish decodes frames from bus and hands a snapshot to d every interval
// in which new BMS messages arrived. Control state names received on
// commands are transmitted on the bus.
func publish(ctx context.Context, bus canbus.Bus, d *sink.Dispatcher, battery string, interval time.Duration, commands <-chan string) error {
	state := sbs.NewState()
	frames, errc := receiveFrames(ctx, bus)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastCounts [sbs.NumInfoMessages]uint64
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return endOfStream(ctx, <-errc)
			}
			if _, err := state.Decode(f); err != nil {
				logger.Debug("Frame not decoded", zap.Stringer("frame", f), zap.Error(err))
			}

		case now := <-ticker.C:
			counts := state.Counts()
			if counts == lastCounts {
				continue
			}
			lastCounts = counts
			d.Dispatch(state.Snapshot(battery, now))

		case name, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			cs, err := parseControlArg(name)
			if err != nil {
				logger.Warn("Ignoring control command", zap.String("command", name), zap.Error(err))
				continue
			}
			if _, err := sendControl(ctx, bus, cs); err != nil {
				logger.Error("Control command failed", zap.Error(err))
			}
		}
	}
}

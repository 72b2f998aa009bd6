// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/sbsmon/pkg/bridge"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost     string
	servePort     int
	serveReadOnly bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Share the CAN connection with TCP clients",
	Long: `Run a TCP frame bridge on top of the configured connection.

Every received frame is sent to all connected clients as a 12-byte serial
CAN record (4-byte big-endian identifier, 8 data bytes). Clients may send
14-byte transmit records; only BMS control frames are forwarded to the bus,
and none with --read-only.

Other sbsmon instances connect with --tcp host:port.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from config, 0.0.0.0)")
	serveCmd.Flags().IntVar(&servePort, "listen-port", 0, "Listen port (default from config, 7160)")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Reject control frames from clients")
}

func runServe(cmd *cobra.Command, args []string) error {
	bc := cfg.Bridge
	if cmd.Flags().Changed("host") {
		bc.Host = serveHost
	}
	if cmd.Flags().Changed("listen-port") {
		bc.Port = servePort
	}
	if serveReadOnly {
		bc.AllowControl = false
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	bus, connInfo, err := OpenBus(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("sbsmon - Frame Bridge\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Listening on %s (control %s)\n", bc.Addr(), enabledString(bc.AllowControl))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	srv := bridge.NewServer(bc.Addr(), bc.Multicore, bc.AllowControl, logger)
	err = srv.Serve(ctx, bus)

	stats := srv.Stats()
	logger.Info("Frame bridge stopped",
		zap.Uint64("broadcast", stats.Broadcast),
		zap.Uint64("forwarded", stats.Forwarded),
		zap.Uint64("rejected", stats.Rejected))
	return err
}

func enabledString(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/sbsmon/pkg/config"
	"github.com/Thermoquad/sbsmon/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// TCP frame bridge and SocketCAN
	tcpAddr  string
	canIface string

	batteryName string
	logLevel    string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sbsmon",
	Short: "SBS battery management system CAN monitor",
	Long: `sbsmon - A CLI tool for decoding, monitoring and controlling SBS battery
management systems over CAN.

Connection modes:
  Serial CAN module: --port /dev/ttyUSB0 [--baud 115200]
  WebSocket:         --url ws://host/path [--username user]
  TCP frame bridge:  --tcp host:7160
  SocketCAN:         --can-iface can0

Settings are read from sbsmon.yaml (or --config) and SBSMON_* environment
variables; flags given on the command line take precedence.

For WebSocket authentication, the password is read from the SBSMON_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./sbsmon.yaml or ~/.config/sbsmon/sbsmon.yaml)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the serial CAN module")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "Address of an sbsmon frame bridge (host:port)")
	rootCmd.PersistentFlags().StringVar(&canIface, "can-iface", "", "SocketCAN interface (Linux only)")

	rootCmd.PersistentFlags().StringVar(&batteryName, "battery", "", "Battery name used in published snapshots")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// setup loads the configuration, applies explicit flags on top of it and
// builds the logger shared by all subcommands
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	logger = logging.New(cfg.Log)
	if cfg.Source != "" {
		logger.Debug("Loaded config", zap.String("file", cfg.Source))
	}
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Connection.Port = portName
	}
	if flags.Changed("baud") {
		c.Connection.Baud = baudRate
	}
	if flags.Changed("url") {
		c.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		c.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("tcp") {
		c.Connection.TCP = tcpAddr
	}
	if flags.Changed("can-iface") {
		c.Connection.CANInterface = canIface
	}
	if flags.Changed("battery") {
		c.Battery = batteryName
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

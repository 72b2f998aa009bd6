// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/sbsmon/pkg/serialcan"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports a serial CAN module could be attached to",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialcan.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

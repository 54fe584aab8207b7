package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/messaged/internal/ipcserver"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon's subsystems in place",
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipcserver.Request{Type: ipcserver.CmdRestart})
	},
}

var restartPlatformCmd = &cobra.Command{
	Use:   "restart-platform <platform>",
	Short: "Stop and restart a single platform adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := args[0]
		if platform == "" {
			return fmt.Errorf("restart-platform requires a platform name")
		}
		return simpleCommand(ipcserver.Request{Type: ipcserver.CmdRestartPlatform, Platform: platform})
	},
}

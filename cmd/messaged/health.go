package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/messaged/internal/ipcserver"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the aggregate and per-platform health report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipcserver.Request{Type: ipcserver.CmdHealth})
	},
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/messaged/internal/ipcserver"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report daemon and per-platform status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipcserver.Request{Type: ipcserver.CmdStatus})
	},
}

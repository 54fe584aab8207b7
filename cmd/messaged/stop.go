package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/messaged/internal/ipcserver"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running messaging daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		sock, err := socketPath()
		if err != nil {
			return err
		}
		if !ipcserver.IsRunning(sock) {
			fmt.Println("daemon is not running")
			return nil
		}
		return simpleCommand(ipcserver.Request{Type: ipcserver.CmdStop})
	},
}

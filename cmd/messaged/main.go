// Command messaged is the unified messaging daemon: it supervises the
// configured platform adapters, normalizes their traffic into one store,
// and answers control commands over a local IPC socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rootDir    string
	jsonOutput bool
)

// version is stamped into the daemon lock file for diagnostics; overridden
// at build time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "messaged",
	Short: "Unified messaging daemon",
	Long: `messaged supervises a fleet of messaging-platform adapters (Signal,
WhatsApp, Discord, Telegram, Gmail), ingests their traffic into a single
content-addressed message store, and exposes status/health/control over a
local IPC socket.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "installation root (default: walk up for .messages, else $HOME)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")

	// Path overrides, bound into viper so a flag wins over MESSAGED_* env
	// which wins over messages.yaml; applyFlagOverrides reads these back
	// when commands resolve their configuration.
	rootCmd.PersistentFlags().String("socket", "", "IPC socket path (overrides config and MESSAGED_SOCKET_PATH)")
	rootCmd.PersistentFlags().String("db", "", "state database path (overrides config and MESSAGED_DB_PATH)")
	rootCmd.PersistentFlags().String("pid-file", "", "PID file path (overrides config and MESSAGED_PID_FILE)")
	rootCmd.PersistentFlags().String("log-file", "", "notification log path (overrides config and MESSAGED_LOG_FILE)")
	cobra.CheckErr(viper.BindPFlag("socket_path", rootCmd.PersistentFlags().Lookup("socket")))
	cobra.CheckErr(viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db")))
	cobra.CheckErr(viper.BindPFlag("pid_file", rootCmd.PersistentFlags().Lookup("pid-file")))
	cobra.CheckErr(viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file")))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(restartPlatformCmd)
	rootCmd.AddCommand(doctorCmd)
}

func initViper() {
	viper.SetEnvPrefix("MESSAGED")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

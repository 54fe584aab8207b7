package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/viper"

	"github.com/steveyegge/messaged/internal/config"
	"github.com/steveyegge/messaged/internal/ipcserver"
)

// applyFlagOverrides layers the viper-bound persistent flags over cfg.
// Precedence ends up flag > MESSAGED_* env > messages.yaml > defaults: the
// env tier is applied by config.LoadWithEnv, and viper only reports a
// non-empty value here when the flag (or its bound env key) was set.
func applyFlagOverrides(cfg *config.Config) {
	if v := viper.GetString("socket_path"); v != "" {
		cfg.SocketPath = v
	}
	if v := viper.GetString("db_path"); v != "" {
		cfg.DBPath = v
	}
	if v := viper.GetString("pid_file"); v != "" {
		cfg.PIDFile = v
	}
	if v := viper.GetString("log_file"); v != "" {
		cfg.LogFile = v
	}
}

// socketPath resolves the control socket path the same way buildDaemon
// does, without constructing the rest of the daemon (state store, event
// bus, adapters); every subcommand but "start" only needs this.
func socketPath() (string, error) {
	paths, err := resolvePaths()
	if err != nil {
		return "", fmt.Errorf("resolving paths: %w", err)
	}
	cfg, err := config.LoadWithEnv(paths.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg)
	if cfg.SocketPath != "" {
		return cfg.SocketPath, nil
	}
	return paths.SocketPath, nil
}

// dialDaemon connects to the running daemon's IPC socket, producing a
// clear error when none is listening.
func dialDaemon() (*ipcserver.Client, error) {
	sock, err := socketPath()
	if err != nil {
		return nil, err
	}
	if !ipcserver.IsRunning(sock) {
		return nil, fmt.Errorf("no daemon is running (socket %s not accepting connections)", sock)
	}
	return ipcserver.Dial(sock)
}

// printResult renders an IPC response's data either as pretty JSON
// (--json) or, for the plain string results most commands return, as a
// bare line of text.
func printResult(data interface{}) error {
	if jsonOutput {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

// simpleCommand dials the daemon, issues req, prints the result, and
// returns any error for cobra to report (and set a non-zero exit code).
func simpleCommand(req ipcserver.Request) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Execute(req)
	if err != nil {
		return err
	}
	return printResult(resp.Data)
}

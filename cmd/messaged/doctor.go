package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/messaged/internal/config"
	"github.com/steveyegge/messaged/internal/ipcserver"
	"github.com/steveyegge/messaged/internal/lockfile"
	"github.com/steveyegge/messaged/internal/statestore"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the daemon's installation: paths, config, lock files, and store",
	RunE:  runDoctor,
}

type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []doctorCheck
	ok := true
	add := func(name string, pass bool, detail string) {
		checks = append(checks, doctorCheck{Name: name, OK: pass, Detail: detail})
		if !pass {
			ok = false
		}
	}

	paths, err := resolvePaths()
	if err != nil {
		add("resolve-paths", false, err.Error())
		return printResult(struct {
			OK     bool          `json:"ok"`
			Checks []doctorCheck `json:"checks"`
		}{OK: false, Checks: checks})
	}
	add("resolve-paths", true, paths.Root)

	cfg, err := config.LoadWithEnv(paths.ConfigPath)
	if err != nil {
		add("load-config", false, err.Error())
	} else {
		add("load-config", true, fmt.Sprintf("%d platform(s) configured", len(cfg.Platforms)))
	}

	if cfg != nil {
		for _, p := range config.DefaultPlatformPriority {
			if cfg.IsPlatformEnabled(p) {
				add("platform:"+p, true, "enabled")
			}
		}
	}

	sock := paths.SocketPath
	if cfg != nil && cfg.SocketPath != "" {
		sock = cfg.SocketPath
	}
	if ipcserver.IsRunning(sock) {
		add("daemon-running", true, "socket "+sock+" is accepting connections")
	} else {
		add("daemon-running", false, "socket "+sock+" is not accepting connections")
	}

	if running, pid := lockfile.TryDaemonLock(paths.MessagesDir); running {
		add("daemon-lock", true, fmt.Sprintf("daemon.lock under %s held by pid %d", paths.MessagesDir, pid))
	} else {
		add("daemon-lock", true, "daemon.lock absent or stale (no live holder)")
	}

	pidFile := paths.PIDFile
	if cfg != nil && cfg.PIDFile != "" {
		pidFile = cfg.PIDFile
	}
	if data, err := os.ReadFile(pidFile); err == nil {
		add("pid-file", true, fmt.Sprintf("%s contains %q", pidFile, string(data)))
	} else if os.IsNotExist(err) {
		add("pid-file", true, pidFile+" absent (no prior run, or clean shutdown)")
	} else {
		add("pid-file", false, err.Error())
	}

	dbPath := paths.DBPath
	if cfg != nil && cfg.DBPath != "" {
		dbPath = cfg.DBPath
	}
	if store, err := statestore.Open(dbPath); err != nil {
		add("state-store", false, err.Error())
	} else {
		add("state-store", true, dbPath+" opens and migrates cleanly")
		_ = store.Close()
	}

	result := struct {
		OK     bool          `json:"ok"`
		Checks []doctorCheck `json:"checks"`
	}{OK: ok, Checks: checks}

	if !jsonOutput {
		for _, c := range checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("[%s] %-20s %s\n", mark, c.Name, c.Detail)
		}
		if !ok {
			return fmt.Errorf("one or more checks failed")
		}
		return nil
	}
	if err := printResult(result); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/messaged/internal/daemonrunner"
	"github.com/steveyegge/messaged/internal/ipcserver"
)

// foregroundEnv marks a process as the detached child spawned by --detach.
const foregroundEnv = "MESSAGED_FOREGROUND"

var detach bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the messaging daemon",
	Long: `start brings up every enabled platform adapter, the health monitor,
and the IPC control socket, then blocks until the daemon is asked to stop.

With --detach, start re-execs itself in its own session, redirects its
output to logging/daemon.log under the installation root, and returns
immediately; without it,
start runs in the foreground and blocks until shutdown.

If a daemon is already running (live PID file), start refuses and reports
the holding PID.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&detach, "detach", false, "daemonize: run in the background and return immediately")
}

func runStart(cmd *cobra.Command, args []string) error {
	if detach && os.Getenv(foregroundEnv) != "1" {
		return spawnDetached()
	}

	b, err := buildDaemon()
	if err != nil {
		return err
	}

	runner := &daemonRunnable{built: b}

	daemon := daemonrunner.New(daemonrunner.Config{
		Dir:         b.paths.MessagesDir,
		PIDFile:     b.cfg.PIDFile,
		DBPath:      b.cfg.DBPath,
		Version:     version,
		StopTimeout: 10 * time.Second,
	}, nil, runner)

	b.orch.SetDaemon(daemon)

	code := daemon.Run(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b.watch != nil {
		_ = b.watch.Close()
	}
	if b.obs != nil {
		_ = b.obs.Shutdown(shutdownCtx)
	}
	_ = b.store.Close()

	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// daemonRunnable adapts a built daemon (orchestrator + IPC server) to
// daemonrunner.Runnable: Start brings up the orchestrator then the IPC
// listener in the background; Stop tears both down in reverse order.
type daemonRunnable struct {
	built   *built
	ipc     *ipcserver.Server
	serveCh chan error
}

func (r *daemonRunnable) Start(ctx context.Context) error {
	if err := r.built.orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	r.ipc = ipcserver.New(r.built.cfg.SocketPath, r.built.orch, nil, 0)
	r.serveCh = make(chan error, 1)
	go func() {
		r.serveCh <- r.ipc.Serve()
	}()

	return nil
}

func (r *daemonRunnable) Stop(ctx context.Context) error {
	var firstErr error
	if r.ipc != nil {
		if err := r.ipc.Stop(); err != nil {
			firstErr = err
		}
		select {
		case <-r.serveCh:
		case <-time.After(2 * time.Second):
		}
	}
	if err := r.built.orch.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// spawnDetached re-execs the current binary with the same arguments, marked
// as the foreground child via foregroundEnv, detached into its own session
// so it outlives the launching shell. The parent process returns as soon as
// the child is either confirmed listening on its IPC socket or a short
// timeout elapses.
func spawnDetached() error {
	paths, err := resolvePaths()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}

	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	logFile, err := os.OpenFile(paths.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", paths.LogFile, err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, os.Args[1:]...) // #nosec G204 - re-execs our own binary with our own args
	cmd.Env = append(os.Environ(), foregroundEnv+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachSysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning detached daemon: %w", err)
	}

	sock, err := socketPath()
	if err == nil {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if ipcserver.IsRunning(sock) {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("messaged started in background (pid %d)\n", cmd.Process.Pid)
	return nil
}

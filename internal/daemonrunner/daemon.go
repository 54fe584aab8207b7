// Package daemonrunner implements the messaging daemon's process lifecycle:
// PID-file and flock-guarded single-instance enforcement, signal handling,
// and the blocking run loop that keeps the process alive until shutdown.
package daemonrunner

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Runnable is started once at daemon startup and stopped once at shutdown.
// Implementations (the orchestrator, in production) must make Stop safe to
// call even if Start never completed.
type Runnable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Config configures a Daemon's process-lifecycle files.
type Config struct {
	// Dir holds daemon.lock and daemon.pid.
	Dir string
	// PIDFile is the canonical PID file path (may live outside Dir).
	PIDFile string
	// DBPath is recorded in the lock file for diagnostics.
	DBPath string
	// Version is recorded in the lock file for diagnostics.
	Version string
	// StopTimeout bounds how long graceful shutdown waits for Runnable.Stop.
	StopTimeout time.Duration
}

// Daemon owns the process-lifecycle machinery around a Runnable: refusing to
// start when another instance is alive, signal handling, and keeping the
// process alive until shutdown is requested.
type Daemon struct {
	cfg      Config
	log      *log.Logger
	runnable Runnable
	lock     io.Closer

	shutdown chan struct{}
}

// New creates a Daemon. logger may be nil, in which case a default
// stdlib logger writing to stderr with a "daemonrunner: " prefix is used.
func New(cfg Config, logger *log.Logger, runnable Runnable) *Daemon {
	if logger == nil {
		logger = log.New(os.Stderr, "daemonrunner: ", log.LstdFlags)
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Daemon{
		cfg:      cfg,
		log:      logger,
		runnable: runnable,
		shutdown: make(chan struct{}),
	}
}

// Run performs the full daemon startup sequence: refuse to start if a live
// process already holds the PID file, clean a stale PID file otherwise,
// acquire the secondary flock lock, start the Runnable, install SIGTERM/
// SIGINT/SIGHUP handlers, and block until shutdown is signaled (by a signal
// or by ctx being canceled). Returns the process exit code the caller should
// use: 0 for a clean shutdown, 1 for a fatal startup or runtime error.
func (d *Daemon) Run(ctx context.Context) int {
	if err := d.checkAndClaimPIDFile(); err != nil {
		d.log.Printf("refusing to start: %v", err)
		return 1
	}
	defer d.removePIDFile()

	lock, err := d.setupLock()
	if err != nil {
		d.log.Printf("error acquiring daemon lock: %v", err)
		return 1
	}
	d.lock = lock
	defer func() { _ = d.lock.Close() }()

	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()

	if err := d.runnable.Start(startCtx); err != nil {
		d.log.Printf("fatal error during startup: %v", err)
		d.stopRunnable()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log.Printf("received signal %s, shutting down", sig)
	case <-ctx.Done():
		d.log.Printf("context canceled, shutting down: %v", ctx.Err())
	case <-d.shutdown:
		d.log.Printf("shutdown requested, shutting down")
	}

	d.stopRunnable()
	return 0
}

// Shutdown requests a graceful stop from outside the signal path (e.g. the
// IPC server's "stop" command).
func (d *Daemon) Shutdown() {
	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
}

func (d *Daemon) stopRunnable() {
	stopCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout)
	defer cancel()
	if err := d.runnable.Stop(stopCtx); err != nil {
		d.log.Printf("error during shutdown: %v", err)
	}
}

// checkAndClaimPIDFile refuses to start if the PID file names a live
// process (checked via signal 0, a liveness probe rather than a delivered
// signal), and otherwise removes any stale file and writes the current PID.
func (d *Daemon) checkAndClaimPIDFile() error {
	if d.cfg.PIDFile == "" {
		return nil
	}

	if data, err := os.ReadFile(d.cfg.PIDFile); err == nil { // #nosec G304 - controlled path from config
		var pid int
		if _, scanErr := fmt.Sscanf(string(data), "%d", &pid); scanErr == nil && pid > 0 {
			if isProcessAlive(pid) {
				return fmt.Errorf("daemon already running with pid %d (%s)", pid, d.cfg.PIDFile)
			}
			d.log.Printf("removing stale PID file for dead process %d", pid)
		}
	}

	return os.WriteFile(d.cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600)
}

func (d *Daemon) removePIDFile() {
	if d.cfg.PIDFile == "" {
		return
	}
	if err := os.Remove(d.cfg.PIDFile); err != nil && !os.IsNotExist(err) {
		d.log.Printf("error removing PID file: %v", err)
	}
}

// isProcessAlive reports whether pid names a live process, using signal 0
// (syscall.Kill(pid, 0)): delivering no actual signal, only checking whether
// the kernel would permit one.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

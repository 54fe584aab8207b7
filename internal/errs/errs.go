// Package errs defines the sentinel error kinds shared across the daemon.
// Components wrap one of these with context via fmt.Errorf("%s: %w", op, err)
// and callers discriminate with errors.Is / errors.As, rather than bespoke
// per-package error type hierarchies.
package errs

import "errors"

var (
	// ErrConfig marks a missing or invalid configuration value.
	ErrConfig = errors.New("config error")

	// ErrAuth marks a platform rejecting credentials. Non-retryable.
	ErrAuth = errors.New("auth error")

	// ErrTransientNetwork marks a timeout or disconnect an adapter should
	// retry locally before surfacing as disconnected.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrProtocol marks an unparsable payload received from a platform.
	ErrProtocol = errors.New("protocol error")

	// ErrStorage marks a store write that could not be durably committed.
	// The caller must not advance any watermark or mark work complete.
	ErrStorage = errors.New("storage error")

	// ErrNormalization marks a message whose referenced account or thread
	// could not be materialized.
	ErrNormalization = errors.New("normalization error")

	// ErrIPC marks a malformed IPC frame. Scoped to the offending
	// connection only.
	ErrIPC = errors.New("ipc error")

	// ErrFatal marks an unrecoverable invariant violation; the process
	// should attempt a graceful stop and exit 1.
	ErrFatal = errors.New("fatal error")
)

// Package adapter defines the uniform lifecycle and event contract every
// platform client implements, and the tagged payload/event unions that
// carry platform-shaped data across that boundary.
package adapter

import "context"

// Adapter is the lifecycle contract the platform manager drives. Start and
// Stop are each idempotent from the manager's point of view: Stop must not
// panic if called before Start completes or after a prior Stop.
type Adapter interface {
	// Platform is this adapter's stable identifier, e.g. "signal".
	Platform() string

	// IsAuthenticated reports whether stored credentials are present and
	// not known-expired, without making a network call where avoidable.
	IsAuthenticated(ctx context.Context) (bool, error)

	// Start begins connecting. It returns once the adapter has either
	// emitted EventConnected on its Events channel or failed terminally;
	// it does not block for the adapter's full lifetime.
	Start(ctx context.Context) error

	// Stop disconnects and releases resources. Safe to call multiple
	// times and safe to call if Start never completed.
	Stop(ctx context.Context) error

	// IsConnected reports the adapter's last known connection state.
	IsConnected() bool

	// Stats returns a snapshot of this adapter's counters.
	Stats() Stats

	// Events is the channel the platform manager drains exclusively.
	// Closed only after Stop has fully released resources.
	Events() <-chan Event
}

// Stats is a point-in-time snapshot of adapter-local counters, distinct
// from the durably persisted model.PlatformState the manager maintains.
type Stats struct {
	MessagesReceived  int64
	ReconnectAttempts int64
	LastActivityMs    int64
}

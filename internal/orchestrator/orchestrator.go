// Package orchestrator is the daemon's top-level supervisor: it wires the
// state store, normalizer, platform manager, health monitor, notification
// dispatcher, and IPC server together and routes events between them.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
	"github.com/steveyegge/messaged/internal/eventbus"
	"github.com/steveyegge/messaged/internal/healthmonitor"
	"github.com/steveyegge/messaged/internal/model"
	"github.com/steveyegge/messaged/internal/normalizer"
	"github.com/steveyegge/messaged/internal/notification"
	"github.com/steveyegge/messaged/internal/platformmanager"
	"github.com/steveyegge/messaged/internal/statestore"
	"github.com/steveyegge/messaged/internal/syncstate"
)

// store is the subset of *statestore.Store the orchestrator calls directly.
type store interface {
	RecordStart() error
	RecordShutdown(clean bool) error
	LoadAllPlatformStates() (map[string]model.PlatformState, error)
}

// Orchestrator satisfies daemonrunner.Runnable and ipcserver.Handler.
type Orchestrator struct {
	store      store
	bus        *eventbus.Bus
	platforms  *platformmanager.Manager
	health     *healthmonitor.Monitor
	notify     *notification.Dispatcher
	normalizer *normalizer.Normalizer
	sync       *syncstate.Manager
	log        *log.Logger

	mu            sync.RWMutex
	status        model.DaemonStatus
	startedAt     time.Time
	pid           int
	daemon        shutdowner
	authenticated []string
}

// Config carries everything the orchestrator's dependencies already need
// constructed by the caller (the daemon entrypoint).
type Config struct {
	Store      *statestore.Store
	Bus        *eventbus.Bus
	Platforms  *platformmanager.Manager
	Health     *healthmonitor.Monitor
	Notify     *notification.Dispatcher
	Normalizer *normalizer.Normalizer
	Sync       *syncstate.Manager
	Logger     *log.Logger
}

// New wires the orchestrator's dependencies and registers its event-bus
// handlers. Dependencies must already be fully constructed; New performs no
// I/O beyond Register calls against the bus.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "messaged/orchestrator: ", log.LstdFlags)
	}
	o := &Orchestrator{
		store:      cfg.Store,
		bus:        cfg.Bus,
		platforms:  cfg.Platforms,
		health:     cfg.Health,
		notify:     cfg.Notify,
		normalizer: cfg.Normalizer,
		sync:       cfg.Sync,
		log:        logger,
		status:     model.DaemonStopped,
		pid:        os.Getpid(),
	}
	o.bus.Register(o)
	return o
}

// Event-bus Handler implementation: the orchestrator is its own router.

// ID identifies this handler on the bus.
func (o *Orchestrator) ID() string { return "orchestrator" }

// Handles lists every event type the orchestrator routes.
func (o *Orchestrator) Handles() []eventbus.EventType {
	return []eventbus.EventType{
		eventbus.EventPlatformConnected,
		eventbus.EventPlatformDisconnected,
		eventbus.EventPlatformError,
		eventbus.EventPlatformFailed,
		eventbus.EventHealthRecovered,
		eventbus.EventHealthUnhealthy,
	}
}

// Priority places the orchestrator after any platform-local handlers.
func (o *Orchestrator) Priority() int { return 100 }

// Handle routes one event: notify, recompute aggregate status.
func (o *Orchestrator) Handle(ctx context.Context, ev *eventbus.Event, _ *eventbus.Result) error {
	switch ev.Type {
	case eventbus.EventPlatformConnected:
		o.notify.Info("platform connected", ev.Platform+" connected", ev.Platform)
	case eventbus.EventPlatformDisconnected:
		o.notify.Warning("platform disconnected", ev.Message, ev.Platform)
	case eventbus.EventPlatformError:
		o.notify.Warning("platform error", ev.Err, ev.Platform)
	case eventbus.EventPlatformFailed:
		o.notify.Error("platform failed", ev.Message, ev.Platform)
	case eventbus.EventHealthRecovered:
		o.notify.Info("platform recovered", ev.Platform+" is healthy again", ev.Platform)
	case eventbus.EventHealthUnhealthy:
		o.notify.Warning("platform unhealthy", ev.Platform+" failed its health check", ev.Platform)
	}
	o.recomputeStatus()
	return nil
}

// Start implements daemonrunner.Runnable: records lifecycle start,
// discovers which registered platforms hold credentials, starts that
// subset, starts the health monitor, and computes the initial aggregate
// status. An enabled-but-unauthenticated platform is never started and
// never counts toward the healthy/total summary.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.store.RecordStart(); err != nil {
		return fmt.Errorf("orchestrator: recording start: %w", err)
	}

	authed := o.platforms.DiscoverAuthenticated(ctx)

	o.mu.Lock()
	o.startedAt = time.Now()
	o.status = model.DaemonStarting
	o.authenticated = authed
	o.mu.Unlock()

	if len(authed) > 0 {
		if err := o.platforms.StartPlatforms(ctx, authed); err != nil {
			o.log.Printf("one or more platforms failed to start: %v", err)
		}
	}

	o.health.Start(ctx)
	o.recomputeStatus()
	return nil
}

// Stop implements daemonrunner.Runnable: stops the health monitor, stops
// every platform adapter in reverse priority order, records a clean
// shutdown, and notifies.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.status = model.DaemonStopping
	o.mu.Unlock()

	o.health.Stop()

	if err := o.platforms.StopAll(ctx); err != nil {
		o.log.Printf("error stopping platforms: %v", err)
	}

	if err := o.store.RecordShutdown(true); err != nil {
		o.log.Printf("error recording shutdown: %v", err)
	}

	o.notify.Info("daemon stopped", "messaged shut down cleanly", "")

	o.mu.Lock()
	o.status = model.DaemonStopped
	o.mu.Unlock()
	return nil
}

// authenticatedStates returns the per-platform state rows restricted to the
// authenticated set, with a stopped placeholder for an authenticated
// platform that has no state row yet, plus the connected count.
func (o *Orchestrator) authenticatedStates() (map[string]model.PlatformState, int, error) {
	states, err := o.store.LoadAllPlatformStates()
	if err != nil {
		return nil, 0, err
	}

	o.mu.RLock()
	authed := append([]string(nil), o.authenticated...)
	o.mu.RUnlock()

	out := make(map[string]model.PlatformState, len(authed))
	healthy := 0
	for _, platform := range authed {
		st, ok := states[platform]
		if !ok {
			st = model.PlatformState{Platform: platform, Status: model.PlatformStopped}
		}
		out[platform] = st
		if st.Status == model.PlatformConnected {
			healthy++
		}
	}
	return out, healthy, nil
}

// recomputeStatus derives the aggregate DaemonStatus from the authenticated
// platforms' states: running iff all healthy, degraded iff any healthy,
// stopped iff none authenticated.
func (o *Orchestrator) recomputeStatus() {
	states, healthy, err := o.authenticatedStates()
	if err != nil {
		o.log.Printf("recomputing status: %v", err)
		return
	}

	var next model.DaemonStatus
	switch {
	case len(states) == 0:
		next = model.DaemonStopped
	case healthy == len(states):
		next = model.DaemonRunning
	default:
		next = model.DaemonDegraded
	}

	o.mu.Lock()
	if o.status != model.DaemonStopping && o.status != model.DaemonStopped {
		o.status = next
	}
	o.mu.Unlock()
}

// OnPlatformMessage is the platformmanager.MessageHandler wired at
// construction by the daemon entrypoint: it delegates to the normalizer and,
// only on success, advances the per-thread sync watermark. A failed ingest
// (including a storage write that could not commit) leaves the watermark
// untouched, so the same payload is reprocessed after the next reconnect and
// deduplicated by its content-address.
func (o *Orchestrator) OnPlatformMessage(platform string, payload adapter.Payload) {
	res, err := o.normalizer.Normalize(payload)
	if err != nil {
		o.log.Printf("normalizing %s message: %v", platform, err)
		return
	}
	o.advanceWatermark(res.Message)
}

func (o *Orchestrator) advanceWatermark(msg model.Message) {
	if o.sync == nil {
		return
	}
	key := syncstate.Key{Platform: msg.Source.Platform, Source: "ingest", Scope: msg.Refs.ThreadID}
	candidate := model.Watermark{
		Kind:        model.WatermarkMessageID,
		MessageID:   msg.ID,
		MessageTsMs: msg.CreatedAt,
	}
	if _, err := o.sync.AdvanceIfNewer(key, candidate, "", func(current model.Watermark) bool {
		return current.AfterMessageID(msg.ID, msg.CreatedAt)
	}); err != nil {
		o.log.Printf("advancing watermark for %s: %v", key, err)
	}
}

// State returns a point-in-time DaemonState snapshot for the "status" IPC
// command. The platform map and healthy/total summary cover only the
// authenticated set discovered at Start.
func (o *Orchestrator) State() (model.DaemonState, error) {
	states, healthy, err := o.authenticatedStates()
	if err != nil {
		return model.DaemonState{}, fmt.Errorf("orchestrator: loading platform states: %w", err)
	}

	o.mu.RLock()
	status := o.status
	startedAt := o.startedAt
	pid := o.pid
	o.mu.RUnlock()

	return model.DaemonState{
		Status:    status,
		PID:       pid,
		StartedAt: startedAt,
		Platforms: states,
		Healthy:   healthy,
		Total:     len(states),
	}, nil
}

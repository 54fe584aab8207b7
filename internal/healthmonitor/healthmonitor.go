// Package healthmonitor ticks on a fixed interval, computes per-platform and
// aggregate health from the platform manager's durable state, and emits
// health:unhealthy / health:recovered transitions onto the event bus.
package healthmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/steveyegge/messaged/internal/eventbus"
	"github.com/steveyegge/messaged/internal/model"
)

// Adapter is the subset of adapter.Adapter the monitor needs to read
// connection state without importing the platform manager.
type Adapter interface {
	IsConnected() bool
}

// store is the subset of statestore this package reads.
type store interface {
	LoadAllPlatformStates() (map[string]model.PlatformState, error)
}

// Config tunes the monitor's thresholds, mirroring config.Config's
// health-check fields.
type Config struct {
	CheckInterval            time.Duration
	StaleThreshold           time.Duration
	ErrorWindow              time.Duration
	MaxErrorsBeforeUnhealthy int
}

// PlatformCheck is the per-platform result of one health tick.
type PlatformCheck struct {
	Platform     string
	Connected    bool
	LastActivity time.Time
	Stale        bool
	RecentErrors int
	Unhealthy    bool
}

// Report is the aggregate result of one health tick, returned by Check and
// by the "health" IPC command.
type Report struct {
	Overall   string // "healthy" | "degraded" | "unhealthy"
	Platforms map[string]PlatformCheck
}

// Monitor ticks every cfg.CheckInterval, recomputing health for every
// adapter registered via Register and dispatching health:unhealthy /
// health:recovered transitions.
type Monitor struct {
	bus   *eventbus.Bus
	store store
	cfg   Config

	mu        sync.Mutex
	adapters  map[string]Adapter
	unhealthy map[string]bool

	// lastErrorCount and errorWindowSet track, per platform, the last
	// observed error count and when it started accumulating, approximating error_window_ms without a
	// second table: it is reset whenever LoadAllPlatformStates reports a
	// lower error_count than last observed (state was reset/platform
	// restarted cleanly).
	lastErrorCount map[string]int
	errorWindowSet map[string]time.Time

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Monitor. store may be nil in tests that only exercise
// Check directly against injected PlatformState values.
func New(bus *eventbus.Bus, s store, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = 5 * time.Minute
	}
	if cfg.MaxErrorsBeforeUnhealthy <= 0 {
		cfg.MaxErrorsBeforeUnhealthy = 3
	}
	return &Monitor{
		bus:            bus,
		store:          s,
		cfg:            cfg,
		adapters:       map[string]Adapter{},
		unhealthy:      map[string]bool{},
		lastErrorCount: map[string]int{},
		errorWindowSet: map[string]time.Time{},
	}
}

// Register associates a platform name with the adapter whose IsConnected
// feeds the health check. Safe to call before or after Start.
func (m *Monitor) Register(platform string, a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[platform] = a
}

// Start launches the ticking goroutine. It returns immediately; Stop blocks
// until the goroutine has exited.
func (m *Monitor) Start(ctx context.Context) {
	m.ticker = time.NewTicker(m.cfg.CheckInterval)
	m.done = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ticker.C:
				m.tick(ctx)
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the ticking goroutine.
func (m *Monitor) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.done != nil {
		select {
		case <-m.done:
		default:
			close(m.done)
		}
	}
	m.wg.Wait()
}

func (m *Monitor) tick(ctx context.Context) {
	report, err := m.Check()
	if err != nil {
		return
	}
	for platform, check := range report.Platforms {
		m.mu.Lock()
		was := m.unhealthy[platform]
		m.unhealthy[platform] = check.Unhealthy
		m.mu.Unlock()

		if check.Unhealthy && !was {
			m.dispatch(ctx, eventbus.EventHealthUnhealthy, platform)
		} else if !check.Unhealthy && was {
			m.dispatch(ctx, eventbus.EventHealthRecovered, platform)
		}
	}
}

// Check computes a fresh Report without waiting for the next tick; used
// directly by the "health" IPC command.
func (m *Monitor) Check() (Report, error) {
	states, err := m.store.LoadAllPlatformStates()
	if err != nil {
		return Report{}, err
	}

	m.mu.Lock()
	adapters := make(map[string]Adapter, len(m.adapters))
	for k, v := range m.adapters {
		adapters[k] = v
	}
	m.mu.Unlock()

	platforms := make(map[string]PlatformCheck, len(states))
	healthy := 0
	for name, st := range states {
		check := m.checkOne(name, st, adapters[name])
		platforms[name] = check
		if !check.Unhealthy {
			healthy++
		}
	}

	overall := "healthy"
	switch {
	case len(platforms) == 0:
		overall = "healthy"
	case healthy == 0:
		overall = "unhealthy"
	case healthy < len(platforms):
		overall = "degraded"
	}

	return Report{Overall: overall, Platforms: platforms}, nil
}

func (m *Monitor) checkOne(platform string, st model.PlatformState, a Adapter) PlatformCheck {
	connected := st.Status == model.PlatformConnected
	if a != nil {
		connected = a.IsConnected()
	}

	var lastActivity time.Time
	if st.LastMessage != nil && st.LastMessage.After(lastActivity) {
		lastActivity = *st.LastMessage
	}
	if st.LastConnected != nil && st.LastConnected.After(lastActivity) {
		lastActivity = *st.LastConnected
	}

	stale := !lastActivity.IsZero() && time.Since(lastActivity) > m.cfg.StaleThreshold

	m.mu.Lock()
	prevCount := m.lastErrorCount[platform]
	if st.ErrorCount < prevCount {
		delete(m.errorWindowSet, platform)
	}
	if st.ErrorCount > 0 {
		if _, ok := m.errorWindowSet[platform]; !ok {
			m.errorWindowSet[platform] = time.Now()
		}
	} else {
		delete(m.errorWindowSet, platform)
	}
	m.lastErrorCount[platform] = st.ErrorCount
	windowStart, haveWindow := m.errorWindowSet[platform]
	m.mu.Unlock()

	recentErrors := st.ErrorCount
	if haveWindow && time.Since(windowStart) > m.cfg.ErrorWindow {
		recentErrors = 0
	}

	unhealthy := recentErrors >= m.cfg.MaxErrorsBeforeUnhealthy || !connected || stale

	return PlatformCheck{
		Platform:     platform,
		Connected:    connected,
		LastActivity: lastActivity,
		Stale:        stale,
		RecentErrors: recentErrors,
		Unhealthy:    unhealthy,
	}
}

func (m *Monitor) dispatch(ctx context.Context, evType eventbus.EventType, platform string) {
	if m.bus == nil {
		return
	}
	_, _ = m.bus.Dispatch(ctx, &eventbus.Event{Type: evType, Platform: platform})
}

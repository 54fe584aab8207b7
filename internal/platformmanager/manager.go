// Package platformmanager starts, stops, and supervises platform adapters:
// priority-ordered startup/shutdown, per-platform state, and isolated
// reconnect backoff so one platform's failures never affect another's.
package platformmanager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/messaged/internal/adapter"
	"github.com/steveyegge/messaged/internal/eventbus"
	"github.com/steveyegge/messaged/internal/model"
	"github.com/steveyegge/messaged/internal/statestore"
)

// stateStore is the subset of statestore the manager persists through.
// *statestore.Store satisfies this directly.
type stateStore interface {
	SavePlatformState(platform string, patch statestore.PlatformStatePatch) error
}

// PlatformStatePatch is an alias so call sites in this package read
// naturally without importing statestore themselves.
type PlatformStatePatch = statestore.PlatformStatePatch

// MessageHandler is invoked for every adapter.EventMessage event, typically
// wired to a normalizer.
type MessageHandler func(platform string, payload adapter.Payload)

// Manager owns every registered adapter, its current state, and its
// recovery timer, all behind a single mutex. Status transitions for a
// platform are serialized; readers elsewhere tolerate stale reads.
type Manager struct {
	mu             sync.Mutex
	adapters       map[string]adapter.Adapter
	backoffs       map[string]*ScheduleBackOff
	recoveryTimers map[string]*time.Timer
	stopped        map[string]bool

	bus         *eventbus.Bus
	store       stateStore
	onMessage   MessageHandler
	scheduleMs  []int64
	maxAttempts int
	priority    []string
}

// Config configures a new Manager.
type Config struct {
	Priority          []string
	BackoffScheduleMs []int64
	MaxAttempts       int
}

// New constructs a Manager. store may be nil in tests that don't care about
// persisted state.
func New(bus *eventbus.Bus, store stateStore, onMessage MessageHandler, cfg Config) *Manager {
	return &Manager{
		adapters:       map[string]adapter.Adapter{},
		backoffs:       map[string]*ScheduleBackOff{},
		recoveryTimers: map[string]*time.Timer{},
		stopped:        map[string]bool{},
		bus:            bus,
		store:          store,
		onMessage:      onMessage,
		scheduleMs:     cfg.BackoffScheduleMs,
		maxAttempts:    cfg.MaxAttempts,
		priority:       cfg.Priority,
	}
}

// Register adds a adapter under platform, replacing any prior registration.
func (m *Manager) Register(platform string, a adapter.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[platform] = a
	m.backoffs[platform] = NewScheduleBackOff(m.scheduleMs, m.maxAttempts)
	m.stopped[platform] = false
}

// orderedPlatforms returns registered platform names in priority order,
// with any platform absent from the priority list appended afterward.
func (m *Manager) orderedPlatforms() []string {
	seen := make(map[string]bool, len(m.adapters))
	var out []string
	for _, p := range m.priority {
		if _, ok := m.adapters[p]; ok {
			out = append(out, p)
			seen[p] = true
		}
	}
	for p := range m.adapters {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out
}

// DiscoverAuthenticated returns the registered platforms whose adapters
// report stored credentials, in priority order. An adapter whose check
// errors is treated as unauthenticated and logged, never started.
func (m *Manager) DiscoverAuthenticated(ctx context.Context) []string {
	m.mu.Lock()
	order := m.orderedPlatforms()
	adapters := make(map[string]adapter.Adapter, len(m.adapters))
	for k, v := range m.adapters {
		adapters[k] = v
	}
	m.mu.Unlock()

	var authed []string
	for _, platform := range order {
		ok, err := adapters[platform].IsAuthenticated(ctx)
		if err != nil {
			log.Printf("platformmanager: %s authentication check: %v", platform, err)
			continue
		}
		if ok {
			authed = append(authed, platform)
		}
	}
	return authed
}

// StartAll starts every registered adapter, launching one goroutine per
// adapter in priority order. The starts run concurrently: an adapter does
// not wait for higher-priority ones, and the order in which they connect is
// not defined. Each adapter's start error is logged rather than aborting
// the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	order := m.orderedPlatforms()
	m.mu.Unlock()
	return m.StartPlatforms(ctx, order)
}

// StartPlatforms starts only the named platforms, launching one goroutine
// each in the given order; the starts run concurrently. Used by the
// orchestrator to start the authenticated subset.
func (m *Manager) StartPlatforms(ctx context.Context, platforms []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, platform := range platforms {
		platform := platform
		g.Go(func() error {
			if err := m.startOne(gctx, platform); err != nil {
				log.Printf("platformmanager: %s failed to start: %v", platform, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every registered adapter in reverse priority order.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	order := m.orderedPlatforms()
	for _, t := range m.recoveryTimers {
		t.Stop()
	}
	for p := range m.stopped {
		m.stopped[p] = true
	}
	m.mu.Unlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		platform := order[i]
		m.mu.Lock()
		a := m.adapters[platform]
		m.mu.Unlock()
		if a == nil {
			continue
		}
		if err := a.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping %s: %w", platform, err)
		}
	}
	return firstErr
}

// RestartPlatform stops and restarts a single registered platform,
// cancelling any pending recovery timer first. Returns an error naming the
// platform if it was never registered.
func (m *Manager) RestartPlatform(ctx context.Context, platform string) error {
	m.mu.Lock()
	a, ok := m.adapters[platform]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("platformmanager: unknown platform %q", platform)
	}
	if t, ok := m.recoveryTimers[platform]; ok {
		t.Stop()
		delete(m.recoveryTimers, platform)
	}
	m.stopped[platform] = false
	m.mu.Unlock()

	if err := a.Stop(ctx); err != nil {
		log.Printf("platformmanager: %s stop during restart: %v", platform, err)
	}
	m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformStopped)})

	return m.startOne(ctx, platform)
}

func (m *Manager) startOne(ctx context.Context, platform string) error {
	m.mu.Lock()
	a := m.adapters[platform]
	m.mu.Unlock()
	if a == nil {
		return fmt.Errorf("platformmanager: unknown platform %q", platform)
	}

	m.dispatch(ctx, eventbus.EventPlatformStarting, platform, "", nil)
	m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformStarting)})

	go m.drain(platform, a)

	if err := a.Start(ctx); err != nil {
		m.handleDisconnect(ctx, platform, err)
		return err
	}
	return nil
}

// drain forwards one adapter's Events channel onto the bus for the
// lifetime of the adapter, exclusively; no other goroutine reads this
// channel, satisfying "not lost, issue order per subscriber".
func (m *Manager) drain(platform string, a adapter.Adapter) {
	for ev := range a.Events() {
		switch ev.Kind {
		case adapter.EventConnected:
			m.handleConnected(platform)
		case adapter.EventDisconnected:
			m.handleDisconnect(context.Background(), platform, fmt.Errorf("%s", ev.Reason))
		case adapter.EventError:
			m.handleError(platform, ev.Err)
		case adapter.EventMessage:
			m.handleMessage(platform, ev.Payload)
		}
	}
}

func (m *Manager) handleConnected(platform string) {
	m.mu.Lock()
	if bo, ok := m.backoffs[platform]; ok {
		bo.Reset()
	}
	if t, ok := m.recoveryTimers[platform]; ok {
		t.Stop()
		delete(m.recoveryTimers, platform)
	}
	m.mu.Unlock()

	now := time.Now()
	m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformConnected), LastConnected: &now})
	m.dispatch(context.Background(), eventbus.EventPlatformConnected, platform, "", nil)
}

func (m *Manager) handleMessage(platform string, p adapter.Payload) {
	now := time.Now()
	m.savePatch(platform, PlatformStatePatch{LastMessage: &now, IncrementMessageCount: 1})
	m.dispatch(context.Background(), eventbus.EventPlatformMessage, platform, "", nil)
	if m.onMessage != nil {
		m.onMessage(platform, p)
	}
}

func (m *Manager) handleError(platform string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	errPtr := &msg
	m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformError), LastError: errPtr, IncrementErrorCount: 1})
	m.dispatch(context.Background(), eventbus.EventPlatformError, platform, "", err)
}

func (m *Manager) handleDisconnect(ctx context.Context, platform string, cause error) {
	m.mu.Lock()
	if m.stopped[platform] {
		m.mu.Unlock()
		return
	}
	bo := m.backoffs[platform]
	m.mu.Unlock()

	m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformDisconnected)})
	m.dispatch(ctx, eventbus.EventPlatformDisconnected, platform, causeMessage(cause), cause)

	wait := bo.NextBackOff()
	if wait < 0 { // backoff.Stop
		m.dispatch(ctx, eventbus.EventPlatformFailed, platform, "max reconnect attempts exceeded", nil)
		m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformError)})
		return
	}

	attempt := bo.Attempt()
	recordReconnectAttempt(platform)
	m.savePatch(platform, PlatformStatePatch{Status: statusPtr(model.PlatformRecovering), ReconnectAttempts: &attempt})
	m.dispatch(ctx, eventbus.EventPlatformRecovering, platform, fmt.Sprintf("retry in %s", wait), nil)

	timer := time.AfterFunc(wait, func() {
		m.mu.Lock()
		stopped := m.stopped[platform]
		m.mu.Unlock()
		if stopped {
			return
		}
		// ctx may already be cancelled by now (StartPlatforms' errgroup
		// context ends when Wait returns); the stopped flag gates retries.
		if err := m.startOne(context.Background(), platform); err != nil {
			log.Printf("platformmanager: %s reconnect attempt failed: %v", platform, err)
		}
	})

	m.mu.Lock()
	m.recoveryTimers[platform] = timer
	m.mu.Unlock()
}

func (m *Manager) savePatch(platform string, patch PlatformStatePatch) {
	if m.store == nil {
		return
	}
	if err := m.store.SavePlatformState(platform, patch); err != nil {
		log.Printf("platformmanager: persisting state for %s: %v", platform, err)
	}
}

func (m *Manager) dispatch(ctx context.Context, evType eventbus.EventType, platform, message string, err error) {
	if m.bus == nil {
		return
	}
	ev := &eventbus.Event{Type: evType, Platform: platform, Message: message}
	if err != nil {
		ev.Err = err.Error()
	}
	if _, dispErr := m.bus.Dispatch(ctx, ev); dispErr != nil {
		log.Printf("platformmanager: dispatching %s for %s: %v", evType, platform, dispErr)
	}
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func statusPtr(s model.PlatformStatus) *model.PlatformStatus {
	return &s
}

package healthmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/steveyegge/messaged/internal/eventbus"
	"github.com/steveyegge/messaged/internal/model"
	"github.com/steveyegge/messaged/internal/statestore"
)

func openTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.Open(":memory:")
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckWithNoPlatformsIsHealthy(t *testing.T) {
	store := openTestStore(t)
	m := New(eventbus.New(), store, Config{})

	report, err := m.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.Overall != "healthy" {
		t.Fatalf("overall = %q, want healthy with zero platforms", report.Overall)
	}
	if len(report.Platforms) != 0 {
		t.Fatalf("expected no platform entries, got %d", len(report.Platforms))
	}
}

func TestCheckMarksStalePlatformUnhealthy(t *testing.T) {
	store := openTestStore(t)
	stale := time.Now().Add(-time.Hour)
	connected := model.PlatformConnected
	if err := store.SavePlatformState("signal", statestore.PlatformStatePatch{
		Status:        &connected,
		LastConnected: &stale,
		LastMessage:   &stale,
	}); err != nil {
		t.Fatalf("seeding state: %v", err)
	}

	m := New(eventbus.New(), store, Config{StaleThreshold: time.Minute})

	report, err := m.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	check, ok := report.Platforms["signal"]
	if !ok {
		t.Fatalf("expected a check entry for signal")
	}
	if !check.Stale {
		t.Fatalf("expected signal to be flagged stale")
	}
	if !check.Unhealthy {
		t.Fatalf("a stale platform must be unhealthy")
	}
	if report.Overall != "unhealthy" {
		t.Fatalf("overall = %q, want unhealthy with the only platform unhealthy", report.Overall)
	}
}

func TestCheckMarksErrorBurstUnhealthy(t *testing.T) {
	store := openTestStore(t)
	connected := model.PlatformConnected
	if err := store.SavePlatformState("discord", statestore.PlatformStatePatch{
		Status:              &connected,
		IncrementErrorCount: 5,
	}); err != nil {
		t.Fatalf("seeding state: %v", err)
	}

	m := New(eventbus.New(), store, Config{MaxErrorsBeforeUnhealthy: 3})

	report, err := m.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	check := report.Platforms["discord"]
	if !check.Unhealthy {
		t.Fatalf("5 errors with a threshold of 3 must be unhealthy, got %+v", check)
	}
}

func TestDegradedWhenMixedHealth(t *testing.T) {
	store := openTestStore(t)
	connected := model.PlatformConnected
	disconnected := model.PlatformDisconnected
	if err := store.SavePlatformState("signal", statestore.PlatformStatePatch{Status: &connected}); err != nil {
		t.Fatalf("seeding signal: %v", err)
	}
	if err := store.SavePlatformState("discord", statestore.PlatformStatePatch{Status: &disconnected}); err != nil {
		t.Fatalf("seeding discord: %v", err)
	}

	m := New(eventbus.New(), store, Config{})
	report, err := m.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.Overall != "degraded" {
		t.Fatalf("overall = %q, want degraded with one healthy and one unhealthy platform", report.Overall)
	}
}

type fakeRecoveredAdapter struct {
	connected bool
}

func (f *fakeRecoveredAdapter) IsConnected() bool { return f.connected }

func TestTickDispatchesUnhealthyThenRecovered(t *testing.T) {
	store := openTestStore(t)
	connected := model.PlatformConnected
	if err := store.SavePlatformState("signal", statestore.PlatformStatePatch{Status: &connected}); err != nil {
		t.Fatalf("seeding state: %v", err)
	}

	bus := eventbus.New()
	received := make(chan eventbus.EventType, 4)
	bus.Register(&captureHandler{types: []eventbus.EventType{
		eventbus.EventHealthUnhealthy, eventbus.EventHealthRecovered,
	}, onHandle: func(ev *eventbus.Event) { received <- ev.Type }})

	fake := &fakeRecoveredAdapter{connected: false}
	m := New(bus, store, Config{})
	m.Register("signal", fake)

	ctx := context.Background()
	m.tick(ctx)
	select {
	case evType := <-received:
		if evType != eventbus.EventHealthUnhealthy {
			t.Fatalf("first event = %v, want health:unhealthy", evType)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for health:unhealthy dispatch")
	}

	fake.connected = true
	m.tick(ctx)
	select {
	case evType := <-received:
		if evType != eventbus.EventHealthRecovered {
			t.Fatalf("second event = %v, want health:recovered", evType)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for health:recovered dispatch")
	}
}

// captureHandler is a minimal eventbus.Handler test double that forwards
// matching events to onHandle.
type captureHandler struct {
	types    []eventbus.EventType
	onHandle func(ev *eventbus.Event)
}

func (c *captureHandler) ID() string                        { return "capture" }
func (c *captureHandler) Handles() []eventbus.EventType      { return c.types }
func (c *captureHandler) Priority() int                      { return 0 }
func (c *captureHandler) Handle(ctx context.Context, ev *eventbus.Event, _ *eventbus.Result) error {
	c.onHandle(ev)
	return nil
}

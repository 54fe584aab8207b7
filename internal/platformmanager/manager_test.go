package platformmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
	"github.com/steveyegge/messaged/internal/eventbus"
)

type fakeAdapter struct {
	platform string
	events   chan adapter.Event
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	connected bool
	unauthed  bool
}

func newFakeAdapter(platform string) *fakeAdapter {
	return &fakeAdapter{platform: platform, events: make(chan adapter.Event, adapter.EventBufferSize)}
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) IsAuthenticated(ctx context.Context) (bool, error) { return !f.unauthed, nil }

func (f *fakeAdapter) Start(ctx context.Context) error {
	f.mu.Lock()
	f.started++
	err := f.startErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.connected = true
	f.events <- adapter.Event{Kind: adapter.EventConnected, Platform: f.platform}
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeAdapter) IsConnected() bool { return f.connected }
func (f *fakeAdapter) Stats() adapter.Stats { return adapter.Stats{} }
func (f *fakeAdapter) Events() <-chan adapter.Event { return f.events }

func (f *fakeAdapter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func TestStartAllConnectsAllAndEmitsEvents(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var seen []eventbus.EventType
	bus.Register(recordingHandler{types: []eventbus.EventType{
		eventbus.EventPlatformStarting, eventbus.EventPlatformConnected,
	}, record: func(ev *eventbus.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}})

	mgr := New(bus, nil, nil, Config{Priority: []string{"signal", "discord"}, BackoffScheduleMs: []int64{10}, MaxAttempts: 3})
	signal := newFakeAdapter("signal")
	discord := newFakeAdapter("discord")
	mgr.Register("signal", signal)
	mgr.Register("discord", discord)

	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if signal.startCount() != 1 || discord.startCount() != 1 {
		t.Fatalf("expected both adapters started once: signal=%d discord=%d", signal.startCount(), discord.startCount())
	}

	mu.Lock()
	count := len(seen)
	mu.Unlock()
	if count < 4 {
		t.Fatalf("expected at least 4 lifecycle events (starting+connected per adapter), got %d: %v", count, seen)
	}
}

func TestStopAllStopsInReverseOrder(t *testing.T) {
	bus := eventbus.New()
	mgr := New(bus, nil, nil, Config{Priority: []string{"signal", "discord"}})
	signal := newFakeAdapter("signal")
	discord := newFakeAdapter("discord")
	mgr.Register("signal", signal)
	mgr.Register("discord", discord)

	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := mgr.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	if signal.stopped != 1 || discord.stopped != 1 {
		t.Fatalf("expected both adapters stopped once: signal=%d discord=%d", signal.stopped, discord.stopped)
	}
}

func TestHandleDisconnectSchedulesReconnectThenFails(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var failed bool
	bus.Register(recordingHandler{types: []eventbus.EventType{eventbus.EventPlatformFailed}, record: func(ev *eventbus.Event) {
		mu.Lock()
		failed = true
		mu.Unlock()
	}})

	mgr := New(bus, nil, nil, Config{Priority: []string{"signal"}, BackoffScheduleMs: []int64{1}, MaxAttempts: 1})
	flaky := newFakeAdapter("signal")
	flaky.startErr = errAlwaysFails{}
	mgr.Register("signal", flaky)

	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v (individual adapter failures are logged, not propagated)", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		f := failed
		mu.Unlock()
		if f {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !failed {
		t.Fatalf("expected EventPlatformFailed after exhausting max attempts")
	}
}

type errAlwaysFails struct{}

func (errAlwaysFails) Error() string { return "always fails" }

type recordingHandler struct {
	types  []eventbus.EventType
	record func(*eventbus.Event)
}

func (r recordingHandler) ID() string                      { return "recording" }
func (r recordingHandler) Priority() int                   { return 0 }
func (r recordingHandler) Handles() []eventbus.EventType    { return r.types }
func (r recordingHandler) Handle(ctx context.Context, ev *eventbus.Event, res *eventbus.Result) error {
	r.record(ev)
	return nil
}

func TestDiscoverAuthenticatedFiltersAndKeepsPriorityOrder(t *testing.T) {
	bus := eventbus.New()
	mgr := New(bus, nil, nil, Config{Priority: []string{"signal", "whatsapp", "discord"}})

	signal := newFakeAdapter("signal")
	whatsapp := newFakeAdapter("whatsapp")
	whatsapp.unauthed = true
	discord := newFakeAdapter("discord")
	mgr.Register("signal", signal)
	mgr.Register("whatsapp", whatsapp)
	mgr.Register("discord", discord)

	authed := mgr.DiscoverAuthenticated(context.Background())
	if len(authed) != 2 || authed[0] != "signal" || authed[1] != "discord" {
		t.Fatalf("DiscoverAuthenticated = %v, want [signal discord] in priority order", authed)
	}
}

package daemonrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeRunnable struct {
	started chan struct{}
	stopped chan struct{}
	startErr error
}

func newFakeRunnable() *fakeRunnable {
	return &fakeRunnable{started: make(chan struct{}, 1), stopped: make(chan struct{}, 1)}
}

func (f *fakeRunnable) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started <- struct{}{}
	return nil
}

func (f *fakeRunnable) Stop(ctx context.Context) error {
	f.stopped <- struct{}{}
	return nil
}

func TestRunShutsDownOnRequest(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	r := newFakeRunnable()
	d := New(Config{Dir: dir, PIDFile: pidFile}, nil, r)

	done := make(chan int, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("runnable never started")
	}

	if _, err := os.Stat(pidFile); err != nil {
		t.Fatalf("expected pid file to exist while running: %v", err)
	}

	d.Shutdown()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected clean exit code 0, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after Shutdown")
	}

	select {
	case <-r.stopped:
	default:
		t.Fatal("expected Stop to have been called")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("expected pid file to be removed after shutdown, err=%v", err)
	}
}

func TestRunRefusesWhenAnotherInstanceIsLive(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	if err := os.WriteFile(pidFile, []byte("1\n"), 0o600); err != nil { // pid 1 is always alive
		t.Fatal(err)
	}

	r := newFakeRunnable()
	d := New(Config{Dir: dir, PIDFile: pidFile}, nil, r)

	code := d.Run(context.Background())
	if code != 1 {
		t.Fatalf("expected exit code 1 when another instance holds the PID file, got %d", code)
	}
	select {
	case <-r.started:
		t.Fatal("runnable should not have started")
	default:
	}
}

func TestRunCleansStalePIDFile(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	// A PID very unlikely to be alive.
	if err := os.WriteFile(pidFile, []byte("999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := newFakeRunnable()
	d := New(Config{Dir: dir, PIDFile: pidFile}, nil, r)

	go d.Shutdown()
	done := make(chan int, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("runnable never started despite stale pid file")
	}

	<-done
}

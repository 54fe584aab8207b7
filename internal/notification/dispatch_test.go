package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNotifyWritesLogLine(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "daemon.log")

	d, err := NewDispatcher(logPath)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	defer d.Close()

	d.Info("platform connected", "signal is up", "signal")

	waitForFile(t, logPath)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "platform connected") {
		t.Errorf("log file missing title: %s", data)
	}

	var p Payload
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		t.Fatalf("log line is not valid JSON: %v (%s)", err, line)
	}
	if p.Level != LevelInfo || p.Platform != "signal" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDispatcher(filepath.Join(dir, "daemon.log"))
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	defer d.Close()

	now := time.Now()
	first := d.Notify(Payload{Level: LevelError, Title: "disconnected", Platform: "discord", Timestamp: now})
	second := d.Notify(Payload{Level: LevelError, Title: "disconnected", Platform: "discord", Timestamp: now.Add(10 * time.Second)})

	if len(first) != 0 {
		t.Errorf("expected no channel results with no channels configured, got %v", first)
	}
	if len(second) != 1 || second[0].Channel != "dedup" {
		t.Errorf("expected dedup result on repeat within window, got %v", second)
	}

	third := d.Notify(Payload{Level: LevelError, Title: "disconnected", Platform: "discord", Timestamp: now.Add(61 * time.Second)})
	if len(third) != 0 {
		t.Errorf("expected notification to fire again after window elapses, got %v", third)
	}
}

func TestNotifyDifferentPlatformNotDeduped(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDispatcher(filepath.Join(dir, "daemon.log"))
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	defer d.Close()

	now := time.Now()
	d.Notify(Payload{Level: LevelError, Title: "disconnected", Platform: "discord", Timestamp: now})
	results := d.Notify(Payload{Level: LevelError, Title: "disconnected", Platform: "telegram", Timestamp: now})

	if len(results) != 0 {
		t.Errorf("expected a fresh notification for a different platform, got %v", results)
	}
}

func TestRotateIfNeeded(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "daemon.log")

	big := strings.Repeat("x", maxLogSize+1)
	if err := os.WriteFile(logPath, []byte(big), 0o644); err != nil {
		t.Fatalf("seeding log file: %v", err)
	}

	d, err := NewDispatcher(logPath)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	defer d.Close()

	d.Info("rotate me", "body", "")
	waitForFile(t, logPath+".old")

	if _, err := os.Stat(logPath + ".old"); err != nil {
		t.Errorf("expected rotated file to exist: %v", err)
	}
}

func TestDispatchToChannelWebhook(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := &Dispatcher{
		httpClient: server.Client(),
		contacts:   map[string]string{"webhook": server.URL},
	}

	result := d.dispatchToChannel(Payload{Level: LevelWarning, Title: "stale"}, "webhook")
	if !result.Success {
		t.Fatalf("expected webhook dispatch to succeed, got %+v", result)
	}
	if received.Title != "stale" {
		t.Errorf("webhook did not receive payload, got %+v", received)
	}
}

func TestDispatchToChannelWebhookMissingURL(t *testing.T) {
	d := &Dispatcher{contacts: map[string]string{}}
	result := d.dispatchToChannel(Payload{Title: "x"}, "webhook")
	if result.Success {
		t.Fatal("expected failure with no webhook URL configured")
	}
}

func TestDispatchToChannelUnknown(t *testing.T) {
	d := &Dispatcher{}
	result := d.dispatchToChannel(Payload{Title: "x"}, "carrier-pigeon")
	if result.Success {
		t.Fatal("expected failure for unknown channel")
	}
}

func TestResolveContact(t *testing.T) {
	d := &Dispatcher{contacts: map[string]string{
		"ops_email": "ops@example.com",
		"webhook":   "https://example.com/hook",
	}}

	if got := d.resolveContact("ops", "email"); got != "ops@example.com" {
		t.Errorf("resolveContact(ops, email) = %q", got)
	}
	if got := d.resolveContact("webhook", ""); got != "https://example.com/hook" {
		t.Errorf("resolveContact(webhook, \"\") = %q", got)
	}
	if got := d.resolveContact("missing", "sms"); got != "" {
		t.Errorf("resolveContact(missing, sms) = %q, want empty", got)
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to be written", path)
}

func TestUpdateRoutingSwapsChannels(t *testing.T) {
	d, err := NewDispatcher(filepath.Join(t.TempDir(), "daemon.log"))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	t.Cleanup(d.Close)

	results := d.Notify(Payload{Level: LevelInfo, Title: "before", Body: "b"})
	if len(results) != 0 {
		t.Fatalf("expected no channel results before routing configured, got %v", results)
	}

	d.UpdateRouting([]string{"log"}, map[string]string{"webhook": "http://example.invalid"})

	results = d.Notify(Payload{Level: LevelInfo, Title: "after", Body: "b"})
	if len(results) != 1 || results[0].Channel != "log" || !results[0].Success {
		t.Fatalf("expected one successful log-channel result after UpdateRouting, got %v", results)
	}
}

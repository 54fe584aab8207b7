// Package signal implements the Signal platform adapter: JSON-RPC over a
// local Unix-domain stream socket to an external signal-cli-style helper
// process.
package signal

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
)

// dialRetries is how many local dial attempts Start makes before it emits
// Error and returns the last dial error, leaving further retries to the
// platform manager's own backoff.
const dialRetries = 3

// Config configures a Signal adapter instance.
type Config struct {
	// SocketPath is the signal-cli JSON-RPC socket. Falls back to the
	// SIGNAL_CLI_SOCKET environment variable; there is no other default.
	SocketPath string
	// AuthDir is this platform's private session directory
	// (.messages/signal-auth/), used only to check IsAuthenticated.
	AuthDir string
}

// rpcEnvelope mirrors a signal-cli JSON-RPC "receive" notification's
// relevant fields.
type rpcEnvelope struct {
	Envelope struct {
		Source        string `json:"source"`
		SourceName    string `json:"sourceName"`
		Timestamp     int64  `json:"timestamp"`
		DataMessage   *struct {
			Message    string `json:"message"`
			GroupInfo  *struct {
				GroupID string `json:"groupId"`
			} `json:"groupInfo"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

// Adapter implements adapter.Adapter for Signal.
type Adapter struct {
	cfg Config

	events chan adapter.Event

	mu        sync.Mutex
	conn      net.Conn
	connected atomic.Bool
	stopped   atomic.Bool

	stats struct {
		sync.Mutex
		received   int64
		reconnects int64
		lastActive int64
	}
}

// New constructs a Signal adapter. It performs no I/O.
func New(cfg Config) *Adapter {
	if cfg.SocketPath == "" {
		cfg.SocketPath = os.Getenv("SIGNAL_CLI_SOCKET")
	}
	return &Adapter{
		cfg:    cfg,
		events: make(chan adapter.Event, adapter.EventBufferSize),
	}
}

// Platform implements adapter.Adapter.
func (a *Adapter) Platform() string { return "signal" }

// IsAuthenticated reports whether a session marker exists under AuthDir,
// without dialing the socket.
func (a *Adapter) IsAuthenticated(ctx context.Context) (bool, error) {
	if a.cfg.AuthDir == "" {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(a.cfg.AuthDir, "account.json"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Start dials the signal-cli socket and launches the read loop. It returns
// once either connected or every local retry has been exhausted.
func (a *Adapter) Start(ctx context.Context) error {
	a.stopped.Store(false)

	var lastErr error
	for attempt := 0; attempt < dialRetries; attempt++ {
		conn, err := net.DialTimeout("unix", a.cfg.SocketPath, 5*time.Second)
		if err == nil {
			a.mu.Lock()
			a.conn = conn
			a.mu.Unlock()
			a.connected.Store(true)
			a.emit(adapter.Event{Kind: adapter.EventConnected, Platform: a.Platform()})
			go a.readLoop(conn)
			return nil
		}
		lastErr = err
		a.incReconnect()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}

	a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("signal: dialing %s: %w", a.cfg.SocketPath, lastErr)})
	return lastErr
}

// Stop closes the socket connection. Idempotent.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	a.connected.Store(false)
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected implements adapter.Adapter.
func (a *Adapter) IsConnected() bool { return a.connected.Load() }

// Stats implements adapter.Adapter.
func (a *Adapter) Stats() adapter.Stats {
	a.stats.Lock()
	defer a.stats.Unlock()
	return adapter.Stats{
		MessagesReceived:  a.stats.received,
		ReconnectAttempts: a.stats.reconnects,
		LastActivityMs:    a.stats.lastActive,
	}
}

// Events implements adapter.Adapter.
func (a *Adapter) Events() <-chan adapter.Event { return a.events }

func (a *Adapter) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !a.stopped.Load() {
				a.connected.Store(false)
				a.emit(adapter.Event{Kind: adapter.EventDisconnected, Platform: a.Platform(), Reason: err.Error()})
			}
			return
		}

		var env rpcEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("signal: malformed envelope: %w", err)})
			continue
		}
		if env.Envelope.DataMessage == nil {
			continue
		}

		payload := adapter.SignalPayload{
			Timestamp:    env.Envelope.Timestamp,
			SourceNumber: env.Envelope.Source,
			SourceName:   env.Envelope.SourceName,
			Message:      env.Envelope.DataMessage.Message,
		}
		if gi := env.Envelope.DataMessage.GroupInfo; gi != nil {
			payload.GroupIDBase64 = gi.GroupID
			if decoded, err := base64.StdEncoding.DecodeString(gi.GroupID); err == nil {
				payload.GroupIDHex = fmt.Sprintf("%x", decoded)
			}
		}

		a.recordActivity()
		a.emit(adapter.Event{Kind: adapter.EventMessage, Platform: a.Platform(), Payload: adapter.Payload{Kind: adapter.PayloadSignal, Signal: &payload}})
	}
}

func (a *Adapter) emit(ev adapter.Event) {
	select {
	case a.events <- ev:
	default:
	}
}

func (a *Adapter) recordActivity() {
	a.stats.Lock()
	a.stats.received++
	a.stats.lastActive = time.Now().UnixMilli()
	a.stats.Unlock()
}

func (a *Adapter) incReconnect() {
	a.stats.Lock()
	a.stats.reconnects++
	a.stats.Unlock()
}

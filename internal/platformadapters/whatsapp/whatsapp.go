// Package whatsapp implements the WhatsApp platform adapter: an
// event-callback shaped client against a local companion process, with an
// explicit QR-pairing lifecycle state. The adapter does not reconnect by
// itself: a read error emits Disconnected and recovery is left to the
// platform manager's scheduling.
package whatsapp

import (
	"bufio"
	"context"
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

// State is the adapter's connection lifecycle, richer than the platform
// manager's own PlatformStatus because WhatsApp pairing has a distinct
// "waiting on a scanned QR code" phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateQR           State = "qr"
	StateConnected    State = "connected"
)

// maxBackoff caps the delay nextBackoff returns. Nothing in this adapter
// calls nextBackoff, so no reconnect is scheduled with it.
const maxBackoff = 60 * time.Second

// Config configures a WhatsApp adapter instance.
type Config struct {
	SocketPath string // local companion process socket
	AuthDir    string // .messages/whatsapp-auth/
}

type wireEvent struct {
	Type string `json:"type"` // "qr" | "message" | "connected" | "disconnected"
	QR   struct {
		Code      string `json:"code"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"qr,omitempty"`
	Message struct {
		Timestamp   int64  `json:"timestamp"`
		FromJID     string `json:"from_jid"`
		PushName    string `json:"push_name"`
		Body        string `json:"body"`
		ChatJID     string `json:"chat_jid"`
		IsGroupChat bool   `json:"is_group_chat"`
	} `json:"message,omitempty"`
}

// Adapter implements adapter.Adapter for WhatsApp.
type Adapter struct {
	cfg    Config
	events chan adapter.Event

	mu         sync.Mutex
	state      State
	conn       net.Conn
	qrExpiry   time.Time
	backoff    time.Duration
	stopped    atomic.Bool
	connected  atomic.Bool

	stats struct {
		sync.Mutex
		received   int64
		reconnects int64
		lastActive int64
	}
}

// New constructs a WhatsApp adapter. It performs no I/O.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		events: make(chan adapter.Event, adapter.EventBufferSize),
		state:  StateDisconnected,
	}
}

// Platform implements adapter.Adapter.
func (a *Adapter) Platform() string { return "whatsapp" }

// IsAuthenticated reports whether session material has been persisted from
// a prior successful pairing.
func (a *Adapter) IsAuthenticated(ctx context.Context) (bool, error) {
	if a.cfg.AuthDir == "" {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(a.cfg.AuthDir, "session.json"))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Start connects to the companion process and begins the event loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.stopped.Store(false)
	a.mu.Lock()
	a.state = StateConnecting
	a.mu.Unlock()

	conn, err := net.DialTimeout("unix", a.cfg.SocketPath, 5*time.Second)
	if err != nil {
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("whatsapp: dial: %w", err)})
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.state = StateConnected
	a.mu.Unlock()
	a.connected.Store(true)

	a.emit(adapter.Event{Kind: adapter.EventConnected, Platform: a.Platform()})
	go a.readLoop(conn)
	return nil
}

// Stop closes the connection. Idempotent.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	a.connected.Store(false)
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.state = StateDisconnected
	a.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ClearSession deletes persisted pairing material, forcing a fresh QR
// pairing on the next Start. Deliberately not reachable over IPC: clearing
// a session is an explicit user action, never an automatic recovery step.
func (a *Adapter) ClearSession() error {
	if a.cfg.AuthDir == "" {
		return nil
	}
	return os.Remove(filepath.Join(a.cfg.AuthDir, "session.json"))
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

// State returns the adapter's current pairing/connection state, richer
// than IsConnected alone.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !a.stopped.Load() {
				a.connected.Store(false)
				a.mu.Lock()
				a.state = StateDisconnected
				a.mu.Unlock()
				a.emit(adapter.Event{Kind: adapter.EventDisconnected, Platform: a.Platform(), Reason: err.Error()})
			}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("whatsapp: malformed event: %w", err)})
			continue
		}

		switch ev.Type {
		case "qr":
			a.mu.Lock()
			a.state = StateQR
			a.qrExpiry = time.UnixMilli(ev.QR.ExpiresAt)
			a.mu.Unlock()
		case "connected":
			a.mu.Lock()
			a.state = StateConnected
			a.mu.Unlock()
			a.connected.Store(true)
		case "message":
			a.recordActivity()
			payload := adapter.WhatsAppPayload{
				Timestamp:   ev.Message.Timestamp,
				FromJID:     ev.Message.FromJID,
				PushName:    ev.Message.PushName,
				Body:        ev.Message.Body,
				ChatJID:     ev.Message.ChatJID,
				IsGroupChat: ev.Message.IsGroupChat,
			}
			a.emit(adapter.Event{Kind: adapter.EventMessage, Platform: a.Platform(), Payload: adapter.Payload{Kind: adapter.PayloadWhatsApp, WhatsApp: &payload}})
		}
	}
}

// nextBackoff advances the adapter's backoff delay, doubling from a 1s
// floor up to maxBackoff. It has no caller in this adapter.
func (a *Adapter) nextBackoff() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backoff == 0 {
		a.backoff = time.Second
	} else {
		a.backoff *= 2
		if a.backoff > maxBackoff {
			a.backoff = maxBackoff
		}
	}
	return a.backoff
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

// Package email implements the Gmail/IMAP platform adapter: a minimal
// IMAP4rev1 client built directly on net/tls/bufio (no IMAP library exists
// anywhere in this lineage's dependency pack; see DESIGN.md), doing a
// two-phase fetch of envelopes then full messages, normalizing into the
// same message event shape as the other platform adapters.
package email

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
)

const (
	envelopeBatchSize = 50
	fetchBatchSize    = 15
	fetchRetries      = 2
	pollInterval      = 60 * time.Second
)

// Config configures an Email/IMAP adapter instance.
type Config struct {
	Host     string // e.g. imap.gmail.com
	Port     int    // default 993
	Username string
	Password string // app password; falls back to EMAIL_APP_PASSWORD
	Mailbox  string // default INBOX
	AuthDir  string // platform auth directory; not read by this adapter
}

// Adapter implements adapter.Adapter for Gmail/IMAP.
type Adapter struct {
	cfg    Config
	events chan adapter.Event

	mu      sync.Mutex
	conn    *imapConn
	lastUID uint32
	seenIDs map[string]bool

	connected atomic.Bool
	stopped   atomic.Bool
	cancel    context.CancelFunc

	stats struct {
		sync.Mutex
		received   int64
		reconnects int64
		lastActive int64
	}
}

// New constructs an Email adapter. It performs no I/O.
func New(cfg Config) *Adapter {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("EMAIL_APP_PASSWORD")
	}
	return &Adapter{
		cfg:     cfg,
		events:  make(chan adapter.Event, adapter.EventBufferSize),
		seenIDs: map[string]bool{},
	}
}

// Platform implements adapter.Adapter. Named "gmail" to match
// config.DefaultPlatformPriority and the platform manager's startup order,
// even though the payload/package name is the more general "email".
func (a *Adapter) Platform() string { return "gmail" }

// IsAuthenticated reports whether credentials are configured.
func (a *Adapter) IsAuthenticated(ctx context.Context) (bool, error) {
	return a.cfg.Username != "" && a.cfg.Password != "", nil
}

// Start dials and logs in to the IMAP server, then begins the poll loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.stopped.Store(false)

	conn, err := dial(a.cfg.Host, a.cfg.Port, a.cfg.Username, a.cfg.Password, a.cfg.Mailbox)
	if err != nil {
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("email: connect: %w", err)})
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	a.connected.Store(true)
	a.emit(adapter.Event{Kind: adapter.EventConnected, Platform: a.Platform()})

	pollCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.pollLoop(pollCtx)
	return nil
}

// Stop closes the IMAP connection. Idempotent.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	a.connected.Store(false)
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		return conn.close()
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

func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	a.syncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.syncOnce(ctx)
		}
	}
}

// syncOnce runs one envelope-scan/fetch cycle. A search error reconnects
// immediately; if that reconnect fails the adapter emits Disconnected and
// the platform manager's own recovery takes over.
func (a *Adapter) syncOnce(ctx context.Context) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	uids, err := conn.searchUIDsAfter(a.lastUID)
	if err != nil {
		a.incReconnect()
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("email: search: %w", err)})
		a.reconnect(ctx)
		return
	}
	if len(uids) == 0 {
		return
	}

	envelopes := make(map[uint32]envelopeInfo)
	for batchStart := 0; batchStart < len(uids); batchStart += envelopeBatchSize {
		end := batchStart + envelopeBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		batch := uids[batchStart:end]
		fetched, err := conn.fetchEnvelopes(batch)
		if err != nil {
			fetched, err = conn.fetchEnvelopesOneByOne(batch)
			if err != nil {
				a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("email: envelope fetch: %w", err)})
				continue
			}
		}
		for uid, env := range fetched {
			envelopes[uid] = env
		}
	}

	// Phase two only fetches messages whose Message-ID has not been seen
	// this session; envelopes without one are fetched unconditionally and
	// deduplicated downstream by content-address.
	toFetch := make([]uint32, 0, len(envelopes))
	a.mu.Lock()
	for uid, env := range envelopes {
		if env.messageID != "" && a.seenIDs[env.messageID] {
			continue
		}
		if env.messageID != "" {
			a.seenIDs[env.messageID] = true
		}
		toFetch = append(toFetch, uid)
	}
	a.mu.Unlock()

	for batchStart := 0; batchStart < len(toFetch); batchStart += fetchBatchSize {
		end := batchStart + fetchBatchSize
		if end > len(toFetch) {
			end = len(toFetch)
		}
		batch := toFetch[batchStart:end]
		a.fetchAndEmitBatch(conn, batch)
	}

	var maxUID uint32
	for _, uid := range uids {
		if uid > maxUID {
			maxUID = uid
		}
	}
	a.lastUID = maxUID
}

func (a *Adapter) fetchAndEmitBatch(conn *imapConn, uids []uint32) {
	for _, uid := range uids {
		var msg *rfc822Message
		var err error
		for attempt := 0; attempt < fetchRetries; attempt++ {
			msg, err = conn.fetchFull(uid)
			if err == nil {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil {
			a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("email: fetch uid %d: %w", uid, err)})
			continue
		}

		a.recordActivity()
		payload := adapter.EmailPayload{
			MessageID:  msg.MessageID,
			InReplyTo:  msg.InReplyTo,
			References: msg.References,
			Subject:    msg.Subject,
			From:       msg.From,
			To:         msg.To,
			DateUnixMs: msg.Date.UnixMilli(),
			Body:       msg.Body,
			MailboxURL: fmt.Sprintf("imap://%s/%s", a.cfg.Host, a.cfg.Mailbox),
		}
		a.emit(adapter.Event{Kind: adapter.EventMessage, Platform: a.Platform(), Payload: adapter.Payload{Kind: adapter.PayloadEmail, Email: &payload}})
	}
}

func (a *Adapter) reconnect(ctx context.Context) {
	a.mu.Lock()
	old := a.conn
	a.mu.Unlock()
	if old != nil {
		old.close()
	}

	conn, err := dial(a.cfg.Host, a.cfg.Port, a.cfg.Username, a.cfg.Password, a.cfg.Mailbox)
	if err != nil {
		a.connected.Store(false)
		a.emit(adapter.Event{Kind: adapter.EventDisconnected, Platform: a.Platform(), Reason: err.Error()})
		return
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	a.connected.Store(true)
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

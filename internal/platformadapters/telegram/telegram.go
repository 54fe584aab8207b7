// Package telegram implements the Telegram platform adapter: a long-poll
// client against the Bot API's getUpdates endpoint, normalizing into the
// same message event shape as the other platform adapters. Thread
// resolution uses the chat id directly as room_id.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
)

const (
	apiBase    = "https://api.telegram.org/bot"
	longPollTO = 30 // seconds, passed as Telegram's own "timeout" query param
)

// Config configures a Telegram adapter instance.
type Config struct {
	BotToken   string // falls back to TELEGRAM_BOT_TOKEN
	HTTPClient *http.Client
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Date int64 `json:"date"`
		From struct {
			ID        int64  `json:"id"`
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
		} `json:"from"`
		Chat struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

type getUpdatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// Adapter implements adapter.Adapter for Telegram.
type Adapter struct {
	cfg    Config
	client *http.Client
	events chan adapter.Event

	connected atomic.Bool
	stopped   atomic.Bool
	cancel    context.CancelFunc

	mu     sync.Mutex
	offset int64

	stats struct {
		sync.Mutex
		received   int64
		reconnects int64
		lastActive int64
	}
}

// New constructs a Telegram adapter. It performs no I/O.
func New(cfg Config) *Adapter {
	if cfg.BotToken == "" {
		cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Duration(longPollTO+10) * time.Second}
	}
	return &Adapter{
		cfg:    cfg,
		client: cfg.HTTPClient,
		events: make(chan adapter.Event, adapter.EventBufferSize),
	}
}

// Platform implements adapter.Adapter.
func (a *Adapter) Platform() string { return "telegram" }

// IsAuthenticated reports whether a bot token is configured.
func (a *Adapter) IsAuthenticated(ctx context.Context) (bool, error) {
	return a.cfg.BotToken != "", nil
}

func (a *Adapter) endpoint(method string) string {
	return apiBase + a.cfg.BotToken + "/" + method
}

// Start validates the token against getMe, then begins the long-poll loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.stopped.Store(false)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("getMe"), nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("telegram: auth check: %w", err)})
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("telegram: auth check returned status %d", resp.StatusCode)
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: err})
		return err
	}

	a.connected.Store(true)
	a.emit(adapter.Event{Kind: adapter.EventConnected, Platform: a.Platform()})

	pollCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.pollLoop(pollCtx)
	return nil
}

// Stop halts the long-poll loop. Idempotent.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	a.connected.Store(false)
	if a.cancel != nil {
		a.cancel()
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
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := a.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.incReconnect()
			a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("telegram: %w", err)})
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (a *Adapter) poll(ctx context.Context) error {
	a.mu.Lock()
	offset := a.offset
	a.mu.Unlock()

	q := url.Values{}
	q.Set("timeout", strconv.Itoa(longPollTO))
	if offset != 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("getUpdates returned status %d", resp.StatusCode)
	}

	var body getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding getUpdates response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("getUpdates reported not ok")
	}

	for _, u := range body.Result {
		a.mu.Lock()
		if u.UpdateID >= a.offset {
			a.offset = u.UpdateID + 1
		}
		a.mu.Unlock()

		if u.Message == nil {
			continue
		}
		a.recordActivity()
		name := u.Message.From.Username
		if name == "" {
			name = u.Message.From.FirstName
		}
		payload := adapter.TelegramPayload{
			Date:     u.Message.Date,
			FromID:   u.Message.From.ID,
			FromName: name,
			Text:     u.Message.Text,
			ChatID:   u.Message.Chat.ID,
			ChatType: u.Message.Chat.Type,
		}
		a.emit(adapter.Event{Kind: adapter.EventMessage, Platform: a.Platform(), Payload: adapter.Payload{Kind: adapter.PayloadTelegram, Telegram: &payload}})
	}
	return nil
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

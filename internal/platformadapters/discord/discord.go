// Package discord implements the Discord platform adapter: a thin
// REST-polling client against the bot API's channel message history,
// normalizing into the same message event shape as the other platform
// adapters. Thread resolution uses the channel id directly as room_id.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
)

const (
	apiBase      = "https://discord.com/api/v10"
	pollInterval = 3 * time.Second
)

// Config configures a Discord adapter instance.
type Config struct {
	BotToken   string   // falls back to DISCORD_BOT_TOKEN
	ChannelIDs []string // channels this adapter polls
	AuthDir    string   // .messages/discord-auth/
	HTTPClient *http.Client
}

type discordMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

// Adapter implements adapter.Adapter for Discord.
type Adapter struct {
	cfg    Config
	client *http.Client
	events chan adapter.Event

	connected atomic.Bool
	stopped   atomic.Bool
	cancel    context.CancelFunc

	mu     sync.Mutex
	afterID map[string]string // channel id -> last-seen message id

	stats struct {
		sync.Mutex
		received   int64
		reconnects int64
		lastActive int64
	}
}

// New constructs a Discord adapter. It performs no I/O.
func New(cfg Config) *Adapter {
	if cfg.BotToken == "" {
		cfg.BotToken = os.Getenv("DISCORD_BOT_TOKEN")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		events:  make(chan adapter.Event, adapter.EventBufferSize),
		afterID: map[string]string{},
	}
}

// Platform implements adapter.Adapter.
func (a *Adapter) Platform() string { return "discord" }

// IsAuthenticated reports whether a bot token is configured.
func (a *Adapter) IsAuthenticated(ctx context.Context) (bool, error) {
	if a.cfg.BotToken != "" {
		return true, nil
	}
	if a.cfg.AuthDir == "" {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(a.cfg.AuthDir, "token"))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Start validates the token against the /users/@me endpoint, then begins
// the polling loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.stopped.Store(false)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/users/@me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+a.cfg.BotToken)

	resp, err := a.client.Do(req)
	if err != nil {
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("discord: auth check: %w", err)})
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("discord: auth check returned status %d", resp.StatusCode)
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

// Stop halts the polling loop. Idempotent.
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
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, channelID := range a.cfg.ChannelIDs {
				a.pollChannel(ctx, channelID)
			}
		}
	}
}

func (a *Adapter) pollChannel(ctx context.Context, channelID string) {
	a.mu.Lock()
	after := a.afterID[channelID]
	a.mu.Unlock()

	url := fmt.Sprintf("%s/channels/%s/messages?limit=50", apiBase, channelID)
	if after != "" {
		url += "&after=" + after
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bot "+a.cfg.BotToken)

	resp, err := a.client.Do(req)
	if err != nil {
		a.incReconnect()
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("discord: polling %s: %w", channelID, err)})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var messages []discordMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		a.emit(adapter.Event{Kind: adapter.EventError, Platform: a.Platform(), Err: fmt.Errorf("discord: decoding messages: %w", err)})
		return
	}

	// Discord returns newest-first; replay oldest-first for in-order ingest.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		ts, _ := time.Parse(time.RFC3339, msg.Timestamp)
		a.recordActivity()
		payload := adapter.DiscordPayload{
			TimestampMs: ts.UnixMilli(),
			AuthorID:    msg.Author.ID,
			AuthorName:  msg.Author.Username,
			Content:     msg.Content,
			ChannelID:   msg.ChannelID,
			GuildID:     msg.GuildID,
		}
		a.emit(adapter.Event{Kind: adapter.EventMessage, Platform: a.Platform(), Payload: adapter.Payload{Kind: adapter.PayloadDiscord, Discord: &payload}})
	}

	if len(messages) > 0 {
		a.mu.Lock()
		a.afterID[channelID] = messages[0].ID
		a.mu.Unlock()
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

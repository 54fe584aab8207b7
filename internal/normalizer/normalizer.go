// Package normalizer converts per-platform adapter payloads into the
// canonical Message/Account/Thread model, assigning content-addressed ids
// and resolving account/thread identity.
package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
	"github.com/steveyegge/messaged/internal/errs"
	"github.com/steveyegge/messaged/internal/idgen"
	"github.com/steveyegge/messaged/internal/model"
	"github.com/steveyegge/messaged/internal/threading"
)

// store is the subset of statestore this package needs.
type store interface {
	UpsertAccount(acct model.Account) error
	GetOrCreateThread(id string, seed model.Thread) (*model.Thread, bool, error)
	InsertMessage(msg model.Message) (bool, error)
}

// threadResolver assigns email messages to threads; satisfied by
// *threading.Engine. The second return is the message id the assignment was
// recorded under.
type threadResolver interface {
	Resolve(in threading.Input) (threadID, messageID string, err error)
}

// Normalizer holds the dependencies shared across every Normalize call.
type Normalizer struct {
	store     store
	threading threadResolver
}

// New wires a store and an email threading engine into a Normalizer.
func New(s store, t threadResolver) *Normalizer {
	return &Normalizer{store: s, threading: t}
}

// Result is what one successful Normalize call produced.
type Result struct {
	Message  model.Message
	Inserted bool // false when this content-address was already stored
}

// Normalize converts p into a Message, resolving (and creating if needed)
// its Account and Thread, then stores it. Re-normalizing the same payload
// is idempotent: InsertMessage only merges tags and advances imported_at.
func (n *Normalizer) Normalize(p adapter.Payload) (Result, error) {
	defer recordIngest(string(p.Kind), time.Now())

	switch p.Kind {
	case adapter.PayloadSignal:
		return n.normalizeSignal(p.Signal)
	case adapter.PayloadWhatsApp:
		return n.normalizeWhatsApp(p.WhatsApp)
	case adapter.PayloadDiscord:
		return n.normalizeDiscord(p.Discord)
	case adapter.PayloadTelegram:
		return n.normalizeTelegram(p.Telegram)
	case adapter.PayloadEmail:
		return n.normalizeEmail(p.Email)
	default:
		return Result{}, fmt.Errorf("%w: unknown payload kind %q", errs.ErrNormalization, p.Kind)
	}
}

// AccountID derives the canonical account id for a (platform, handle) pair,
// normalizing phone-number-shaped handles by stripping '+', whitespace, and
// dashes so the same number observed in different formats resolves to one
// account.
func AccountID(platform, handle string) string {
	return platform + "_" + NormalizeHandle(handle)
}

// NormalizeHandle strips '+', whitespace, and dashes from handle. Non-phone
// handles (usernames, emails) pass through unchanged aside from that
// stripping, which is a no-op for them in practice.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.ReplaceAll(h, "+", "")
	h = strings.ReplaceAll(h, "-", "")
	h = strings.ReplaceAll(h, " ", "")
	return h
}

func (n *Normalizer) resolveAccount(platform, handle, name string) (string, error) {
	id := AccountID(platform, handle)
	acct := model.Account{
		ID:   id,
		Name: name,
		Identities: []model.Identity{
			{Platform: platform, Handle: handle},
		},
	}
	if err := n.store.UpsertAccount(acct); err != nil {
		return "", fmt.Errorf("%w: resolving account %s: %v", errs.ErrNormalization, id, err)
	}
	return id, nil
}

func (n *Normalizer) resolveChatThread(id string, seed model.Thread) (string, error) {
	th, _, err := n.store.GetOrCreateThread(id, seed)
	if err != nil {
		return "", fmt.Errorf("%w: resolving thread %s: %v", errs.ErrNormalization, id, err)
	}
	return th.ID, nil
}

func (n *Normalizer) insert(msg model.Message) (Result, error) {
	inserted, err := n.store.InsertMessage(msg)
	if err != nil {
		return Result{}, fmt.Errorf("%w: storing message %s: %v", errs.ErrStorage, msg.ID, err)
	}
	return Result{Message: msg, Inserted: inserted}, nil
}

func (n *Normalizer) normalizeSignal(p *adapter.SignalPayload) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: nil signal payload", errs.ErrNormalization)
	}
	accountID, err := n.resolveAccount("signal", p.SourceNumber, p.SourceName)
	if err != nil {
		return Result{}, err
	}

	var threadID, roomID string
	if p.GroupIDBase64 != "" {
		threadID = "signal_group_" + p.GroupIDBase64
		roomID = p.GroupIDBase64
		if _, err := n.resolveChatThread(threadID, model.Thread{
			Type:      model.ThreadGroup,
			Source:    model.Source{Platform: "signal", PlatformID: p.GroupIDBase64},
			CreatedAt: p.Timestamp,
		}); err != nil {
			return Result{}, err
		}
	} else {
		threadID = "signal_dm_" + NormalizeHandle(p.SourceNumber)
		if _, err := n.resolveChatThread(threadID, model.Thread{
			Type:         model.ThreadDM,
			Participants: []string{accountID},
			Source:       model.Source{Platform: "signal"},
			CreatedAt:    p.Timestamp,
		}); err != nil {
			return Result{}, err
		}
	}

	now := time.Now().UnixMilli()
	msg := model.Message{
		ID:         idgen.ContentHash(int(model.KindSignal), p.SourceNumber, p.Timestamp, p.Message, "signal", p.GroupIDBase64),
		AccountID:  accountID,
		Author:     model.Author{Name: p.SourceName, Handle: p.SourceNumber},
		CreatedAt:  p.Timestamp,
		ImportedAt: now,
		Kind:       model.KindSignal,
		Content:    p.Message,
		Refs:       model.Refs{ThreadID: threadID, RoomID: roomID},
		Source:     model.Source{Platform: "signal", PlatformID: p.GroupIDBase64},
	}
	return n.insert(msg)
}

func (n *Normalizer) normalizeWhatsApp(p *adapter.WhatsAppPayload) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: nil whatsapp payload", errs.ErrNormalization)
	}
	accountID, err := n.resolveAccount("whatsapp", p.FromJID, p.PushName)
	if err != nil {
		return Result{}, err
	}

	threadType := model.ThreadDM
	if p.IsGroupChat {
		threadType = model.ThreadGroup
	}
	threadID := "whatsapp_" + NormalizeHandle(p.ChatJID)
	if _, err := n.resolveChatThread(threadID, model.Thread{
		Type:      threadType,
		Source:    model.Source{Platform: "whatsapp", PlatformID: p.ChatJID},
		CreatedAt: p.Timestamp,
	}); err != nil {
		return Result{}, err
	}

	now := time.Now().UnixMilli()
	msg := model.Message{
		ID:         idgen.ContentHash(int(model.KindWhatsApp), p.FromJID, p.Timestamp, p.Body, "whatsapp", p.ChatJID),
		AccountID:  accountID,
		Author:     model.Author{Name: p.PushName, Handle: p.FromJID},
		CreatedAt:  p.Timestamp,
		ImportedAt: now,
		Kind:       model.KindWhatsApp,
		Content:    p.Body,
		Refs:       model.Refs{ThreadID: threadID, RoomID: p.ChatJID},
		Source:     model.Source{Platform: "whatsapp", PlatformID: p.ChatJID},
	}
	return n.insert(msg)
}

func (n *Normalizer) normalizeDiscord(p *adapter.DiscordPayload) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: nil discord payload", errs.ErrNormalization)
	}
	accountID, err := n.resolveAccount("discord", p.AuthorID, p.AuthorName)
	if err != nil {
		return Result{}, err
	}

	threadID := "discord_" + p.ChannelID
	if _, err := n.resolveChatThread(threadID, model.Thread{
		Type:      model.ThreadChannel,
		Source:    model.Source{Platform: "discord", PlatformID: p.GuildID},
		CreatedAt: p.TimestampMs,
	}); err != nil {
		return Result{}, err
	}

	msg := model.Message{
		ID:         idgen.ContentHash(int(model.KindDiscord), p.AuthorID, p.TimestampMs, p.Content, "discord", p.ChannelID),
		AccountID:  accountID,
		Author:     model.Author{Name: p.AuthorName, Handle: p.AuthorID},
		CreatedAt:  p.TimestampMs,
		ImportedAt: time.Now().UnixMilli(),
		Kind:       model.KindDiscord,
		Content:    p.Content,
		Refs:       model.Refs{ThreadID: threadID, RoomID: p.ChannelID},
		Source:     model.Source{Platform: "discord", PlatformID: p.ChannelID},
	}
	return n.insert(msg)
}

func (n *Normalizer) normalizeTelegram(p *adapter.TelegramPayload) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: nil telegram payload", errs.ErrNormalization)
	}
	fromHandle := strconv.FormatInt(p.FromID, 10)
	accountID, err := n.resolveAccount("telegram", fromHandle, p.FromName)
	if err != nil {
		return Result{}, err
	}

	chatIDStr := strconv.FormatInt(p.ChatID, 10)
	threadType := model.ThreadDM
	switch p.ChatType {
	case "group", "supergroup":
		threadType = model.ThreadGroup
	case "channel":
		threadType = model.ThreadChannel
	}

	threadID := "telegram_" + chatIDStr
	createdAtMs := p.Date * 1000
	if _, err := n.resolveChatThread(threadID, model.Thread{
		Type:      threadType,
		Source:    model.Source{Platform: "telegram", PlatformID: chatIDStr},
		CreatedAt: createdAtMs,
	}); err != nil {
		return Result{}, err
	}

	msg := model.Message{
		ID:         idgen.ContentHash(int(model.KindTelegram), fromHandle, createdAtMs, p.Text, "telegram", chatIDStr),
		AccountID:  accountID,
		Author:     model.Author{Name: p.FromName, Handle: fromHandle},
		CreatedAt:  createdAtMs,
		ImportedAt: time.Now().UnixMilli(),
		Kind:       model.KindTelegram,
		Content:    p.Text,
		Refs:       model.Refs{ThreadID: threadID, RoomID: chatIDStr},
		Source:     model.Source{Platform: "telegram", PlatformID: chatIDStr},
	}
	return n.insert(msg)
}

func (n *Normalizer) normalizeEmail(p *adapter.EmailPayload) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: nil email payload", errs.ErrNormalization)
	}
	accountID, err := n.resolveAccount("email", p.From, p.From)
	if err != nil {
		return Result{}, err
	}

	// An absent Message-ID header is substituted deterministically from the
	// message's own date and content, so redelivering the same id-less
	// message re-derives the same id and deduplicates by content-address.
	messageID := p.MessageID
	if messageID == "" {
		messageID = threading.DeriveMessageID(p.DateUnixMs, p.From+"\x1f"+p.Body)
	}

	participants := append([]string{p.From}, p.To...)
	threadID, messageID, err := n.threading.Resolve(threading.Input{
		MessageID:    messageID,
		InReplyTo:    p.InReplyTo,
		References:   p.References,
		Subject:      p.Subject,
		Participants: participants,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: email threading: %v", errs.ErrNormalization, err)
	}

	if _, _, err := n.store.GetOrCreateThread(threadID, model.Thread{
		Title:        p.Subject,
		Participants: participants,
		Type:         model.ThreadTopic,
		Source:       model.Source{Platform: "email"},
		CreatedAt:    p.DateUnixMs,
	}); err != nil {
		return Result{}, fmt.Errorf("%w: resolving email thread %s: %v", errs.ErrNormalization, threadID, err)
	}

	msg := model.Message{
		ID:         idgen.ContentHash(int(model.KindEmail), p.From, p.DateUnixMs, p.Body, "email", messageID),
		AccountID:  accountID,
		Author:     model.Author{Name: p.From, Handle: p.From},
		CreatedAt:  p.DateUnixMs,
		ImportedAt: time.Now().UnixMilli(),
		Kind:       model.KindEmail,
		Content:    p.Body,
		Title:      p.Subject,
		Refs:       model.Refs{ThreadID: threadID},
		Source:     model.Source{Platform: "email", PlatformID: messageID, URL: p.MailboxURL},
	}
	return n.insert(msg)
}

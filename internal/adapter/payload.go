package adapter

// PayloadKind discriminates Payload's platform variant.
type PayloadKind string

const (
	PayloadSignal   PayloadKind = "signal"
	PayloadWhatsApp PayloadKind = "whatsapp"
	PayloadDiscord  PayloadKind = "discord"
	PayloadTelegram PayloadKind = "telegram"
	PayloadEmail    PayloadKind = "email"
)

// Payload is the tagged union of per-platform message shapes an adapter
// hands to the normalizer. Exactly the field matching Kind is populated;
// the normalizer switches on Kind, never on which field is non-zero.
type Payload struct {
	Kind PayloadKind

	Signal   *SignalPayload   `json:"signal,omitempty"`
	WhatsApp *WhatsAppPayload `json:"whatsapp,omitempty"`
	Discord  *DiscordPayload  `json:"discord,omitempty"`
	Telegram *TelegramPayload `json:"telegram,omitempty"`
	Email    *EmailPayload    `json:"email,omitempty"`
}

// SignalPayload mirrors one signal-cli JSON-RPC "receive" envelope's
// relevant fields. GroupIDBase64 is the canonical lookup key; GroupIDHex is
// carried only for human debugging and must never be used for thread
// resolution.
type SignalPayload struct {
	Timestamp     int64
	SourceNumber  string
	SourceName    string
	Message       string
	GroupIDBase64 string
	GroupIDHex    string
}

// WhatsAppPayload mirrors one event-callback message notification.
type WhatsAppPayload struct {
	Timestamp   int64
	FromJID     string
	PushName    string
	Body        string
	ChatJID     string
	IsGroupChat bool
}

// DiscordPayload mirrors the relevant fields of one channel message as
// returned by Discord's REST channel-messages endpoint.
type DiscordPayload struct {
	TimestampMs int64
	AuthorID    string
	AuthorName  string
	Content     string
	ChannelID   string
	GuildID     string
}

// TelegramPayload mirrors one long-poll getUpdates message update.
type TelegramPayload struct {
	Date     int64 // unix seconds per the Bot API
	FromID   int64
	FromName string
	Text     string
	ChatID   int64
	ChatType string // "private", "group", "supergroup", "channel"
}

// EmailPayload mirrors one fetched RFC-822 message's threading-relevant
// headers plus body, after IMAP fetch.
type EmailPayload struct {
	MessageID  string
	InReplyTo  string
	References []string // oldest first
	Subject    string
	From       string
	To         []string
	DateUnixMs int64
	Body       string
	MailboxURL string
}

package channel

import (
	"errors"
	"slices"
	"strings"
)

var (
	ErrUnsupportedOperation = errors.New("channel operation is not supported")

	// ErrChatNotFound means the recipient address does not exist on the provider.
	ErrChatNotFound = errors.New("chat not found")
	// ErrBlocked means the recipient has blocked or removed the bot.
	ErrBlocked = errors.New("recipient blocked the bot")
	// ErrNotConfigured means no enabled channel serves the requested type.
	ErrNotConfigured = errors.New("channel not configured")
)

type Type string

const (
	Telegram Type = "telegram"

	Email Type = "email"

	WhatsApp Type = "whatsapp"
)

var SupportedChannels = []Type{
	Telegram,
	Email,
	WhatsApp,
}

// ParseType normalizes a configured channel type.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	return t, slices.Contains(SupportedChannels, t)
}

// Message is an outbound notification. Content is markdown; providers
// render it in their native format. Subject is used where the provider has
// one (email) and ignored elsewhere.
type Message struct {
	Subject string
	Content string
}

// Inbound is a normalized message received from a provider.
type Inbound struct {
	ID          string
	ChannelID   string
	ChannelType Type
	UserID      string
	ChatID      string
	Content     string
	Metadata    map[string]string
}

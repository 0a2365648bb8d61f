package models

import (
	"strconv"
	"strings"
	"time"
)

// Credential statuses
const (
	CredentialStatusActive      = "active"
	CredentialStatusNeedsReauth = "needs-reauth"
	CredentialStatusBlocked     = "blocked"
)

// TelegramCredential holds a tenant's MTProto session. Session is encrypted
// at rest; the store decrypts it on read. Never serialized to API responses.
type TelegramCredential struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Phone     string    `json:"phone"`
	Session   string    `json:"-"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Channel represents a globally tracked source channel. One row per channel
// regardless of how many tenants subscribe to it.
type Channel struct {
	ID                    string     `json:"id"`
	TgID                  int64      `json:"tg_id"`
	Username              *string    `json:"username,omitempty"`
	Title                 string     `json:"title"`
	ChannelType           string     `json:"channel_type"`
	LastExternalMessageID *int64     `json:"last_external_message_id,omitempty"`
	LastCollectedAt       *time.Time `json:"last_collected_at,omitempty"`
	IsActive              bool       `json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
}

// ChannelSubscription links a tenant to a channel through the credential used
// to read it. Unique per (tenant, channel).
type ChannelSubscription struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	ChannelID    string    `json:"channel_id"`
	CredentialID string    `json:"credential_id"`
	IsActive     bool      `json:"is_active"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is a collected channel message, deduplicated globally on
// (channel, tg_message_id).
type Message struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id"`
	TgMessageID    int64     `json:"tg_message_id"`
	Text           string    `json:"text"`
	AuthorTgID     *int64    `json:"author_tg_id,omitempty"`
	AuthorUsername *string   `json:"author_username,omitempty"`
	MediaType      *string   `json:"media_type,omitempty"`
	SentAt         time.Time `json:"sent_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageLink returns the t.me deep link for a message in this channel:
// the public form for channels with a username, the /c/ form otherwise.
// Private-channel ids carry a -100 prefix on the wire that the /c/ form drops.
func (c Channel) MessageLink(tgMessageID int64) string {
	msgID := strconv.FormatInt(tgMessageID, 10)
	if c.Username != nil && *c.Username != "" {
		return "https://t.me/" + *c.Username + "/" + msgID
	}
	internal := strconv.FormatInt(c.TgID, 10)
	internal = strings.TrimPrefix(internal, "-100")
	internal = strings.TrimPrefix(internal, "-")
	return "https://t.me/c/" + internal + "/" + msgID
}

// Package bot sends messages through the Telegram Bot API. Exactly one
// process holds the bot token; everything else reaches it over the internal
// HTTP endpoint.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

func LoadConfig() Config {
	return Config{
		Token:   config.GetEnv("BOT_TOKEN", ""),
		APIURL:  config.GetEnv("BOT_API_URL", "https://api.telegram.org"),
		Timeout: config.GetEnvDuration("BOT_TIMEOUT_SECONDS", time.Second, 10*time.Second),
	}
}

type Bot struct {
	client *http.Client
	apiURL string
	token  string
}

func New(cfg Config) *Bot {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bot{
		client: &http.Client{Timeout: timeout},
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.Token,
	}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage delivers HTML-formatted text to a chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("bot: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", b.apiURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("bot: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bot: request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("bot: unexpected response %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if !parsed.OK {
		return fmt.Errorf("bot: api error: %s", parsed.Description)
	}
	return nil
}

// SendLeadNotification renders a lead push and delivers it.
func (b *Bot) SendLeadNotification(ctx context.Context, push models.BotPushRequest) error {
	return b.SendMessage(ctx, push.ChatID, renderLeadMessage(push))
}

func renderLeadMessage(push models.BotPushRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎯 <b>New lead: %s</b>\n", html.EscapeString(push.RuleName))
	fmt.Fprintf(&sb, "Source: %s\n", html.EscapeString(push.SourceTitle))
	fmt.Fprintf(&sb, "Score: %.2f\n\n", push.Score)
	if push.MessagePreview != "" {
		fmt.Fprintf(&sb, "%s\n\n", html.EscapeString(push.MessagePreview))
	}
	if push.MessageLink != "" {
		fmt.Fprintf(&sb, "<a href=\"%s\">Original message</a> · ", push.MessageLink)
	}
	fmt.Fprintf(&sb, "<a href=\"%s\">Open lead</a>", push.LeadURL)
	return sb.String()
}

// Package botpush is the worker-side client for the bot gateway's internal
// notification endpoint. The bot session lives in the gateway process; this
// hop is how the worker reaches it. Single attempt, no retries: the notifier
// absorbs failures.
package botpush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

type Config struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
}

func LoadConfig() Config {
	return Config{
		BaseURL:      config.GetEnv("BACKEND_INTERNAL_URL", "http://localhost:8080"),
		ServiceToken: config.GetEnv("INTERNAL_SERVICE_TOKEN", ""),
		Timeout:      config.GetEnvDuration("BOT_PUSH_TIMEOUT_SECONDS", time.Second, 10*time.Second),
	}
}

type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.ServiceToken,
	}
}

// Push forwards one lead notification to the bot gateway.
func (c *Client) Push(ctx context.Context, pushReq models.BotPushRequest) error {
	payload, err := json.Marshal(pushReq)
	if err != nil {
		return fmt.Errorf("botpush: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/telegram/send-notification", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("botpush: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("botpush: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("botpush: gateway returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

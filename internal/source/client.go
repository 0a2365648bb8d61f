// Package source reads messages from the Telegram MTProto gateway. The
// gateway holds the platform connection server-side and speaks JSON; this
// client is stateless across calls and passes the decrypted session blob on
// every request.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/trofimovm/telegram-lead-monitor/pkg/clients"
	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
)

// Permanent failures. Everything else coming out of the gateway is treated as
// transient: the caller skips the channel and retries next tick.
var (
	ErrAuthRevoked = errors.New("source: credential authorization revoked")
	ErrChannelGone = errors.New("source: channel gone or inaccessible")
)

type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	Timeout   time.Duration
}

func LoadConfig() Config {
	return Config{
		BaseURL:   config.GetEnv("CHAT_PLATFORM_GATEWAY_URL", "http://localhost:8090"),
		AppID:     config.GetEnv("CHAT_PLATFORM_APP_ID", ""),
		AppSecret: config.GetEnv("CHAT_PLATFORM_APP_SECRET", ""),
		Timeout:   config.GetEnvDuration("CHAT_PLATFORM_TIMEOUT_SECONDS", time.Second, 30*time.Second),
	}
}

type Client struct {
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
	baseURL  string
	appID    string
	secret   string
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCfg := clients.DefaultHTTPExecutorConfig()
	execCfg.WithBreaker = true
	return &Client{
		client:   &http.Client{Timeout: timeout},
		executor: clients.NewHTTPExecutor(execCfg),
		logger:   logger,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		appID:    cfg.AppID,
		secret:   cfg.AppSecret,
	}
}

// Message is one platform message as returned by the gateway.
type Message struct {
	ID             int64     `json:"id"`
	Text           string    `json:"text"`
	AuthorTgID     *int64    `json:"author_tg_id,omitempty"`
	AuthorUsername *string   `json:"author_username,omitempty"`
	MediaType      *string   `json:"media_type,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Dialog is a channel/group/chat visible to a credential.
type Dialog struct {
	TgID     int64   `json:"tg_id"`
	Title    string  `json:"title"`
	Username *string `json:"username,omitempty"`
	Kind     string  `json:"kind"` // broadcast, group, chat
}

// FetchNew returns messages from the channel with external id strictly
// greater than minExternalID, newest first, bounded by limit.
func (c *Client) FetchNew(ctx context.Context, channelTgID int64, session string, limit int, minExternalID int64) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.post(ctx, "/v1/messages/fetch", map[string]interface{}{
		"channel_tg_id": channelTgID,
		"session":       session,
		"limit":         limit,
		"offset_id":     minExternalID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ListDialogs returns the dialogs visible to the session. Used by the
// subscription path, not by the collection loop.
func (c *Client) ListDialogs(ctx context.Context, session string, limit int) ([]Dialog, error) {
	var out struct {
		Dialogs []Dialog `json:"dialogs"`
	}
	err := c.post(ctx, "/v1/dialogs/list", map[string]interface{}{
		"session": session,
		"limit":   limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Dialogs, nil
}

// StartAuth begins the login handshake for a phone number and returns an
// opaque handshake token to pass to ConfirmAuth together with the code.
func (c *Client) StartAuth(ctx context.Context, phone string) (string, error) {
	var out struct {
		Handshake string `json:"handshake"`
	}
	err := c.post(ctx, "/v1/auth/start", map[string]interface{}{
		"phone": phone,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Handshake, nil
}

// ConfirmAuth completes the handshake and returns the session blob. The
// caller encrypts and persists it.
func (c *Client) ConfirmAuth(ctx context.Context, phone, code, handshake string) (string, error) {
	var out struct {
		Session string `json:"session"`
	}
	err := c.post(ctx, "/v1/auth/confirm", map[string]interface{}{
		"phone":     phone,
		"code":      code,
		"handshake": handshake,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Session, nil
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("source: marshal request: %w", err)
	}

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("source: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-App-ID", c.appID)
		req.Header.Set("X-App-Secret", c.secret)
		resp, err := c.client.Do(req)
		if clients.DefaultShouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("source: gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.mapError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("source: decode response: %w", err)
	}
	return nil
}

// mapError classifies gateway failures. The gateway mirrors MTProto error
// strings; AUTH_* means the session is dead, CHANNEL_*/USERNAME_* means the
// channel itself is unreachable.
func (c *Client) mapError(resp *http.Response) error {
	var gw struct {
		Error gatewayError `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &gw)

	code := gw.Error.Code
	switch {
	case strings.HasPrefix(code, "AUTH_") || strings.HasPrefix(code, "SESSION_"):
		return fmt.Errorf("%w: %s", ErrAuthRevoked, code)
	case strings.HasPrefix(code, "CHANNEL_") || strings.HasPrefix(code, "USERNAME_") || code == "PEER_ID_INVALID":
		return fmt.Errorf("%w: %s", ErrChannelGone, code)
	}
	if gw.Error.Message != "" {
		return fmt.Errorf("source: gateway error %s: %s", resp.Status, gw.Error.Message)
	}
	return fmt.Errorf("source: gateway error %s: %s", resp.Status, strings.TrimSpace(string(raw)))
}

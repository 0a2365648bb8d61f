// Package llm talks to an OpenAI-compatible chat-completion endpoint and
// exposes the three operations the pipeline needs: Classify, Extract and
// Summarize. Responses are cached in-process; the cache is a cost
// optimization only and is lost on restart.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/trofimovm/telegram-lead-monitor/pkg/cache"
	"github.com/trofimovm/telegram-lead-monitor/pkg/clients"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
)

const classifySystemPrompt = `You are an assistant that analyzes chat messages.
Your task is to decide whether a message matches the given criterion.

IMPORTANT: Respond ONLY with a JSON object, no extra text:
{
    "is_match": true/false,
    "confidence": 0.0-1.0,
    "reasoning": "short explanation (1-2 sentences)"
}`

const extractSystemPrompt = `You are an assistant that extracts structured data from text.
Extract the following from the message:
- Contacts (email, phone, messenger handle)
- Keywords and key phrases
- Budget (if mentioned)
- Deadline (if mentioned)
- A short summary (2-3 sentences)

IMPORTANT: Respond ONLY with a JSON object, no extra text:
{
    "contacts": ["contact1", "contact2"],
    "keywords": ["keyword1", "keyword2"],
    "budget": "string or null",
    "deadline": "string or null",
    "summary": "short summary"
}`

type Client struct {
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	cache    *cache.Cache
	logger   logging.Logger
	apiURL   string
	apiKey   string
	model    string
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		client:   &http.Client{Timeout: timeout},
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		cache:    cache.New(cache.Options{TTL: ttl, MaxEntries: cfg.CacheSize}),
		logger:   logger,
		apiURL:   apiURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}
}

// Classify decides whether messageText matches rulePrompt. Transport failures
// after retries surface as errors; malformed model output degrades to the
// conservative no-match verdict and never errors.
func (c *Client) Classify(ctx context.Context, messageText, rulePrompt string) (Classification, error) {
	key := classifyCacheKey(rulePrompt, messageText)
	result, _, err := c.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		verdict, err := c.classify(ctx, messageText, rulePrompt)
		if err != nil {
			return nil, false, err
		}
		return verdict, true, nil
	})
	if err != nil {
		return Classification{}, err
	}
	return result.(Classification), nil
}

func (c *Client) classify(ctx context.Context, messageText, rulePrompt string) (Classification, error) {
	userPrompt := fmt.Sprintf("Search criterion:\n%s\n\nMessage to analyze:\n%s\n\nDoes the message match the criterion? Answer in JSON.",
		rulePrompt, messageText)

	content, err := c.complete(ctx, classifySystemPrompt, userPrompt, 0.2, 300)
	if err != nil {
		return Classification{}, err
	}

	var verdict Classification
	if err := json.Unmarshal(extractJSON(content), &verdict); err != nil {
		c.logger.WithError(err).WithField("raw", Truncate(content, 200)).Warn("Failed to parse classification response")
		return Classification{Reasoning: "parse error: model returned malformed JSON"}, nil
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return verdict, nil
}

// Extract pulls structured entities out of messageText. Both transport and
// parse failures degrade to FallbackEntities; Extract never fails the caller.
func (c *Client) Extract(ctx context.Context, messageText string) Entities {
	key := "extract:" + shortHash(messageText)
	result, _, err := c.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		userPrompt := fmt.Sprintf("Message to analyze:\n%s\n\nExtract the structured data in JSON format.", messageText)
		content, err := c.complete(ctx, extractSystemPrompt, userPrompt, 0.1, 500)
		if err != nil {
			return nil, false, err
		}
		var entities Entities
		if err := json.Unmarshal(extractJSON(content), &entities); err != nil {
			return nil, false, fmt.Errorf("parse extraction response: %w", err)
		}
		return entities, true, nil
	})
	if err != nil {
		c.logger.WithError(err).Warn("Entity extraction failed, falling back to truncated text")
		return FallbackEntities(messageText)
	}
	entities := result.(Entities)
	if entities.Contacts == nil {
		entities.Contacts = []string{}
	}
	if entities.Keywords == nil {
		entities.Keywords = []string{}
	}
	if entities.Summary == "" {
		entities.Summary = Truncate(messageText, 200)
	}
	return entities
}

// Summarize produces a short human-readable description of messageText,
// bounded to maxLen characters.
func (c *Client) Summarize(ctx context.Context, messageText string, maxLen int) (string, error) {
	key := fmt.Sprintf("summary:%d:%s", maxLen, shortHash(messageText))
	result, _, err := c.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		systemPrompt := fmt.Sprintf(`You are an assistant that writes short message summaries.
Write a summary (1-2 sentences, at most %d characters) capturing the essence of the message.
Respond with the summary text only, no extra commentary.`, maxLen)
		userPrompt := fmt.Sprintf("Message:\n%s\n\nSummary:", messageText)
		content, err := c.complete(ctx, systemPrompt, userPrompt, 0.3, 100)
		if err != nil {
			return nil, false, err
		}
		return Truncate(strings.TrimSpace(content), maxLen), true, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// InvalidateRulePrompt drops every cached classification made with the given
// prompt. Call when a rule's prompt changes so stale verdicts do not leak
// into the reanalysis pass.
func (c *Client) InvalidateRulePrompt(rulePrompt string) int {
	return c.cache.DeletePrefix("classify:" + shortHash(rulePrompt) + ":")
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	if c.model == "" {
		return "", errors.New("llm: model is required")
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v1/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("llm: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(req)
		if clients.DefaultShouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("llm: empty choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// extractJSON strips markdown code fences some models wrap around JSON output.
func extractJSON(content string) []byte {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return []byte(content)
}

func classifyCacheKey(rulePrompt, messageText string) string {
	return "classify:" + shortHash(rulePrompt) + ":" + shortHash(messageText)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

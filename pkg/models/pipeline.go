package models

import (
	"time"
)

// CollectStats summarizes one collection pass over the global channels.
type CollectStats struct {
	ChannelsPolled  int `json:"channels_polled"`
	ChannelsSkipped int `json:"channels_skipped"`
	ChannelsFailed  int `json:"channels_failed"`
	MessagesFetched int `json:"messages_fetched"`
	MessagesStored  int `json:"messages_stored"`
}

// AnalyzeStats summarizes one analysis pass over active rules.
type AnalyzeStats struct {
	TenantsProcessed int      `json:"tenants_processed"`
	RulesProcessed   int      `json:"rules_processed"`
	RulesFailed      int      `json:"rules_failed"`
	MessagesAnalyzed int      `json:"messages_analyzed"`
	LeadsCreated     int      `json:"leads_created"`
	LeadsExisting    int      `json:"leads_existing"`
	LeadIDs          []string `json:"lead_ids,omitempty"`
}

// TickResult aggregates the outcome of one full pipeline run.
type TickResult struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Trigger    string       `json:"trigger"` // "schedule" or "manual"
	Collect    CollectStats `json:"collect"`
	Analyze    AnalyzeStats `json:"analyze"`
	Errors     []string     `json:"errors,omitempty"`
}

// Duration returns how long the run took.
func (r TickResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BotPushRequest is the payload the worker posts to the bot gateway's
// internal notification endpoint.
type BotPushRequest struct {
	ChatID         int64   `json:"chat_id" binding:"required"`
	LeadID         string  `json:"lead_id" binding:"required"`
	RuleName       string  `json:"rule_name"`
	SourceTitle    string  `json:"source_title"`
	MessagePreview string  `json:"message_preview"`
	LeadURL        string  `json:"lead_url"`
	Score          float64 `json:"score"`
	MessageLink    string  `json:"message_link,omitempty"`
}

// BotPushResponse is the bot gateway's reply to a successful push.
type BotPushResponse struct {
	Status string `json:"status"`
	ChatID int64  `json:"chat_id"`
	LeadID string `json:"lead_id"`
}

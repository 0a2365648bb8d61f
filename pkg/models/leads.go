package models

import (
	"encoding/json"
	"time"
)

// Lead statuses
const (
	LeadStatusNew        = "new"
	LeadStatusInProgress = "in_progress"
	LeadStatusProcessed  = "processed"
	LeadStatusArchived   = "archived"
)

// Notification types
const (
	NotificationLeadCreated       = "lead_created"
	NotificationLeadStatusChanged = "lead_status_changed"
	NotificationLeadAssigned      = "lead_assigned"
	NotificationSystem            = "system"
)

// Rule is a tenant's monitoring rule: a natural-language prompt evaluated
// against new messages, with a score threshold for lead creation.
type Rule struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Prompt      string    `json:"prompt"`
	Threshold   float64   `json:"threshold"`
	ChannelIDs  []string  `json:"channel_ids,omitempty"` // nil = all subscribed channels
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RuleProgress is the per-(rule, channel) analysis cursor plus run counters.
type RuleProgress struct {
	ID                    string     `json:"id"`
	RuleID                string     `json:"rule_id"`
	ChannelID             string     `json:"channel_id"`
	LastAnalyzedMessageID *string    `json:"last_analyzed_message_id,omitempty"`
	LastAnalyzedAt        *time.Time `json:"last_analyzed_at,omitempty"`
	MessagesAnalyzed      int        `json:"messages_analyzed"`
	LeadsCreated          int        `json:"leads_created"`
}

// Lead is a matched message for one tenant's rule. Unique per
// (tenant, message, rule).
type Lead struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	GlobalMessageID   string          `json:"global_message_id"`
	RuleID            string          `json:"rule_id"`
	Score             float64         `json:"score"`
	Reasoning         string          `json:"reasoning,omitempty"`
	ExtractedEntities json.RawMessage `json:"extracted_entities,omitempty"`
	Status            string          `json:"status"`
	AssigneeID        *string         `json:"assignee_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Notification is an in-app notification row addressed to a single user.
type Notification struct {
	ID              string     `json:"id"`
	RecipientUserID string     `json:"recipient_user_id"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Message         string     `json:"message"`
	RelatedLeadID   *string    `json:"related_lead_id,omitempty"`
	IsRead          bool       `json:"is_read"`
	ReadAt          *time.Time `json:"read_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

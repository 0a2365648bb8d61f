package models

import (
	"time"
)

// Tenant represents a customer account
type Tenant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Plan      string     `json:"plan"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// User represents a user (tenant-scoped)
type User struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	PasswordHash   string    `json:"-"` // Never serialize password
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	NotificationPreferences
}

// NotificationPreferences controls which delivery channels and event types a
// user receives. All toggles must pass for a given delivery to happen.
type NotificationPreferences struct {
	InAppEnabled             bool `json:"in_app_notifications_enabled"`
	EmailEnabled             bool `json:"email_notifications_enabled"`
	TelegramBotEnabled       bool `json:"telegram_bot_enabled"`
	NotifyOnNewLead          bool `json:"notify_on_new_lead"`
	NotifyOnLeadStatusChange bool `json:"notify_on_lead_status_change"`
	NotifyOnLeadAssignment   bool `json:"notify_on_lead_assignment"`
}

// Package notifier fans lead events out to in-app rows, email and bot push,
// gated by per-user preferences. Every send failure is logged and absorbed:
// duplicates are preferable to drops, and the lead unique key bounds them.
package notifier

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/llm"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
	"github.com/trofimovm/telegram-lead-monitor/pkg/monitoring"
)

const previewMaxLen = 200

// Store is the slice of the persistence layer the notifier needs.
type Store interface {
	ListUsersForTenant(ctx context.Context, tenantID string) ([]models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// EmailSender delivers one message. Best-effort: any retry is the SMTP
// client's business, not the notifier's.
type EmailSender interface {
	SendMail(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// BotPusher forwards a push to the process that owns the bot session.
type BotPusher interface {
	Push(ctx context.Context, req models.BotPushRequest) error
}

// Summarizer shortens long message text for push previews. Optional.
type Summarizer interface {
	Summarize(ctx context.Context, messageText string, maxLen int) (string, error)
}

type Config struct {
	FrontendURL string
}

func LoadConfig() Config {
	return Config{
		FrontendURL: config.GetEnv("FRONTEND_URL", "http://localhost:3000"),
	}
}

// Metrics counts deliveries per channel. Optional; a nil Metrics disables
// recording.
type Metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	total, duration := mc.CreateNotificationMetrics()
	return &Metrics{total: total, duration: duration}
}

type Notifier struct {
	store      Store
	email      EmailSender
	bot        BotPusher
	summarizer Summarizer
	metrics    *Metrics
	logger     logging.Logger
	cfg        Config
}

func New(st Store, email EmailSender, bot BotPusher, summarizer Summarizer, cfg Config, metrics *Metrics, logger logging.Logger) *Notifier {
	return &Notifier{
		store:      st,
		email:      email,
		bot:        bot,
		summarizer: summarizer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// LeadCreated notifies every user of the lead's tenant, gated by the new-lead
// toggle plus the per-channel toggles.
func (n *Notifier) LeadCreated(ctx context.Context, lead models.Lead, rule models.Rule, channel models.Channel, message models.Message) {
	users, err := n.store.ListUsersForTenant(ctx, lead.TenantID)
	if err != nil {
		n.logger.WithError(err).WithField("tenant_id", lead.TenantID).Error("Failed to load users for notification")
		return
	}

	event := n.buildLeadCreatedEvent(ctx, lead, rule, channel, message)
	for _, user := range users {
		if !user.NotifyOnNewLead {
			continue
		}
		n.deliver(ctx, user, event)
	}
}

// LeadStatusChanged notifies the tenant's users that a lead moved between
// statuses.
func (n *Notifier) LeadStatusChanged(ctx context.Context, lead models.Lead, oldStatus, newStatus string) {
	users, err := n.store.ListUsersForTenant(ctx, lead.TenantID)
	if err != nil {
		n.logger.WithError(err).WithField("tenant_id", lead.TenantID).Error("Failed to load users for notification")
		return
	}

	event := deliveryEvent{
		kind:    models.NotificationLeadStatusChanged,
		leadID:  lead.ID,
		title:   "Lead status updated",
		body:    fmt.Sprintf("Lead moved from %s to %s.", oldStatus, newStatus),
		leadURL: n.leadURL(lead.ID),
	}
	for _, user := range users {
		if !user.NotifyOnLeadStatusChange {
			continue
		}
		n.deliver(ctx, user, event)
	}
}

// LeadAssigned notifies only the assignee.
func (n *Notifier) LeadAssigned(ctx context.Context, lead models.Lead, assigneeID string) {
	user, err := n.store.GetUser(ctx, assigneeID)
	if err != nil {
		n.logger.WithError(err).WithField("user_id", assigneeID).Error("Failed to load assignee for notification")
		return
	}
	if !user.NotifyOnLeadAssignment {
		return
	}

	event := deliveryEvent{
		kind:    models.NotificationLeadAssigned,
		leadID:  lead.ID,
		title:   "Lead assigned to you",
		body:    fmt.Sprintf("A lead with score %.2f was assigned to you.", lead.Score),
		leadURL: n.leadURL(lead.ID),
	}
	n.deliver(ctx, *user, event)
}

// deliveryEvent is one rendered notification, shared by all three channels.
type deliveryEvent struct {
	kind        string
	leadID      string
	title       string
	body        string
	leadURL     string
	messageLink string
	ruleName    string
	sourceTitle string
	score       float64
}

func (n *Notifier) buildLeadCreatedEvent(ctx context.Context, lead models.Lead, rule models.Rule, channel models.Channel, message models.Message) deliveryEvent {
	preview := n.preview(ctx, message.Text)
	return deliveryEvent{
		kind:        models.NotificationLeadCreated,
		leadID:      lead.ID,
		title:       fmt.Sprintf("New lead: %s", rule.Name),
		body:        fmt.Sprintf("Rule %q matched a message in %s (score %.2f): %s", rule.Name, channel.Title, lead.Score, preview),
		leadURL:     n.leadURL(lead.ID),
		messageLink: channel.MessageLink(message.TgMessageID),
		ruleName:    rule.Name,
		sourceTitle: channel.Title,
		score:       lead.Score,
	}
}

func (n *Notifier) deliver(ctx context.Context, user models.User, event deliveryEvent) {
	if user.InAppEnabled {
		leadID := event.leadID
		notification := &models.Notification{
			RecipientUserID: user.ID,
			Type:            event.kind,
			Title:           event.title,
			Message:         event.body,
			RelatedLeadID:   &leadID,
		}
		start := time.Now()
		err := n.store.InsertNotification(ctx, notification)
		n.observe("in_app", start, err)
		if err != nil {
			n.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to write in-app notification")
		}
	}

	if user.EmailEnabled && n.email != nil {
		textBody, htmlBody := renderEmail(event)
		start := time.Now()
		err := n.email.SendMail(ctx, user.Email, event.title, textBody, htmlBody)
		n.observe("email", start, err)
		if err != nil {
			n.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to send notification email")
		}
	}

	if user.TelegramBotEnabled && user.TelegramChatID != nil && n.bot != nil {
		req := models.BotPushRequest{
			ChatID:         *user.TelegramChatID,
			LeadID:         event.leadID,
			RuleName:       event.ruleName,
			SourceTitle:    event.sourceTitle,
			MessagePreview: event.body,
			LeadURL:        event.leadURL,
			Score:          event.score,
			MessageLink:    event.messageLink,
		}
		start := time.Now()
		err := n.bot.Push(ctx, req)
		n.observe("bot", start, err)
		if err != nil {
			n.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to push bot notification")
		}
	}
}

func (n *Notifier) observe(channel string, start time.Time, err error) {
	if n.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	n.metrics.total.WithLabelValues(channel, status).Inc()
	n.metrics.duration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
}

// preview shortens long message text, preferring an LM summary and falling
// back to plain truncation.
func (n *Notifier) preview(ctx context.Context, text string) string {
	if len([]rune(text)) <= previewMaxLen {
		return text
	}
	if n.summarizer != nil {
		summaryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if summary, err := n.summarizer.Summarize(summaryCtx, text, previewMaxLen); err == nil && summary != "" {
			return summary
		}
	}
	return llm.Truncate(text, previewMaxLen)
}

func (n *Notifier) leadURL(leadID string) string {
	return n.cfg.FrontendURL + "/leads/" + leadID
}

func renderEmail(event deliveryEvent) (textBody, htmlBody string) {
	textBody = fmt.Sprintf("%s\n\n%s\n\nOpen the lead: %s\n", event.title, event.body, event.leadURL)
	htmlBody = fmt.Sprintf(
		`<html><body><h2>%s</h2><p>%s</p><p><a href="%s">Open the lead</a></p></body></html>`,
		html.EscapeString(event.title), html.EscapeString(event.body), event.leadURL,
	)
	return textBody, htmlBody
}

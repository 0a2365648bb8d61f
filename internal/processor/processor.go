// Package processor implements the per-tenant analysis phase: for every
// (tenant, rule, channel) triple it streams unseen messages in send order,
// classifies them, materializes leads above the rule threshold and advances a
// durable cursor. The lead unique key and the cursor rules together make the
// whole phase idempotent and crash-safe.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trofimovm/telegram-lead-monitor/internal/store"
	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/llm"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// Defaults for the first-contact backfill window. Both are env tunables.
const (
	DefaultBackfillDays = 5
	DefaultBatchLimit   = 100
)

// Config bounds the per-(rule, channel) work per tick.
type Config struct {
	BackfillDays int
	BatchLimit   int
}

func LoadConfig() Config {
	return Config{
		BackfillDays: config.GetEnvInt("BACKFILL_DAYS", DefaultBackfillDays),
		BatchLimit:   config.GetEnvInt("BATCH_LIMIT", DefaultBatchLimit),
	}
}

// LLM is the slice of the language-model client the processor needs.
type LLM interface {
	Classify(ctx context.Context, messageText, rulePrompt string) (llm.Classification, error)
	Extract(ctx context.Context, messageText string) llm.Entities
}

// Notifier receives freshly created leads. Implementations must absorb their
// own failures; the processor does not retry notification dispatch.
type Notifier interface {
	LeadCreated(ctx context.Context, lead models.Lead, rule models.Rule, channel models.Channel, message models.Message)
}

// Store is the slice of the persistence layer the processor needs.
type Store interface {
	ListActiveTenants(ctx context.Context) ([]models.Tenant, error)
	ListActiveSubscriptionsForTenant(ctx context.Context, tenantID string) ([]models.ChannelSubscription, error)
	ListActiveRulesForTenant(ctx context.Context, tenantID string) ([]models.Rule, error)
	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)
	GetProgress(ctx context.Context, ruleID, channelID string) (*models.RuleProgress, error)
	AdvanceProgress(ctx context.Context, ruleID, channelID, messageID string, leadCreated bool) error
	ListMessagesAfterCursor(ctx context.Context, channelID, cursorMessageID string, limit int) ([]models.Message, error)
	ListMessagesSince(ctx context.Context, channelID string, since time.Time, limit int) ([]models.Message, error)
	LeadExists(ctx context.Context, tenantID, messageID, ruleID string) (bool, error)
	InsertLead(ctx context.Context, lead *models.Lead) error
}

type Processor struct {
	store    Store
	llm      LLM
	notifier Notifier
	logger   logging.Logger
	cfg      Config

	now func() time.Time
}

func New(st Store, lm LLM, notifier Notifier, cfg Config, logger logging.Logger) *Processor {
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = DefaultBackfillDays
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	return &Processor{
		store:    st,
		llm:      lm,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run walks every active tenant. Per-unit failures are aggregated, never
// fatal to the pass.
func (p *Processor) Run(ctx context.Context) (models.AnalyzeStats, []error) {
	var stats models.AnalyzeStats
	var errs []error

	tenants, err := p.store.ListActiveTenants(ctx)
	if err != nil {
		return stats, []error{fmt.Errorf("list tenants: %w", err)}
	}

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		tenantErrs := p.processTenant(ctx, tenant, &stats)
		errs = append(errs, tenantErrs...)
		stats.TenantsProcessed++
	}
	return stats, errs
}

func (p *Processor) processTenant(ctx context.Context, tenant models.Tenant, stats *models.AnalyzeStats) []error {
	var errs []error

	subs, err := p.store.ListActiveSubscriptionsForTenant(ctx, tenant.ID)
	if err != nil {
		return []error{fmt.Errorf("tenant %s: list subscriptions: %w", tenant.ID, err)}
	}
	if len(subs) == 0 {
		return nil
	}
	subscribed := make(map[string]bool, len(subs))
	for _, sub := range subs {
		subscribed[sub.ChannelID] = true
	}

	rules, err := p.store.ListActiveRulesForTenant(ctx, tenant.ID)
	if err != nil {
		return []error{fmt.Errorf("tenant %s: list rules: %w", tenant.ID, err)}
	}

	for _, rule := range rules {
		ruleFailed := false
		for _, channelID := range eligibleChannels(rule, subs, subscribed) {
			if err := p.processRuleChannel(ctx, tenant, rule, channelID, stats); err != nil {
				errs = append(errs, fmt.Errorf("rule %s channel %s: %w", rule.ID, channelID, err))
				ruleFailed = true
			}
		}
		if ruleFailed {
			stats.RulesFailed++
		} else {
			stats.RulesProcessed++
		}
	}
	return errs
}

// eligibleChannels intersects the rule's channel filter with the tenant's
// active subscriptions. Filtered channels the tenant no longer subscribes to
// are silently skipped; the filter is only validated on the rule write path.
func eligibleChannels(rule models.Rule, subs []models.ChannelSubscription, subscribed map[string]bool) []string {
	if len(rule.ChannelIDs) == 0 {
		channels := make([]string, 0, len(subs))
		for _, sub := range subs {
			channels = append(channels, sub.ChannelID)
		}
		return channels
	}
	var channels []string
	for _, id := range rule.ChannelIDs {
		if subscribed[id] {
			channels = append(channels, id)
		}
	}
	return channels
}

// stepOutcome is the result of analyzing one message. The cursor-advance rule
// is explicit here instead of being buried in error handling: advance means
// the message is settled and must never be revisited, retain means the
// message must be retried next tick, which also stops the stream so ordering
// is preserved.
type stepOutcome int

const (
	stepAdvance stepOutcome = iota
	stepAdvanceWithLead
	stepRetain
)

func (p *Processor) processRuleChannel(ctx context.Context, tenant models.Tenant, rule models.Rule, channelID string, stats *models.AnalyzeStats) error {
	channel, err := p.store.GetChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}

	window, err := p.unseenWindow(ctx, rule.ID, channelID)
	if err != nil {
		return err
	}

	for _, msg := range window {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome, leadID, stepErr := p.analyzeMessage(ctx, tenant, rule, *channel, msg, stats)
		if outcome == stepRetain {
			// Leave the cursor where it is; this message and everything
			// after it will be retried next tick.
			p.logger.WithError(stepErr).WithFields(logging.Fields{
				"rule_id":    rule.ID,
				"channel_id": channelID,
				"message_id": msg.ID,
			}).Warn("Message analysis deferred to next tick")
			return stepErr
		}

		leadCreated := outcome == stepAdvanceWithLead
		if err := p.store.AdvanceProgress(ctx, rule.ID, channelID, msg.ID, leadCreated); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		stats.MessagesAnalyzed++
		if leadCreated {
			stats.LeadsCreated++
			stats.LeadIDs = append(stats.LeadIDs, leadID)
		}
	}
	return nil
}

func (p *Processor) unseenWindow(ctx context.Context, ruleID, channelID string) ([]models.Message, error) {
	progress, err := p.store.GetProgress(ctx, ruleID, channelID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First contact: bounded historical backfill.
		since := p.now().AddDate(0, 0, -p.cfg.BackfillDays)
		return p.store.ListMessagesSince(ctx, channelID, since, p.cfg.BatchLimit)
	case err != nil:
		return nil, fmt.Errorf("get progress: %w", err)
	case progress.LastAnalyzedMessageID == nil:
		// Cursor message was deleted (channel churn); restart from the
		// backfill window, idempotency keys absorb the rescan.
		since := p.now().AddDate(0, 0, -p.cfg.BackfillDays)
		return p.store.ListMessagesSince(ctx, channelID, since, p.cfg.BatchLimit)
	default:
		return p.store.ListMessagesAfterCursor(ctx, channelID, *progress.LastAnalyzedMessageID, p.cfg.BatchLimit)
	}
}

func (p *Processor) analyzeMessage(ctx context.Context, tenant models.Tenant, rule models.Rule, channel models.Channel, msg models.Message, stats *models.AnalyzeStats) (stepOutcome, string, error) {
	exists, err := p.store.LeadExists(ctx, tenant.ID, msg.ID, rule.ID)
	if err != nil {
		return stepRetain, "", fmt.Errorf("check lead: %w", err)
	}
	if exists {
		stats.LeadsExisting++
		return stepAdvance, "", nil
	}

	if msg.Text == "" {
		return stepAdvance, "", nil
	}

	verdict, err := p.llm.Classify(ctx, msg.Text, rule.Prompt)
	if err != nil {
		// Transient LM failure: retry the message next tick.
		return stepRetain, "", fmt.Errorf("classify: %w", err)
	}
	if !verdict.IsMatch || verdict.Confidence < rule.Threshold {
		return stepAdvance, "", nil
	}

	entities := p.llm.Extract(ctx, msg.Text)
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		entitiesJSON = nil
	}

	lead := &models.Lead{
		TenantID:          tenant.ID,
		GlobalMessageID:   msg.ID,
		RuleID:            rule.ID,
		Score:             verdict.Confidence,
		Reasoning:         verdict.Reasoning,
		ExtractedEntities: entitiesJSON,
		Status:            models.LeadStatusNew,
	}
	err = p.store.InsertLead(ctx, lead)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		// Lost the race to a concurrent processor; the message is settled.
		stats.LeadsExisting++
		return stepAdvance, "", nil
	case err != nil:
		return stepRetain, "", fmt.Errorf("insert lead: %w", err)
	}

	p.logger.WithFields(logging.Fields{
		"tenant_id": tenant.ID,
		"rule_id":   rule.ID,
		"lead_id":   lead.ID,
		"score":     lead.Score,
	}).Info("Lead created")

	if p.notifier != nil {
		p.notifier.LeadCreated(ctx, *lead, rule, channel, msg)
	}
	return stepAdvanceWithLead, lead.ID, nil
}

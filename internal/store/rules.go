package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// ListActiveRulesForTenant returns the tenant's active rules.
func (s *Store) ListActiveRulesForTenant(ctx context.Context, tenantID string) ([]models.Rule, error) {
	query := `
		SELECT id, tenant_id, name, COALESCE(description, ''), prompt, threshold, channel_ids, is_active, created_at, updated_at
		FROM rules
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var r models.Rule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.Prompt,
			&r.Threshold, pq.Array(&r.ChannelIDs), &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpdateRulePolicy changes a rule's prompt and threshold and, in the same
// transaction, deletes every analysis progress row for the rule. The next
// tick reanalyzes each targeted channel from the first-contact window. The
// caller is responsible for invalidating any cached verdicts for the old
// prompt.
func (s *Store) UpdateRulePolicy(ctx context.Context, ruleID, prompt string, threshold float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE rules SET prompt = $2, threshold = $3, updated_at = NOW() WHERE id = $1`,
		ruleID, prompt, threshold,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rule_analysis_progress WHERE rule_id = $1`, ruleID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetRuleProgress deletes all progress rows for a rule and returns how many
// were removed.
func (s *Store) ResetRuleProgress(ctx context.Context, ruleID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_analysis_progress WHERE rule_id = $1`, ruleID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetProgress reads the analysis cursor for a (rule, channel) pair.
func (s *Store) GetProgress(ctx context.Context, ruleID, channelID string) (*models.RuleProgress, error) {
	query := `
		SELECT id, rule_id, channel_id, last_analyzed_message_id, last_analyzed_at, messages_analyzed, leads_created
		FROM rule_analysis_progress
		WHERE rule_id = $1 AND channel_id = $2
	`
	var p models.RuleProgress
	err := s.db.QueryRowContext(ctx, query, ruleID, channelID).Scan(
		&p.ID, &p.RuleID, &p.ChannelID, &p.LastAnalyzedMessageID, &p.LastAnalyzedAt,
		&p.MessagesAnalyzed, &p.LeadsCreated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AdvanceProgress moves the cursor for (rule, channel) to the given message
// and bumps the counters. Upserts so first contact and steady state share one
// write path; concurrent ticks racing on the same pair resolve last-write-wins,
// which is acceptable because both observed the same messages.
func (s *Store) AdvanceProgress(ctx context.Context, ruleID, channelID, messageID string, leadCreated bool) error {
	query := `
		INSERT INTO rule_analysis_progress (rule_id, channel_id, last_analyzed_message_id, last_analyzed_at, messages_analyzed, leads_created)
		VALUES ($1, $2, $3, NOW(), 1, CASE WHEN $4 THEN 1 ELSE 0 END)
		ON CONFLICT (rule_id, channel_id) DO UPDATE SET
			last_analyzed_message_id = EXCLUDED.last_analyzed_message_id,
			last_analyzed_at = NOW(),
			messages_analyzed = rule_analysis_progress.messages_analyzed + 1,
			leads_created = rule_analysis_progress.leads_created + CASE WHEN $4 THEN 1 ELSE 0 END
	`
	_, err := s.db.ExecContext(ctx, query, ruleID, channelID, messageID, leadCreated)
	return err
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// InsertLead materializes a matched message as a lead. Returns ErrDuplicate
// when a lead for (tenant, message, rule) already exists; that key is the
// idempotency guarantee of the classification pipeline, so callers treat the
// duplicate as success.
func (s *Store) InsertLead(ctx context.Context, lead *models.Lead) error {
	query := `
		INSERT INTO leads (tenant_id, global_message_id, rule_id, score, reasoning, extracted_entities, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}
	err := s.db.QueryRowContext(ctx, query,
		lead.TenantID, lead.GlobalMessageID, lead.RuleID,
		lead.Score, lead.Reasoning, nullableJSON(lead.ExtractedEntities), lead.Status,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	return mapUniqueViolation(err)
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// LeadExists reports whether a lead already exists for the idempotency key.
func (s *Store) LeadExists(ctx context.Context, tenantID, messageID, ruleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE tenant_id = $1 AND global_message_id = $2 AND rule_id = $3)`,
		tenantID, messageID, ruleID,
	).Scan(&exists)
	return exists, err
}

// GetLead retrieves a lead by id.
func (s *Store) GetLead(ctx context.Context, leadID string) (*models.Lead, error) {
	query := `
		SELECT id, tenant_id, global_message_id, rule_id, score, COALESCE(reasoning, ''), extracted_entities, status, assignee_id, created_at, updated_at
		FROM leads
		WHERE id = $1
	`
	var lead models.Lead
	err := s.db.QueryRowContext(ctx, query, leadID).Scan(
		&lead.ID, &lead.TenantID, &lead.GlobalMessageID, &lead.RuleID,
		&lead.Score, &lead.Reasoning, &lead.ExtractedEntities, &lead.Status,
		&lead.AssigneeID, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// UpdateLeadStatus moves a lead to a new status and returns the updated row.
func (s *Store) UpdateLeadStatus(ctx context.Context, leadID, status string) (*models.Lead, error) {
	query := `
		UPDATE leads SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, tenant_id, global_message_id, rule_id, score, COALESCE(reasoning, ''), extracted_entities, status, assignee_id, created_at, updated_at
	`
	var lead models.Lead
	err := s.db.QueryRowContext(ctx, query, leadID, status).Scan(
		&lead.ID, &lead.TenantID, &lead.GlobalMessageID, &lead.RuleID,
		&lead.Score, &lead.Reasoning, &lead.ExtractedEntities, &lead.Status,
		&lead.AssigneeID, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// AssignLead sets the lead's assignee and returns the updated row.
func (s *Store) AssignLead(ctx context.Context, leadID, assigneeID string) (*models.Lead, error) {
	query := `
		UPDATE leads SET assignee_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, tenant_id, global_message_id, rule_id, score, COALESCE(reasoning, ''), extracted_entities, status, assignee_id, created_at, updated_at
	`
	var lead models.Lead
	err := s.db.QueryRowContext(ctx, query, leadID, assigneeID).Scan(
		&lead.ID, &lead.TenantID, &lead.GlobalMessageID, &lead.RuleID,
		&lead.Score, &lead.Reasoning, &lead.ExtractedEntities, &lead.Status,
		&lead.AssigneeID, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// InsertNotification writes an in-app notification row for a user.
func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (recipient_user_id, type, title, message, related_lead_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_read, created_at, updated_at
	`
	return s.db.QueryRowContext(ctx, query,
		n.RecipientUserID, n.Type, n.Title, n.Message, n.RelatedLeadID,
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt, &n.UpdatedAt)
}

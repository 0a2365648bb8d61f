package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// ListActiveTenants returns all tenants that have not been soft-deleted.
func (s *Store) ListActiveTenants(ctx context.Context) ([]models.Tenant, error) {
	query := `
		SELECT id, name, plan, deleted_at, created_at, updated_at
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Plan, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

const userColumns = `
	id, tenant_id, email, COALESCE(full_name, ''), password_hash, telegram_chat_id,
	in_app_notifications_enabled, email_notifications_enabled, telegram_bot_enabled,
	notify_on_new_lead, notify_on_lead_status_change, notify_on_lead_assignment,
	created_at, updated_at
`

func scanUser(row interface{ Scan(...interface{}) error }) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.FullName, &u.PasswordHash, &u.TelegramChatID,
		&u.InAppEnabled, &u.EmailEnabled, &u.TelegramBotEnabled,
		&u.NotifyOnNewLead, &u.NotifyOnLeadStatusChange, &u.NotifyOnLeadAssignment,
		&u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// GetUser retrieves a single user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsersForTenant returns all users of a tenant. Notification fan-out
// walks this list and applies per-user preference gating.
func (s *Store) ListUsersForTenant(ctx context.Context, tenantID string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

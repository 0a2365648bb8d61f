package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// SaveCredential inserts a credential, encrypting the session blob at rest.
func (s *Store) SaveCredential(ctx context.Context, cred *models.TelegramCredential) error {
	encrypted, err := s.encryptField(cred.Session)
	if err != nil {
		return fmt.Errorf("encrypt session: %w", err)
	}
	query := `
		INSERT INTO telegram_credentials (tenant_id, phone, session_encrypted, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	if cred.Status == "" {
		cred.Status = models.CredentialStatusActive
	}
	return s.db.QueryRowContext(ctx, query,
		cred.TenantID, cred.Phone, encrypted, cred.Status,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
}

// GetCredentialForChannel picks an active credential able to read the given
// channel, preferring one that belongs to a subscriber of that channel. When
// no subscriber credential is active, any active credential will do: the
// upstream data is shared, so the choice only affects access, not content.
func (s *Store) GetCredentialForChannel(ctx context.Context, channelID string) (*models.TelegramCredential, error) {
	query := `
		SELECT c.id, c.tenant_id, c.phone, c.session_encrypted, c.status, c.created_at, c.updated_at
		FROM telegram_credentials c
		LEFT JOIN channel_subscriptions s
			ON s.credential_id = c.id AND s.channel_id = $1 AND s.is_active = TRUE
		WHERE c.status = $2
		ORDER BY s.id NULLS LAST, c.created_at
		LIMIT 1
	`
	cred, err := s.scanCredential(s.db.QueryRowContext(ctx, query, channelID, models.CredentialStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *Store) scanCredential(row interface{ Scan(...interface{}) error }) (*models.TelegramCredential, error) {
	var cred models.TelegramCredential
	err := row.Scan(&cred.ID, &cred.TenantID, &cred.Phone, &cred.Session, &cred.Status, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cred.Session, err = s.decryptField(cred.Session); err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}
	return &cred, nil
}

// MarkCredentialStatus flips a credential's lifecycle status
// (active, needs-reauth, blocked).
func (s *Store) MarkCredentialStatus(ctx context.Context, credentialID, status string) error {
	query := `UPDATE telegram_credentials SET status = $2, updated_at = NOW() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, credentialID, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertChannel creates a global channel row on first subscription, or
// refreshes its display metadata if it already exists.
func (s *Store) UpsertChannel(ctx context.Context, ch *models.Channel) error {
	query := `
		INSERT INTO global_channels (tg_id, username, title, channel_type, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (tg_id) DO UPDATE SET
			username = EXCLUDED.username,
			title = EXCLUDED.title,
			channel_type = EXCLUDED.channel_type
		RETURNING id, last_external_message_id, last_collected_at, is_active, created_at
	`
	return s.db.QueryRowContext(ctx, query,
		ch.TgID, ch.Username, ch.Title, ch.ChannelType,
	).Scan(&ch.ID, &ch.LastExternalMessageID, &ch.LastCollectedAt, &ch.IsActive, &ch.CreatedAt)
}

// ListActiveChannels returns every channel the collector should poll.
func (s *Store) ListActiveChannels(ctx context.Context) ([]models.Channel, error) {
	query := `
		SELECT id, tg_id, username, title, channel_type,
		       last_external_message_id, last_collected_at, is_active, created_at
		FROM global_channels
		WHERE is_active = TRUE
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.TgID, &ch.Username, &ch.Title, &ch.ChannelType,
			&ch.LastExternalMessageID, &ch.LastCollectedAt, &ch.IsActive, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// GetChannel retrieves a channel by id.
func (s *Store) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	query := `
		SELECT id, tg_id, username, title, channel_type,
		       last_external_message_id, last_collected_at, is_active, created_at
		FROM global_channels
		WHERE id = $1
	`
	var ch models.Channel
	err := s.db.QueryRowContext(ctx, query, channelID).Scan(
		&ch.ID, &ch.TgID, &ch.Username, &ch.Title, &ch.ChannelType,
		&ch.LastExternalMessageID, &ch.LastCollectedAt, &ch.IsActive, &ch.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// TouchChannelCursor records a completed collection pass. The
// last_external_message_id column is best-effort bookkeeping; the true
// watermark is MaxExternalMessageID over stored messages.
func (s *Store) TouchChannelCursor(ctx context.Context, channelID string, lastExternalID int64) error {
	query := `
		UPDATE global_channels
		SET last_collected_at = NOW(),
		    last_external_message_id = GREATEST(COALESCE(last_external_message_id, 0), $2)
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, channelID, lastExternalID)
	return err
}

// CreateSubscription links a tenant to a channel through a credential.
// Returns ErrDuplicate when the (tenant, channel) pair already exists.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.ChannelSubscription) error {
	query := `
		INSERT INTO channel_subscriptions (tenant_id, channel_id, credential_id, is_active, tags)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING id, is_active, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		sub.TenantID, sub.ChannelID, sub.CredentialID, pq.Array(sub.Tags),
	).Scan(&sub.ID, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	return mapUniqueViolation(err)
}

// ListActiveSubscriptionsForTenant returns the tenant's active subscriptions.
func (s *Store) ListActiveSubscriptionsForTenant(ctx context.Context, tenantID string) ([]models.ChannelSubscription, error) {
	query := `
		SELECT id, tenant_id, channel_id, credential_id, is_active, tags, created_at, updated_at
		FROM channel_subscriptions
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.ChannelSubscription
	for rows.Next() {
		var sub models.ChannelSubscription
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.ChannelID, &sub.CredentialID,
			&sub.IsActive, pq.Array(&sub.Tags), &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a subscription and deactivates the channel when
// no subscription references it anymore, so the collector stops polling it.
func (s *Store) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var channelID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM channel_subscriptions WHERE id = $1 RETURNING channel_id`, subscriptionID,
	).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE global_channels SET is_active = FALSE
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM channel_subscriptions WHERE channel_id = $1)
	`, channelID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

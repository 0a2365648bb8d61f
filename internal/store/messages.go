package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// MaxExternalMessageID returns the ingestion watermark for a channel: the
// highest tg_message_id stored so far, or 0 when the channel has no messages.
// This supersedes the best-effort cursor column on the channel row.
func (s *Store) MaxExternalMessageID(ctx context.Context, channelID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(tg_message_id) FROM global_messages WHERE channel_id = $1`, channelID,
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// InsertMessage stores one collected message. Returns ErrDuplicate when the
// (channel, tg_message_id) pair already exists, which callers swallow: it is
// the benign race between two collector instances.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO global_messages (channel_id, tg_message_id, text, author_tg_id, author_username, media_type, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		m.ChannelID, m.TgMessageID, m.Text, m.AuthorTgID, m.AuthorUsername, m.MediaType, m.SentAt,
	).Scan(&m.ID, &m.CreatedAt)
	return mapUniqueViolation(err)
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query := `
		SELECT id, channel_id, tg_message_id, COALESCE(text, ''), author_tg_id, author_username, media_type, sent_at, created_at
		FROM global_messages
		WHERE id = $1
	`
	var m models.Message
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&m.ID, &m.ChannelID, &m.TgMessageID, &m.Text, &m.AuthorTgID, &m.AuthorUsername, &m.MediaType, &m.SentAt, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const messageColumns = `
	id, channel_id, tg_message_id, COALESCE(text, ''), author_tg_id, author_username, media_type, sent_at, created_at
`

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.TgMessageID, &m.Text,
			&m.AuthorTgID, &m.AuthorUsername, &m.MediaType, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListMessagesAfterCursor returns the unseen window for an existing progress
// cursor: messages strictly after the cursor message in (sent_at,
// tg_message_id) order, ascending, capped at limit.
func (s *Store) ListMessagesAfterCursor(ctx context.Context, channelID, cursorMessageID string, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM global_messages
		WHERE channel_id = $1
		  AND (sent_at, tg_message_id) > (
		      SELECT sent_at, tg_message_id FROM global_messages WHERE id = $2
		  )
		ORDER BY sent_at ASC, tg_message_id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, cursorMessageID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListMessagesSince returns the first-contact window: messages sent at or
// after the given time, ascending, capped at limit.
func (s *Store) ListMessagesSince(ctx context.Context, channelID string, since time.Time, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM global_messages
		WHERE channel_id = $1 AND sent_at >= $2
		ORDER BY sent_at ASC, tg_message_id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, since, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

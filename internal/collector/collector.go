// Package collector implements the global collection phase: for every active
// channel, pull messages past the ingestion watermark and persist them. The
// unique key on (channel, tg_message_id) is the sole dedupe arbiter, so two
// collectors racing on the same channel cannot duplicate work.
package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/trofimovm/telegram-lead-monitor/internal/source"
	"github.com/trofimovm/telegram-lead-monitor/internal/store"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// FetchLimit bounds the work per channel per tick.
const FetchLimit = 100

// Source is the slice of the gateway client the collector needs.
type Source interface {
	FetchNew(ctx context.Context, channelTgID int64, session string, limit int, minExternalID int64) ([]source.Message, error)
}

// Store is the slice of the persistence layer the collector needs.
type Store interface {
	ListActiveChannels(ctx context.Context) ([]models.Channel, error)
	GetCredentialForChannel(ctx context.Context, channelID string) (*models.TelegramCredential, error)
	MarkCredentialStatus(ctx context.Context, credentialID, status string) error
	MaxExternalMessageID(ctx context.Context, channelID string) (int64, error)
	InsertMessage(ctx context.Context, m *models.Message) error
	TouchChannelCursor(ctx context.Context, channelID string, lastExternalID int64) error
}

type Collector struct {
	source Source
	store  Store
	logger logging.Logger
}

func New(src Source, st Store, logger logging.Logger) *Collector {
	return &Collector{source: src, store: st, logger: logger}
}

// Run walks every active channel once. Per-channel failures are collected
// into the stats and the error list; they never abort the pass.
func (c *Collector) Run(ctx context.Context) (models.CollectStats, []error) {
	var stats models.CollectStats
	var errs []error

	channels, err := c.store.ListActiveChannels(ctx)
	if err != nil {
		return stats, []error{fmt.Errorf("list active channels: %w", err)}
	}

	for _, channel := range channels {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		fetched, stored, err := c.collectChannel(ctx, channel)
		stats.MessagesFetched += fetched
		stats.MessagesStored += stored
		switch {
		case err == nil:
			stats.ChannelsPolled++
		case errors.Is(err, errNoCredential):
			stats.ChannelsSkipped++
			c.logger.WithField("channel_id", channel.ID).Warn("No active credential for channel, skipping")
		default:
			stats.ChannelsFailed++
			errs = append(errs, fmt.Errorf("channel %s: %w", channel.ID, err))
			c.logger.WithError(err).WithField("channel_id", channel.ID).Error("Channel collection failed")
		}
	}
	return stats, errs
}

var errNoCredential = errors.New("no active credential")

func (c *Collector) collectChannel(ctx context.Context, channel models.Channel) (fetched, stored int, err error) {
	watermark, err := c.store.MaxExternalMessageID(ctx, channel.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("read watermark: %w", err)
	}

	cred, err := c.store.GetCredentialForChannel(ctx, channel.ID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, errNoCredential
	}
	if err != nil {
		return 0, 0, fmt.Errorf("pick credential: %w", err)
	}

	messages, err := c.source.FetchNew(ctx, channel.TgID, cred.Session, FetchLimit, watermark)
	if errors.Is(err, source.ErrAuthRevoked) {
		// Take the credential out of rotation until a human reauthenticates.
		if markErr := c.store.MarkCredentialStatus(ctx, cred.ID, models.CredentialStatusNeedsReauth); markErr != nil {
			c.logger.WithError(markErr).WithField("credential_id", cred.ID).Error("Failed to mark credential needs-reauth")
		}
		return 0, 0, err
	}
	if err != nil {
		return 0, 0, err
	}

	maxSeen := watermark
	for _, msg := range messages {
		m := &models.Message{
			ChannelID:      channel.ID,
			TgMessageID:    msg.ID,
			Text:           msg.Text,
			AuthorTgID:     msg.AuthorTgID,
			AuthorUsername: msg.AuthorUsername,
			MediaType:      msg.MediaType,
			SentAt:         msg.SentAt,
		}
		insertErr := c.store.InsertMessage(ctx, m)
		switch {
		case insertErr == nil:
			stored++
		case errors.Is(insertErr, store.ErrDuplicate):
			// Benign race with a concurrent collector.
		default:
			c.logger.WithError(insertErr).WithFields(logging.Fields{
				"channel_id":    channel.ID,
				"tg_message_id": msg.ID,
			}).Error("Failed to store message, skipping")
		}
		if msg.ID > maxSeen {
			maxSeen = msg.ID
		}
	}

	if err := c.store.TouchChannelCursor(ctx, channel.ID, maxSeen); err != nil {
		c.logger.WithError(err).WithField("channel_id", channel.ID).Warn("Failed to update channel cursor")
	}

	if len(messages) > 0 {
		c.logger.WithFields(logging.Fields{
			"channel_id": channel.ID,
			"fetched":    len(messages),
			"stored":     stored,
			"watermark":  watermark,
		}).Info("Collected channel messages")
	}
	return len(messages), stored, nil
}

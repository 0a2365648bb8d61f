// Package handlers holds the internal HTTP surface: the manual pipeline
// trigger on the worker and the notification push endpoint on the bot
// gateway. Both sit behind service-token auth; neither is tenant-facing.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trofimovm/telegram-lead-monitor/internal/worker"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

// Ticker runs one synchronous pipeline pass.
type Ticker interface {
	RunOnce(ctx context.Context, trigger string) models.TickResult
}

// LeadSender delivers a rendered lead push through the bot session.
type LeadSender interface {
	SendLeadNotification(ctx context.Context, push models.BotPushRequest) error
}

var (
	logger logging.Logger
	ticker Ticker
	sender LeadSender
)

// Init sets the shared handler dependencies. Pass nil for the role the
// process does not serve.
func Init(log logging.Logger, t Ticker, s LeadSender) {
	logger = log
	ticker = t
	sender = s
}

// CollectMessages forces a full collect-and-analyze pass and returns its
// stats. The run shares the scheduler's lock, so a concurrent scheduled tick
// finishes first.
func CollectMessages(c *gin.Context) {
	logger.Info("Manual pipeline run requested")

	result := ticker.RunOnce(c.Request.Context(), worker.TriggerManual)

	status := http.StatusOK
	if len(result.Errors) > 0 && result.Collect.ChannelsPolled == 0 && result.Analyze.RulesProcessed == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

// SendNotification accepts a lead push from the worker and forwards it to the
// Telegram Bot API.
func SendNotification(c *gin.Context) {
	var push models.BotPushRequest
	if err := c.ShouldBindJSON(&push); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid notification payload: " + err.Error()})
		return
	}

	if err := sender.SendLeadNotification(c.Request.Context(), push); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"chat_id": push.ChatID,
			"lead_id": push.LeadID,
		}).Error("Failed to deliver bot notification")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.BotPushResponse{
		Status: "sent",
		ChatID: push.ChatID,
		LeadID: push.LeadID,
	})
}

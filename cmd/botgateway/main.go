package main

import (
	"github.com/trofimovm/telegram-lead-monitor/internal/bot"
	"github.com/trofimovm/telegram-lead-monitor/internal/handlers"
	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/middleware"
	"github.com/trofimovm/telegram-lead-monitor/pkg/monitoring"
	"github.com/trofimovm/telegram-lead-monitor/pkg/server"
	"github.com/trofimovm/telegram-lead-monitor/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("botgateway")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bot Gateway (Telegram Bot Notification Sender)")

	serviceToken := config.RequireEnv("INTERNAL_SERVICE_TOKEN")

	// The gateway is the only process holding the bot token.
	botCfg := bot.LoadConfig()
	if botCfg.Token == "" {
		logger.Fatal("BOT_TOKEN is required")
	}
	sender := bot.New(botCfg)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("botgateway", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("botgateway", version.Version, version.GitCommit)

	healthChecker.AddCheck("configuration", func() monitoring.CheckResult {
		if botCfg.Token == "" {
			return monitoring.CheckResult{
				Status:  monitoring.StatusUnhealthy,
				Message: "bot token not configured",
			}
		}
		return monitoring.CheckResult{
			Status:  monitoring.StatusHealthy,
			Message: "bot token configured",
		}
	})

	// === Server Setup ===
	handlers.Init(logger, nil, sender)

	app := server.SetupServiceRouter(logger, "botgateway", healthChecker, metricsCollector)

	internal := app.Group("/internal")
	internal.Use(middleware.ServiceAuthMiddleware(serviceToken))
	internal.POST("/telegram/send-notification", handlers.SendNotification)

	serverConfig := server.DefaultConfig("botgateway", "8080")
	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Bot gateway HTTP server failed")
	}
}

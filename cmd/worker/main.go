package main

import (
	"time"

	"github.com/trofimovm/telegram-lead-monitor/internal/botpush"
	"github.com/trofimovm/telegram-lead-monitor/internal/collector"
	"github.com/trofimovm/telegram-lead-monitor/internal/handlers"
	"github.com/trofimovm/telegram-lead-monitor/internal/notifier"
	"github.com/trofimovm/telegram-lead-monitor/internal/processor"
	"github.com/trofimovm/telegram-lead-monitor/internal/source"
	"github.com/trofimovm/telegram-lead-monitor/internal/store"
	"github.com/trofimovm/telegram-lead-monitor/internal/worker"
	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	fieldcrypt "github.com/trofimovm/telegram-lead-monitor/pkg/crypto"
	"github.com/trofimovm/telegram-lead-monitor/pkg/database"
	"github.com/trofimovm/telegram-lead-monitor/pkg/email"
	"github.com/trofimovm/telegram-lead-monitor/pkg/llm"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/middleware"
	"github.com/trofimovm/telegram-lead-monitor/pkg/monitoring"
	"github.com/trofimovm/telegram-lead-monitor/pkg/server"
	"github.com/trofimovm/telegram-lead-monitor/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("worker")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Worker (Lead Discovery Pipeline)")

	serviceToken := config.RequireEnv("INTERNAL_SERVICE_TOKEN")

	// === Database Connection ===
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Session strings never reach the database in plaintext.
	encryptor, err := fieldcrypt.DeriveFieldEncryptor(
		[]byte(config.RequireEnv("ENCRYPTION_KEY")), "telegram-session")
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize field encryption")
	}

	st := store.NewStore(db, encryptor)

	// === Clients ===
	sourceClient := source.NewClient(source.LoadConfig(), logger)
	lmClient := llm.NewClient(llm.LoadConfig(), logger)
	botClient := botpush.NewClient(botpush.LoadConfig())

	mailer := email.NewSender(email.Config{
		Host:     config.GetEnv("SMTP_HOST", "localhost"),
		Port:     config.GetEnv("SMTP_PORT", "587"),
		User:     config.GetEnv("SMTP_USER", ""),
		Password: config.GetEnv("SMTP_PASSWORD", ""),
		From:     config.GetEnv("SMTP_FROM", "noreply@localhost"),
		FromName: config.GetEnv("SMTP_FROM_NAME", "Lead Monitor"),
	})

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("worker", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("worker", version.Version, version.GitCommit)

	// === Pipeline ===
	notify := notifier.New(st, mailer, botClient, lmClient, notifier.LoadConfig(),
		notifier.NewMetrics(metricsCollector), logger)
	collect := collector.New(sourceClient, st, logger)
	analyze := processor.New(st, lmClient, notify, processor.LoadConfig(), logger)

	workerCfg := worker.LoadConfig()
	pipeline := worker.New(collect, analyze, workerCfg, worker.NewMetrics(metricsCollector), logger)
	if err := pipeline.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start pipeline worker")
	}

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	// Allow two missed intervals before the scheduler reads as stale.
	healthChecker.AddCheck("scheduler", monitoring.SchedulerHealthCheck(
		pipeline.LastTick, 3*workerCfg.Interval, time.Now()))

	// === Server Setup ===
	handlers.Init(logger, pipeline, nil)

	app := server.SetupServiceRouter(logger, "worker", healthChecker, metricsCollector)

	admin := app.Group("/admin")
	admin.Use(middleware.ServiceAuthMiddleware(serviceToken))
	admin.POST("/collect-messages", handlers.CollectMessages)

	serverConfig := server.DefaultConfig("worker", "18090")
	if err := server.Start(serverConfig, app, logger, pipeline.Stop); err != nil {
		logger.WithError(err).Fatal("Worker HTTP server failed")
	}
}

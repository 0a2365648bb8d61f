// Package worker drives the collect/analyze pipeline on a fixed interval.
// Ticks never overlap: the cron chain skips a scheduled tick while a previous
// one (scheduled or manual) is still running.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
	"github.com/trofimovm/telegram-lead-monitor/pkg/monitoring"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Collector polls the source for new messages.
type Collector interface {
	Run(ctx context.Context) (models.CollectStats, []error)
}

// Analyzer runs the active rules over unseen messages.
type Analyzer interface {
	Run(ctx context.Context) (models.AnalyzeStats, []error)
}

type Config struct {
	Interval time.Duration
}

func LoadConfig() Config {
	return Config{
		Interval: config.GetEnvDuration("WORKER_INTERVAL_MINUTES", time.Minute, time.Minute),
	}
}

// Metrics holds the pipeline counters published on /metrics.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	items         *prometheus.CounterVec
	lastRun       *prometheus.GaugeVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	runs, stageDuration, items, lastRun := mc.CreatePipelineMetrics()
	return &Metrics{runs: runs, stageDuration: stageDuration, items: items, lastRun: lastRun}
}

type Worker struct {
	collector Collector
	analyzer  Analyzer
	interval  time.Duration
	metrics   *Metrics
	logger    logging.Logger

	cron  *cron.Cron
	runMu sync.Mutex // serializes manual and scheduled ticks

	mu       sync.RWMutex
	lastTick time.Time
}

func New(collector Collector, analyzer Analyzer, cfg Config, metrics *Metrics, logger logging.Logger) *Worker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		collector: collector,
		analyzer:  analyzer,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start registers the periodic tick and launches the cron engine.
func (w *Worker) Start() error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := c.AddFunc(spec, func() {
		w.RunOnce(context.Background(), TriggerSchedule)
	}); err != nil {
		return fmt.Errorf("failed to schedule pipeline tick: %w", err)
	}
	c.Start()
	w.cron = c

	w.logger.WithField("interval", w.interval.String()).Info("Pipeline worker started")
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to drain, bounded
// by ctx.
func (w *Worker) Stop(ctx context.Context) {
	if w.cron == nil {
		return
	}
	stopCtx := w.cron.Stop()
	select {
	case <-stopCtx.Done():
		w.logger.Info("Pipeline worker stopped")
	case <-ctx.Done():
		w.logger.Warn("Pipeline worker shutdown timed out with a tick in flight")
	}
}

// RunOnce executes a full collect-then-analyze pass. Manual triggers share
// the same lock as scheduled ones, so at most one tick runs at a time.
func (w *Worker) RunOnce(ctx context.Context, trigger string) models.TickResult {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	result := models.TickResult{
		StartedAt: time.Now(),
		Trigger:   trigger,
	}

	collectStart := time.Now()
	collectStats, collectErrs := w.collector.Run(ctx)
	result.Collect = collectStats
	for _, err := range collectErrs {
		result.Errors = append(result.Errors, fmt.Sprintf("collect: %v", err))
	}

	analyzeStart := time.Now()
	analyzeStats, analyzeErrs := w.analyzer.Run(ctx)
	result.Analyze = analyzeStats
	for _, err := range analyzeErrs {
		result.Errors = append(result.Errors, fmt.Sprintf("analyze: %v", err))
	}

	result.FinishedAt = time.Now()

	w.mu.Lock()
	w.lastTick = result.FinishedAt
	w.mu.Unlock()

	w.observe(result, collectStart, analyzeStart)

	w.logger.WithFields(logging.Fields{
		"trigger":           trigger,
		"duration":          result.Duration().String(),
		"channels_polled":   collectStats.ChannelsPolled,
		"messages_stored":   collectStats.MessagesStored,
		"messages_analyzed": analyzeStats.MessagesAnalyzed,
		"leads_created":     analyzeStats.LeadsCreated,
		"errors":            len(result.Errors),
	}).Info("Pipeline tick finished")

	return result
}

// LastTick returns when the most recent tick finished, zero before the first.
func (w *Worker) LastTick() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastTick
}

func (w *Worker) observe(result models.TickResult, collectStart, analyzeStart time.Time) {
	if w.metrics == nil {
		return
	}

	status := "ok"
	if len(result.Errors) > 0 {
		status = "error"
	}
	w.metrics.runs.WithLabelValues(result.Trigger, status).Inc()
	w.metrics.lastRun.WithLabelValues(result.Trigger).Set(float64(result.FinishedAt.Unix()))

	w.metrics.stageDuration.WithLabelValues("collect").Observe(analyzeStart.Sub(collectStart).Seconds())
	w.metrics.stageDuration.WithLabelValues("analyze").Observe(result.FinishedAt.Sub(analyzeStart).Seconds())

	w.metrics.items.WithLabelValues("collect", "fetched").Add(float64(result.Collect.MessagesFetched))
	w.metrics.items.WithLabelValues("collect", "stored").Add(float64(result.Collect.MessagesStored))
	w.metrics.items.WithLabelValues("analyze", "analyzed").Add(float64(result.Analyze.MessagesAnalyzed))
	w.metrics.items.WithLabelValues("analyze", "leads_created").Add(float64(result.Analyze.LeadsCreated))
	w.metrics.items.WithLabelValues("analyze", "leads_existing").Add(float64(result.Analyze.LeadsExisting))
}

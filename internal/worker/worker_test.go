package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

type fakeCollector struct {
	mu    sync.Mutex
	runs  int
	stats models.CollectStats
	errs  []error
	block chan struct{} // when set, Run waits until closed
}

func (f *fakeCollector) Run(ctx context.Context) (models.CollectStats, []error) {
	f.mu.Lock()
	f.runs++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.stats, f.errs
}

func (f *fakeCollector) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	runs  int
	stats models.AnalyzeStats
	errs  []error
}

func (f *fakeAnalyzer) Run(ctx context.Context) (models.AnalyzeStats, []error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.stats, f.errs
}

func newWorker(c Collector, a Analyzer) *Worker {
	return New(c, a, Config{Interval: time.Hour}, nil, logging.NewLogger())
}

func TestLoadConfigDefaultInterval(t *testing.T) {
	t.Setenv("WORKER_INTERVAL_MINUTES", "")
	require.Equal(t, time.Minute, LoadConfig().Interval)

	t.Setenv("WORKER_INTERVAL_MINUTES", "7")
	require.Equal(t, 7*time.Minute, LoadConfig().Interval)
}

func TestNewFallsBackToOneMinute(t *testing.T) {
	w := New(&fakeCollector{}, &fakeAnalyzer{}, Config{}, nil, logging.NewLogger())
	require.Equal(t, time.Minute, w.interval)
}

func TestRunOnceAggregatesStages(t *testing.T) {
	c := &fakeCollector{stats: models.CollectStats{ChannelsPolled: 3, MessagesFetched: 12, MessagesStored: 10}}
	a := &fakeAnalyzer{stats: models.AnalyzeStats{MessagesAnalyzed: 10, LeadsCreated: 2}}
	w := newWorker(c, a)

	result := w.RunOnce(context.Background(), TriggerManual)

	require.Equal(t, TriggerManual, result.Trigger)
	require.Equal(t, 3, result.Collect.ChannelsPolled)
	require.Equal(t, 2, result.Analyze.LeadsCreated)
	require.Empty(t, result.Errors)
	require.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestRunOnceCollectsStageErrors(t *testing.T) {
	c := &fakeCollector{errs: []error{errors.New("channel 1 fetch failed")}}
	a := &fakeAnalyzer{errs: []error{errors.New("rule 7 classify failed")}}
	w := newWorker(c, a)

	result := w.RunOnce(context.Background(), TriggerSchedule)

	require.Len(t, result.Errors, 2)
	require.Contains(t, result.Errors[0], "collect: channel 1 fetch failed")
	require.Contains(t, result.Errors[1], "analyze: rule 7 classify failed")
	// A failing stage must not block the other one.
	require.Equal(t, 1, c.runCount())
}

func TestRunOnceAnalyzesEvenWhenCollectFails(t *testing.T) {
	c := &fakeCollector{errs: []error{errors.New("gateway down")}}
	a := &fakeAnalyzer{stats: models.AnalyzeStats{MessagesAnalyzed: 5}}
	w := newWorker(c, a)

	result := w.RunOnce(context.Background(), TriggerSchedule)

	require.Equal(t, 5, result.Analyze.MessagesAnalyzed)
	require.Len(t, result.Errors, 1)
}

func TestLastTickUpdatesAfterRun(t *testing.T) {
	w := newWorker(&fakeCollector{}, &fakeAnalyzer{})

	require.True(t, w.LastTick().IsZero())
	w.RunOnce(context.Background(), TriggerManual)
	require.False(t, w.LastTick().IsZero())
}

func TestConcurrentRunsAreSerialized(t *testing.T) {
	block := make(chan struct{})
	c := &fakeCollector{block: block}
	a := &fakeAnalyzer{}
	w := newWorker(c, a)

	first := make(chan struct{})
	go func() {
		w.RunOnce(context.Background(), TriggerSchedule)
		close(first)
	}()

	// Wait until the first tick holds the lock inside collect.
	require.Eventually(t, func() bool { return c.runCount() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan struct{})
	go func() {
		c.mu.Lock()
		c.block = nil
		c.mu.Unlock()
		w.RunOnce(context.Background(), TriggerManual)
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second tick finished while the first was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-first
	<-second
	require.Equal(t, 2, c.runCount())
}

func TestStartAndStopDrainInFlightTick(t *testing.T) {
	block := make(chan struct{})
	c := &fakeCollector{block: block}
	w := New(c, &fakeAnalyzer{}, Config{Interval: 10 * time.Millisecond}, nil, logging.NewLogger())

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return c.runCount() >= 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w.Stop(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick drained")
	}
}

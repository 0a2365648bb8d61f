package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

type fakeTicker struct {
	trigger string
	result  models.TickResult
}

func (f *fakeTicker) RunOnce(ctx context.Context, trigger string) models.TickResult {
	f.trigger = trigger
	f.result.Trigger = trigger
	return f.result
}

type fakeSender struct {
	pushes []models.BotPushRequest
	err    error
}

func (f *fakeSender) SendLeadNotification(ctx context.Context, push models.BotPushRequest) error {
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, push)
	return nil
}

func setupRouter(t Ticker, s LeadSender) *gin.Engine {
	gin.SetMode(gin.TestMode)
	Init(logging.NewLogger(), t, s)

	r := gin.New()
	r.POST("/admin/collect-messages", CollectMessages)
	r.POST("/internal/telegram/send-notification", SendNotification)
	return r
}

func TestCollectMessagesReturnsTickResult(t *testing.T) {
	now := time.Now()
	ticker := &fakeTicker{result: models.TickResult{
		StartedAt:  now,
		FinishedAt: now.Add(2 * time.Second),
		Collect:    models.CollectStats{ChannelsPolled: 4, MessagesStored: 7},
		Analyze:    models.AnalyzeStats{RulesProcessed: 2, LeadsCreated: 1},
	}}
	router := setupRouter(ticker, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/collect-messages", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "manual", ticker.trigger)

	var result models.TickResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, "manual", result.Trigger)
	require.Equal(t, 4, result.Collect.ChannelsPolled)
	require.Equal(t, 1, result.Analyze.LeadsCreated)
}

func TestCollectMessagesReportsTotalFailure(t *testing.T) {
	ticker := &fakeTicker{result: models.TickResult{
		Errors: []string{"collect: database down"},
	}}
	router := setupRouter(ticker, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/collect-messages", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCollectMessagesPartialErrorsStillOK(t *testing.T) {
	ticker := &fakeTicker{result: models.TickResult{
		Collect: models.CollectStats{ChannelsPolled: 3, ChannelsFailed: 1},
		Errors:  []string{"collect: channel 9 fetch failed"},
	}}
	router := setupRouter(ticker, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/collect-messages", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestSendNotificationDelivers(t *testing.T) {
	s := &fakeSender{}
	router := setupRouter(nil, s)

	body, _ := json.Marshal(models.BotPushRequest{ChatID: 555, LeadID: "lead-1", RuleName: "hiring"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/telegram/send-notification", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.pushes, 1)
	require.Equal(t, int64(555), s.pushes[0].ChatID)

	var resp models.BotPushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "sent", resp.Status)
	require.Equal(t, int64(555), resp.ChatID)
	require.Equal(t, "lead-1", resp.LeadID)
}

func TestSendNotificationRejectsMissingChatID(t *testing.T) {
	s := &fakeSender{}
	router := setupRouter(nil, s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/telegram/send-notification", bytes.NewReader([]byte(`{"lead_id":"lead-1"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, s.pushes)
}

func TestSendNotificationSurfacesSendError(t *testing.T) {
	s := &fakeSender{err: errors.New("bot: api error: chat not found")}
	router := setupRouter(nil, s)

	body, _ := json.Marshal(models.BotPushRequest{ChatID: 555, LeadID: "lead-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/telegram/send-notification", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp["detail"], "chat not found")
}

package botpush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

func TestPushSendsAuthorizedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/telegram/send-notification", r.URL.Path)
		require.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))

		var req models.BotPushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, int64(555), req.ChatID)
		require.Equal(t, "lead-1", req.LeadID)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "sent", "chat_id": req.ChatID, "lead_id": req.LeadID})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceToken: "svc-token", Timeout: 5 * time.Second})
	err := c.Push(context.Background(), models.BotPushRequest{ChatID: 555, LeadID: "lead-1", RuleName: "hiring"})
	require.NoError(t, err)
}

func TestPushSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "bot session unavailable"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	err := c.Push(context.Background(), models.BotPushRequest{ChatID: 555, LeadID: "lead-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bot session unavailable")
}

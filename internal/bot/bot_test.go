package bot

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

func TestSendMessagePostsToBotEndpoint(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	b := New(Config{Token: "test-token", APIURL: srv.URL, Timeout: 5 * time.Second})
	err := b.SendMessage(context.Background(), 555, "hello")
	require.NoError(t, err)
	require.Equal(t, int64(555), got.ChatID)
	require.Equal(t, "hello", got.Text)
	require.Equal(t, "HTML", got.ParseMode)
	require.True(t, got.DisableWebPagePreview)
}

func TestSendMessageSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "description": "Forbidden: bot was blocked by the user"})
	}))
	defer srv.Close()

	b := New(Config{Token: "test-token", APIURL: srv.URL, Timeout: 5 * time.Second})
	err := b.SendMessage(context.Background(), 555, "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocked by the user")
}

func TestSendLeadNotificationRendersAndEscapes(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	b := New(Config{Token: "test-token", APIURL: srv.URL, Timeout: 5 * time.Second})
	err := b.SendLeadNotification(context.Background(), models.BotPushRequest{
		ChatID:         555,
		LeadID:         "lead-1",
		RuleName:       "hiring <devs>",
		SourceTitle:    "Go Jobs",
		MessagePreview: "looking for a go dev",
		LeadURL:        "https://app.example.com/leads/lead-1",
		Score:          0.91,
		MessageLink:    "https://t.me/golang_jobs/42",
	})
	require.NoError(t, err)
	require.Contains(t, got.Text, "hiring &lt;devs&gt;")
	require.Contains(t, got.Text, "Go Jobs")
	require.Contains(t, got.Text, "0.91")
	require.Contains(t, got.Text, `<a href="https://t.me/golang_jobs/42">`)
	require.Contains(t, got.Text, `<a href="https://app.example.com/leads/lead-1">`)
}

package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/trofimovm/telegram-lead-monitor/internal/store"
	"github.com/trofimovm/telegram-lead-monitor/pkg/logging"
	"github.com/trofimovm/telegram-lead-monitor/pkg/models"
)

type fakeStore struct {
	users         []models.User
	notifications []models.Notification
	insertErr     error
}

func (f *fakeStore) ListUsersForTenant(ctx context.Context, tenantID string) ([]models.User, error) {
	return f.users, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == userID {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	n.ID = "notif-1"
	f.notifications = append(f.notifications, *n)
	return nil
}

type fakeEmail struct {
	sent []string // recipient addresses
	err  error
}

func (f *fakeEmail) SendMail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeBot struct {
	pushes []models.BotPushRequest
	err    error
}

func (f *fakeBot) Push(ctx context.Context, req models.BotPushRequest) error {
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, req)
	return nil
}

func allOn(id string, chatID int64) models.User {
	return models.User{
		ID:             id,
		TenantID:       "tenant-1",
		Email:          id + "@example.com",
		TelegramChatID: &chatID,
		NotificationPreferences: models.NotificationPreferences{
			InAppEnabled:             true,
			EmailEnabled:             true,
			TelegramBotEnabled:       true,
			NotifyOnNewLead:          true,
			NotifyOnLeadStatusChange: true,
			NotifyOnLeadAssignment:   true,
		},
	}
}

func leadFixture() (models.Lead, models.Rule, models.Channel, models.Message) {
	username := "golang_jobs"
	lead := models.Lead{ID: "lead-1", TenantID: "tenant-1", RuleID: "rule-1", GlobalMessageID: "msg-1", Score: 0.91}
	rule := models.Rule{ID: "rule-1", TenantID: "tenant-1", Name: "hiring"}
	channel := models.Channel{ID: "chan-1", TgID: 100, Title: "Go Jobs", Username: &username}
	message := models.Message{ID: "msg-1", ChannelID: "chan-1", TgMessageID: 42, Text: "hiring a go dev"}
	return lead, rule, channel, message
}

func newNotifier(st Store, email EmailSender, bot BotPusher) *Notifier {
	return New(st, email, bot, nil, Config{FrontendURL: "https://app.example.com"}, nil, logging.NewLogger())
}

func TestLeadCreatedFansOutAllChannels(t *testing.T) {
	st := &fakeStore{users: []models.User{allOn("user-1", 555)}}
	email := &fakeEmail{}
	bot := &fakeBot{}
	n := newNotifier(st, email, bot)

	lead, rule, channel, message := leadFixture()
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Len(t, st.notifications, 1)
	require.Equal(t, models.NotificationLeadCreated, st.notifications[0].Type)
	require.Equal(t, "user-1", st.notifications[0].RecipientUserID)
	require.Equal(t, "lead-1", *st.notifications[0].RelatedLeadID)

	require.Equal(t, []string{"user-1@example.com"}, email.sent)

	require.Len(t, bot.pushes, 1)
	push := bot.pushes[0]
	require.Equal(t, int64(555), push.ChatID)
	require.Equal(t, "hiring", push.RuleName)
	require.Equal(t, "https://app.example.com/leads/lead-1", push.LeadURL)
	require.Equal(t, "https://t.me/golang_jobs/42", push.MessageLink)
}

func TestLeadCreatedRespectsEventToggle(t *testing.T) {
	user := allOn("user-1", 555)
	user.NotifyOnNewLead = false
	st := &fakeStore{users: []models.User{user}}
	email := &fakeEmail{}
	bot := &fakeBot{}
	n := newNotifier(st, email, bot)

	lead, rule, channel, message := leadFixture()
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Empty(t, st.notifications)
	require.Empty(t, email.sent)
	require.Empty(t, bot.pushes)
}

func TestLeadCreatedRespectsChannelToggles(t *testing.T) {
	user := allOn("user-1", 555)
	user.EmailEnabled = false
	user.TelegramBotEnabled = false
	st := &fakeStore{users: []models.User{user}}
	email := &fakeEmail{}
	bot := &fakeBot{}
	n := newNotifier(st, email, bot)

	lead, rule, channel, message := leadFixture()
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Len(t, st.notifications, 1)
	require.Empty(t, email.sent)
	require.Empty(t, bot.pushes)
}

func TestBotPushSkippedWithoutChatID(t *testing.T) {
	user := allOn("user-1", 0)
	user.TelegramChatID = nil
	st := &fakeStore{users: []models.User{user}}
	bot := &fakeBot{}
	n := newNotifier(st, &fakeEmail{}, bot)

	lead, rule, channel, message := leadFixture()
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Empty(t, bot.pushes)
}

func TestSendFailuresAreAbsorbed(t *testing.T) {
	st := &fakeStore{users: []models.User{allOn("user-1", 555)}, insertErr: errors.New("db down")}
	email := &fakeEmail{err: errors.New("smtp refused")}
	bot := &fakeBot{err: errors.New("gateway down")}
	n := newNotifier(st, email, bot)

	lead, rule, channel, message := leadFixture()
	// Must not panic or propagate anything.
	n.LeadCreated(context.Background(), lead, rule, channel, message)
}

func TestLeadStatusChanged(t *testing.T) {
	st := &fakeStore{users: []models.User{allOn("user-1", 555)}}
	n := newNotifier(st, nil, nil)

	lead, _, _, _ := leadFixture()
	n.LeadStatusChanged(context.Background(), lead, models.LeadStatusNew, models.LeadStatusInProgress)

	require.Len(t, st.notifications, 1)
	require.Equal(t, models.NotificationLeadStatusChanged, st.notifications[0].Type)
	require.Contains(t, st.notifications[0].Message, "new")
	require.Contains(t, st.notifications[0].Message, "in_progress")
}

func TestLeadAssignedNotifiesOnlyAssignee(t *testing.T) {
	assignee := allOn("user-2", 777)
	st := &fakeStore{users: []models.User{allOn("user-1", 555), assignee}}
	bot := &fakeBot{}
	n := newNotifier(st, &fakeEmail{}, bot)

	lead, _, _, _ := leadFixture()
	n.LeadAssigned(context.Background(), lead, "user-2")

	require.Len(t, st.notifications, 1)
	require.Equal(t, "user-2", st.notifications[0].RecipientUserID)
	require.Equal(t, models.NotificationLeadAssigned, st.notifications[0].Type)
	require.Len(t, bot.pushes, 1)
	require.Equal(t, int64(777), bot.pushes[0].ChatID)
}

type fixedSummarizer struct {
	summary string
	err     error
}

func (f *fixedSummarizer) Summarize(ctx context.Context, messageText string, maxLen int) (string, error) {
	return f.summary, f.err
}

func TestLongPreviewUsesSummarizer(t *testing.T) {
	st := &fakeStore{users: []models.User{allOn("user-1", 555)}}
	n := New(st, nil, nil, &fixedSummarizer{summary: "short summary"}, Config{FrontendURL: "https://app.example.com"}, nil, logging.NewLogger())

	lead, rule, channel, message := leadFixture()
	message.Text = strings.Repeat("long text ", 100)
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Len(t, st.notifications, 1)
	require.Contains(t, st.notifications[0].Message, "short summary")
}

func TestLongPreviewFallsBackToTruncation(t *testing.T) {
	st := &fakeStore{users: []models.User{allOn("user-1", 555)}}
	n := New(st, nil, nil, &fixedSummarizer{err: errors.New("llm down")}, Config{FrontendURL: "https://app.example.com"}, nil, logging.NewLogger())

	lead, rule, channel, message := leadFixture()
	message.Text = strings.Repeat("long text ", 100)
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Len(t, st.notifications, 1)
	require.Contains(t, st.notifications[0].Message, "...")
}

func newTestMetrics() *Metrics {
	return &Metrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "notifications_total"}, []string{"channel", "status"}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "notification_delivery_duration_seconds"}, []string{"channel"}),
	}
}

func TestDeliveryMetricsCountPerChannel(t *testing.T) {
	st := &fakeStore{users: []models.User{allOn("user-1", 555)}}
	email := &fakeEmail{err: errors.New("smtp refused")}
	bot := &fakeBot{}
	m := newTestMetrics()
	n := New(st, email, bot, nil, Config{FrontendURL: "https://app.example.com"}, m, logging.NewLogger())

	lead, rule, channel, message := leadFixture()
	n.LeadCreated(context.Background(), lead, rule, channel, message)

	require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("in_app", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("email", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("bot", "ok")))
}

func TestPrivateChannelMessageLink(t *testing.T) {
	channel := models.Channel{ID: "chan-1", TgID: -1001234567, Title: "Private"}
	require.Equal(t, "https://t.me/c/1234567/42", channel.MessageLink(42))
}

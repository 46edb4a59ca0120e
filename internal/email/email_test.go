package email

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct{ sent []Message }

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestSendEmailWrapsPlainTextInLayout(t *testing.T) {
	rec := &recordingSender{}
	m := NewMailer(rec)

	err := m.SendEmail(context.Background(), executor.EmailMessage{
		To:      "ana@example.com",
		Subject: "Thanks",
		HTML:    "Hi Ana,\nsee you soon & thanks",
	})
	require.NoError(t, err)
	require.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent[0].HTML, "<title>Thanks</title>")
	assert.Contains(t, rec.sent[0].HTML, "Hi Ana,<br>see you soon &amp; thanks")
}

func TestSendEmailKeepsAuthoredHTML(t *testing.T) {
	rec := &recordingSender{}
	m := NewMailer(rec)

	require.NoError(t, m.SendEmail(context.Background(), executor.EmailMessage{
		To: "ana@example.com", Subject: "Signed", HTML: "<p>Your quote is <b>signed</b></p>",
	}))
	assert.Contains(t, rec.sent[0].HTML, "<p>Your quote is <b>signed</b></p>")
}

func TestSendDailyBriefRendersLocalTimes(t *testing.T) {
	rec := &recordingSender{}
	m := NewMailer(rec)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	err = m.SendDailyBrief(context.Background(), executor.DailyBrief{
		To:            "tech@example.com",
		RecipientName: "Sam",
		Date:          time.Date(2026, 3, 2, 0, 0, 0, 0, ny),
		Timezone:      "America/New_York",
		Appointments: []executor.BriefAppointment{{
			Title:       "Boiler service",
			StartTime:   time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
			EndTime:     time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC),
			Address:     "1 Main St",
			ContactName: "Ana",
		}},
	})
	require.NoError(t, err)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "Your schedule for Monday, March 2", rec.sent[0].Subject)
	assert.Contains(t, rec.sent[0].HTML, "09:00 - 10:30")
	assert.Contains(t, rec.sent[0].HTML, "Good morning, Sam")
	assert.Contains(t, rec.sent[0].HTML, "1 Main St")
}

func TestBrevoSenderPostsMessage(t *testing.T) {
	var got brevoEmailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/smtp/email", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	b := NewBrevoSender("key-1", "ops@example.com", "Ops")
	b.baseURL = srv.URL

	require.NoError(t, b.Send(context.Background(), Message{To: "ana@example.com", ToName: "Ana", Subject: "Hi", HTML: "<p>x</p>"}))
	assert.Equal(t, "ops@example.com", got.Sender.Email)
	require.Len(t, got.To, 1)
	assert.Equal(t, "Ana", got.To[0].Name)
}

func TestBrevoSenderServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBrevoSender("key-1", "ops@example.com", "Ops")
	b.baseURL = srv.URL

	err := b.Send(context.Background(), Message{To: "ana@example.com", Subject: "Hi"})
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

type emailConfig struct {
	enabled  bool
	provider string
	brevoKey string
	smtpHost string
}

func (c emailConfig) GetEmailEnabled() bool       { return c.enabled }
func (c emailConfig) GetEmailProvider() string    { return c.provider }
func (c emailConfig) GetBrevoAPIKey() string      { return c.brevoKey }
func (c emailConfig) GetEmailFromName() string    { return "Ops" }
func (c emailConfig) GetEmailFromAddress() string { return "ops@example.com" }
func (c emailConfig) GetSMTPHost() string         { return c.smtpHost }
func (c emailConfig) GetSMTPPort() int            { return 587 }
func (c emailConfig) GetSMTPUsername() string     { return "" }
func (c emailConfig) GetSMTPPassword() string     { return "" }

func TestNewSenderSelectsProvider(t *testing.T) {
	s, err := NewSender(emailConfig{})
	require.NoError(t, err)
	assert.IsType(t, NoopSender{}, s)

	s, err = NewSender(emailConfig{enabled: true, brevoKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &BrevoSender{}, s)

	s, err = NewSender(emailConfig{enabled: true, provider: "smtp", smtpHost: "mail.local"})
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	_, err = NewSender(emailConfig{enabled: true, provider: "pigeon"})
	assert.Error(t, err)
}

func TestSMTPMessageAddressesNamedRecipient(t *testing.T) {
	s := NewSMTPSender("mail.local", 587, "", "", "ops@example.com", "Dispatch")

	msg, err := s.buildMessage(Message{
		To:          "jane@example.com",
		ToName:      "Jane Doe",
		Subject:     "Your appointment",
		HTML:        "<p>See you soon</p>",
		Attachments: []Attachment{{FileName: "contract.pdf", Content: []byte("%PDF"), MIMEType: "application/pdf"}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Jane Doe")
	assert.Contains(t, raw, "<jane@example.com>")
	assert.Contains(t, raw, "Subject: Your appointment")
	assert.Contains(t, raw, "contract.pdf")
}

func TestSMTPMessageRejectsInvalidRecipient(t *testing.T) {
	s := NewSMTPSender("mail.local", 587, "", "", "ops@example.com", "Dispatch")

	_, err := s.buildMessage(Message{To: "not-an-address", Subject: "x"})
	assert.Error(t, err)
}

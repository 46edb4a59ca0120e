package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct{ url string }

func (c testConfig) GetWhatsAppURL() string      { return c.url }
func (c testConfig) GetWhatsAppDeviceID() string { return "device-1" }
func (c testConfig) GetWhatsAppUsername() string { return "admin" }
func (c testConfig) GetWhatsAppPassword() string { return "secret" }
func (c testConfig) IsWhatsAppEnabled() bool     { return c.url != "" }

func TestSendSMSPostsToGateway(t *testing.T) {
	var got gowaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send/message", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "device-1", r.Header.Get("X-Device-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"code":"SUCCESS","results":{"message_id":"wamid-1","status":"sent"}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig{url: srv.URL}, logger.Nop())
	id, err := c.SendSMS(context.Background(), executor.SMSMessage{LocationID: "loc-1", To: "+16502530000", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "wamid-1", id)
	assert.Equal(t, "16502530000", got.Phone)
	assert.Equal(t, "hi", got.Message)
}

func TestSendSMSServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig{url: srv.URL}, logger.Nop())
	_, err := c.SendSMS(context.Background(), executor.SMSMessage{To: "+16502530000", Body: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestNewClientDisabledWithoutURL(t *testing.T) {
	assert.Nil(t, NewClient(testConfig{}, logger.Nop()))
}

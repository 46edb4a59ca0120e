// Package whatsapp sends messages through a go-whatsapp-web-multidevice (gowa) gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/httpkit"
	"fieldservice_backend/platform/logger"
)

const serviceName = "whatsapp gateway"

type Client struct {
	baseURL  string
	username string
	password string
	deviceID string
	http     *http.Client
	log      *logger.Logger
}

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type gowaResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

// NewClient returns nil when no gateway is configured.
func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	if !cfg.IsWhatsAppEnabled() {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		username: cfg.GetWhatsAppUsername(),
		password: cfg.GetWhatsAppPassword(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// SendSMS delivers msg over WhatsApp. msg.To must already be E.164.
func (c *Client) SendSMS(ctx context.Context, msg executor.SMSMessage) (string, error) {
	payload := gowaRequest{
		// gowa expects the number without the leading plus.
		Phone:   strings.TrimPrefix(msg.To, "+"),
		Message: msg.Body,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/send/message", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", httpkit.TransportError(serviceName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := httpkit.StatusError(serviceName, resp); err != nil {
		return "", err
	}

	var out gowaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode whatsapp response: %w", err)
	}

	c.log.Info("whatsapp sent via gowa", "locationId", msg.LocationID, "messageId", out.Results.MessageID)
	return out.Results.MessageID, nil
}

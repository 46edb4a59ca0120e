// Package crm provides the HTTP client for the GoHighLevel (LeadConnector) API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/httpkit"
	"fieldservice_backend/platform/logger"

	"golang.org/x/time/rate"
)

const (
	serviceName       = "crm"
	defaultBaseURL    = "https://services.leadconnectorhq.com"
	defaultAPIVersion = "2021-07-28"
	defaultRPS        = 8
)

// Client talks to the CRM on behalf of every tenant. Requests share one rate limiter.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// New returns nil when the CRM is not configured.
func New(cfg config.CRMConfig, log *logger.Logger) *Client {
	if !cfg.IsCRMEnabled() {
		return nil
	}

	baseURL := strings.TrimRight(cfg.GetCRMBaseURL(), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := cfg.GetCRMAPIVersion()
	if version == "" {
		version = defaultAPIVersion
	}
	rps := cfg.GetCRMRequestsPerSecond()
	if rps <= 0 {
		rps = defaultRPS
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.GetCRMAPIToken(),
		version:    version,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		log:        log,
	}
}

// do sends a JSON request and decodes the JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal crm request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Version", c.version)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return httpkit.TransportError(serviceName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := httpkit.StatusError(serviceName, resp); err != nil {
		c.log.Warn("crm request failed", "method", method, "path", path, "status", resp.StatusCode)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode crm response: %w", err)
	}
	return nil
}

package httpkit

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"fieldservice_backend/platform/apperr"
)

const maxErrorBody = 2048

// StatusError converts a non-2xx response from an external service into an apperr.
// 429 and 5xx become KindUnavailable so callers may retry; other 4xx are rejections.
// It returns nil for 2xx responses. The body is read but not closed.
func StatusError(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("%s returned %d: %s", service, resp.StatusCode, strings.TrimSpace(string(data)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return apperr.Unavailable(msg, nil)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.Forbidden(msg)
	default:
		return apperr.BadRequest(msg)
	}
}

// TransportError wraps a failed round trip as KindUnavailable.
func TransportError(service string, err error) error {
	return apperr.Unavailable(service+" request failed", err)
}

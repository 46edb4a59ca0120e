package httpkit

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"fieldservice_backend/platform/apperr"

	"github.com/stretchr/testify/assert"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestStatusError(t *testing.T) {
	assert.NoError(t, StatusError("crm", response(http.StatusCreated, "")))

	err := StatusError("crm", response(http.StatusBadGateway, "upstream down"))
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	assert.Contains(t, err.Error(), "upstream down")

	assert.True(t, apperr.Is(StatusError("crm", response(http.StatusTooManyRequests, "")), apperr.KindUnavailable))
	assert.True(t, apperr.Is(StatusError("crm", response(http.StatusUnprocessableEntity, "")), apperr.KindBadRequest))
	assert.True(t, apperr.Is(StatusError("crm", response(http.StatusNotFound, "")), apperr.KindNotFound))
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	err := TransportError("weather", errors.New("dial tcp: refused"))
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

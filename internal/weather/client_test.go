package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct{ url string }

func (c testConfig) GetWeatherBaseURL() string { return c.url }

func TestForecastPicksClosestHour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "2026-03-02", r.URL.Query().Get("start_date"))
		_, _ = w.Write([]byte(`{"hourly":{
			"time":["2026-03-02T13:00","2026-03-02T14:00","2026-03-02T15:00"],
			"temperature_2m":[8.1,9.4,10.0],
			"precipitation_probability":[10,85,20],
			"wind_speed_10m":[5,45,10],
			"weather_code":[1,95,2]
		}}`))
	}))
	defer srv.Close()

	c := New(testConfig{url: srv.URL}, logger.Nop())
	f, err := c.Forecast(context.Background(), executor.ForecastQuery{
		Latitude:  40.7,
		Longitude: -74.0,
		At:        time.Date(2026, 3, 2, 14, 10, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "thunderstorm", f.Summary)
	assert.Equal(t, 9.4, f.TemperatureC)
	assert.Equal(t, 10.0, f.Severity)
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, 0.0, Severity(0, 0, 5))
	assert.Equal(t, 4.0, Severity(63, 60, 0))
	assert.Equal(t, 10.0, Severity(95, 90, 70))
}

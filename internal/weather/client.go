// Package weather fetches hourly forecasts from Open-Meteo for weather-aware automations.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/httpkit"
	"fieldservice_backend/platform/logger"
)

const (
	serviceName    = "open-meteo"
	defaultBaseURL = "https://api.open-meteo.com"
	hourLayout     = "2006-01-02T15:04"
)

// Client is the HTTP client for the Open-Meteo forecast API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func New(cfg config.WeatherConfig, log *logger.Logger) *Client {
	baseURL := strings.TrimRight(cfg.GetWeatherBaseURL(), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type forecastResponse struct {
	Hourly struct {
		Time                     []string  `json:"time"`
		Temperature              []float64 `json:"temperature_2m"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
		WindSpeed                []float64 `json:"wind_speed_10m"`
		WeatherCode              []int     `json:"weather_code"`
	} `json:"hourly"`
}

// Forecast returns the conditions for the hour closest to q.At.
func (c *Client) Forecast(ctx context.Context, q executor.ForecastQuery) (executor.Forecast, error) {
	day := q.At.UTC().Format(time.DateOnly)
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', 4, 64))
	params.Set("hourly", "temperature_2m,precipitation_probability,wind_speed_10m,weather_code")
	params.Set("timezone", "UTC")
	params.Set("start_date", day)
	params.Set("end_date", day)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forecast?"+params.Encode(), nil)
	if err != nil {
		return executor.Forecast{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return executor.Forecast{}, httpkit.TransportError(serviceName, err)
	}
	defer resp.Body.Close()

	if err := httpkit.StatusError(serviceName, resp); err != nil {
		return executor.Forecast{}, err
	}

	var out forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return executor.Forecast{}, fmt.Errorf("decode forecast: %w", err)
	}

	idx := closestHour(out.Hourly.Time, q.At)
	if idx < 0 {
		return executor.Forecast{}, apperr.NotFound("no forecast for " + day)
	}

	h := out.Hourly
	f := executor.Forecast{
		TemperatureC:             at(h.Temperature, idx),
		PrecipitationProbability: at(h.PrecipitationProbability, idx),
		WindSpeedKmh:             at(h.WindSpeed, idx),
	}
	code := 0
	if idx < len(h.WeatherCode) {
		code = h.WeatherCode[idx]
	}
	f.Summary = describe(code)
	f.Severity = Severity(code, f.PrecipitationProbability, f.WindSpeedKmh)

	c.log.Debug("forecast fetched", "lat", q.Latitude, "lng", q.Longitude, "at", q.At, "severity", f.Severity)
	return f, nil
}

func closestHour(times []string, target time.Time) int {
	best, bestDiff := -1, math.MaxFloat64
	for i, raw := range times {
		t, err := time.Parse(hourLayout, raw)
		if err != nil {
			continue
		}
		diff := math.Abs(t.Sub(target.UTC()).Hours())
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

// Severity scores conditions for outdoor work from 0 (fine) to 10 (unsafe).
func Severity(code int, precipitationProbability, windKmh float64) float64 {
	score := codeSeverity(code)
	switch {
	case precipitationProbability >= 80:
		score += 2
	case precipitationProbability >= 50:
		score++
	}
	switch {
	case windKmh >= 60:
		score += 4
	case windKmh >= 40:
		score += 2
	case windKmh >= 25:
		score++
	}
	return math.Min(score, 10)
}

// WMO weather interpretation codes.
func codeSeverity(code int) float64 {
	switch {
	case code >= 95:
		return 8
	case code >= 85:
		return 6
	case code >= 71 && code <= 77:
		return 5
	case code >= 80:
		return 4
	case code >= 61 && code <= 67:
		return 3
	case code >= 51 && code <= 57:
		return 2
	case code == 45 || code == 48:
		return 1
	default:
		return 0
	}
}

func describe(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 85 && code <= 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}

var _ executor.WeatherProvider = (*Client)(nil)

package executor

import (
	"context"
	"fmt"

	"fieldservice_backend/internal/automation/render"
)

// checkWeather stores the forecast for the appointment in the run context as "weather"
// so later actions and conditions can read weather.severity and friends.
func (e *Executor) checkWeather(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Weather == nil {
		return "", disabled(inv.action.Type)
	}
	lat, latOK := e.coordinate(inv, "latitude", "appointment.latitude", "property.latitude", "contact.latitude")
	lng, lngOK := e.coordinate(inv, "longitude", "appointment.longitude", "property.longitude", "contact.longitude")
	if !latOK || !lngOK {
		return "", fmt.Errorf("no coordinates in context")
	}

	at := inv.run.event.OccurredAt
	for _, raw := range []any{inv.config["at"], lookup(inv, "appointment.startTime")} {
		if t, ok := render.Time(raw); ok {
			at = t
			break
		}
	}

	forecast, err := e.deps.Weather.Forecast(ctx, ForecastQuery{Latitude: lat, Longitude: lng, At: at})
	if err != nil {
		return "", err
	}
	inv.run.ctx.Set("weather", map[string]any{
		"severity":                 forecast.Severity,
		"summary":                  forecast.Summary,
		"temperatureC":             forecast.TemperatureC,
		"precipitationProbability": forecast.PrecipitationProbability,
		"windSpeedKmh":             forecast.WindSpeedKmh,
	})
	return fmt.Sprintf("severity %.1f: %s", forecast.Severity, forecast.Summary), nil
}

func (e *Executor) coordinate(inv *invocation, key string, paths ...string) (float64, bool) {
	if v, ok := inv.number(key); ok {
		return v, true
	}
	for _, p := range paths {
		if v, ok := render.Number(lookup(inv, p)); ok {
			return v, true
		}
	}
	return 0, false
}

func lookup(inv *invocation, path string) any {
	v, _ := inv.run.ctx.Lookup(path)
	return v
}

// generateContract renders the quote as a contract, stores it and exposes contract.url.
func (e *Executor) generateContract(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Contracts == nil {
		return "", disabled(inv.action.Type)
	}
	quoteID := inv.str("quoteId", "quote.id")
	if quoteID == "" && inv.run.event.EntityType == "quote" {
		quoteID = inv.run.event.EntityID
	}
	if quoteID == "" {
		return "", fmt.Errorf("no quote in context")
	}

	req := ContractRequest{
		LocationID:    inv.locationID(),
		QuoteID:       quoteID,
		Title:         firstNonEmpty(inv.str("title", "quote.title"), "Service agreement"),
		CustomerName:  inv.str("customerName", "contact.name"),
		CustomerEmail: inv.str("customerEmail", "contact.email"),
		Address:       inv.str("address", "property.address", "contact.address"),
		Total:         inv.str("total", "quote.total"),
		Terms:         inv.str("terms", "quote.terms"),
		SignURL:       inv.str("signUrl", "quote.signUrl"),
	}
	if items, ok := lookup(inv, "quote.lineItems").([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			req.Lines = append(req.Lines, ContractLine{
				Description: render.Stringify(m["description"]),
				Quantity:    render.Stringify(m["quantity"]),
				Amount:      render.Stringify(m["amount"]),
			})
		}
	}

	doc, err := e.deps.Contracts.GenerateContract(ctx, req)
	if err != nil {
		return "", err
	}
	inv.run.ctx.Set("contract.url", doc.URL)
	inv.run.ctx.Set("contract.key", doc.ObjectKey)
	return "contract stored at " + doc.ObjectKey, nil
}

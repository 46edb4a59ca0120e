package render

import (
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext() Context {
	evt := domain.NewEvent(domain.EventQuoteSigned, "loc-1", "quote-1", map[string]any{
		"contact": map[string]any{"firstName": "Jane", "phone": "+14155552671"},
		"quote":   map[string]any{"total": 1250.5, "items": []any{map[string]any{"name": "Roof"}}},
	})
	return BuildContext(evt)
}

func TestStringResolvesDotPaths(t *testing.T) {
	ctx := sampleContext()
	out := String("Hi {{contact.firstName}}, total {{ quote.total }} for {{quote.items.0.name}}", ctx)
	assert.Equal(t, "Hi Jane, total 1250.5 for Roof", out)
}

func TestStringMissingRendersEmpty(t *testing.T) {
	assert.Equal(t, "Hi , see you at ", String("Hi {{contact.lastName}}, see you at {{appointment.time}}", sampleContext()))
}

func TestStringIsSinglePass(t *testing.T) {
	ctx := Context{"a": "{{b}}", "b": "secret"}
	assert.Equal(t, "{{b}}", String("{{a}}", ctx))
}

func TestLookupIsCaseInsensitiveFallback(t *testing.T) {
	v, ok := sampleContext().Lookup("Contact.FirstName")
	require.True(t, ok)
	assert.Equal(t, "Jane", v)
}

func TestLookupCaseFoldIsDeterministic(t *testing.T) {
	ctx := Context{"contact": map[string]any{"Email": "b@example.com", "EMAIL": "a@example.com", "eMail": "c@example.com"}}
	for i := 0; i < 50; i++ {
		v, ok := ctx.Lookup("contact.email")
		require.True(t, ok)
		assert.Equal(t, "a@example.com", v, "EMAIL sorts first")
	}

	ctx = Context{"contact": map[string]any{"Email": "b@example.com", "email": "exact@example.com"}}
	v, ok := ctx.Lookup("contact.email")
	require.True(t, ok)
	assert.Equal(t, "exact@example.com", v)
}

func TestBuildContextDoesNotAliasEventData(t *testing.T) {
	data := map[string]any{"quote": map[string]any{"total": 10.0}}
	ctx := BuildContext(domain.NewEvent(domain.EventQuoteSigned, "loc", "q", data))
	ctx.Set("quote.total", 99.0)
	assert.Equal(t, 10.0, data["quote"].(map[string]any)["total"])
	assert.Equal(t, "loc", ctx["locationId"])
}

func TestConfigRendersNestedAndSkips(t *testing.T) {
	cfg := map[string]any{
		"message":    "Hello {{contact.firstName}}",
		"recipients": []any{"{{contact.phone}}"},
		"action":     map[string]any{"config": map[string]any{"message": "{{contact.firstName}}"}},
	}
	out := Config(cfg, sampleContext(), "action")
	assert.Equal(t, "Hello Jane", out["message"])
	assert.Equal(t, []any{"+14155552671"}, out["recipients"])
	assert.Equal(t, cfg["action"], out["action"])
}

func TestValueConversions(t *testing.T) {
	n, ok := Number("12.5")
	assert.True(t, ok)
	assert.Equal(t, 12.5, n)

	ts, ok := Time("2026-03-01T10:00:00Z")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ts)

	_, ok = Time("soon")
	assert.False(t, ok)
}

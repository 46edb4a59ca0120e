package seed

import (
	"context"
	"testing"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDefinitionsAreValid(t *testing.T) {
	s, err := New(memory.New(), logger.Nop())
	require.NoError(t, err)

	params := map[string]string{"signedStageId": "stage-signed"}
	for _, def := range s.Definitions() {
		_, err := def.build("loc-1", params)
		assert.NoError(t, err, def.Key)
	}
}

func TestSeedLocationIsIdempotent(t *testing.T) {
	store := memory.New()
	s, err := New(store, logger.Nop())
	require.NoError(t, err)
	params := map[string]string{"signedStageId": "stage-signed"}

	first, err := s.SeedLocation(context.Background(), "loc-1", params)
	require.NoError(t, err)
	assert.Len(t, first.Created, len(s.Definitions()))
	assert.Empty(t, first.Existing)

	second, err := s.SeedLocation(context.Background(), "loc-1", params)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.ElementsMatch(t, first.Created, second.Existing)

	rules, err := store.ListRules(context.Background(), domain.RuleFilter{LocationID: "loc-1"})
	require.NoError(t, err)
	assert.Len(t, rules, len(s.Definitions()))
}

func TestSeedLocationSubstitutesParams(t *testing.T) {
	store := memory.New()
	s, err := New(store, logger.Nop())
	require.NoError(t, err)

	_, err = s.SeedLocation(context.Background(), "loc-1", map[string]string{"signedStageId": "stage-signed"})
	require.NoError(t, err)

	rule, err := store.FindRuleBySeedKey(context.Background(), "loc-1", "quote-signed-thank-you")
	require.NoError(t, err)
	require.Len(t, rule.Actions, 3)
	assert.Equal(t, domain.ActionMoveToStage, rule.Actions[1].Type)
	assert.Equal(t, "stage-signed", rule.Actions[1].Config["stageId"])
	assert.True(t, rule.Actions[1].Critical)
	assert.True(t, rule.IsActive)
}

func TestSeedLocationSkipsRulesMissingParams(t *testing.T) {
	store := memory.New()
	s, err := New(store, logger.Nop())
	require.NoError(t, err)

	res, err := s.SeedLocation(context.Background(), "loc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"quote-signed-thank-you"}, res.Skipped)
	assert.NotContains(t, res.Created, "quote-signed-thank-you")
}

func TestSeedLocationKeepsTenantsApart(t *testing.T) {
	store := memory.New()
	s, err := New(store, logger.Nop())
	require.NoError(t, err)

	_, err = s.SeedLocation(context.Background(), "loc-1", nil)
	require.NoError(t, err)
	res, err := s.SeedLocation(context.Background(), "loc-2", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Created)
	assert.Empty(t, res.Existing)
}

func TestNewFromYAMLRejectsDuplicateKeys(t *testing.T) {
	data := []byte(`
rules:
  - key: a
    name: one
    trigger: {type: sms-received}
    actions: [{type: send-sms, config: {message: hi}}]
  - key: a
    name: two
    trigger: {type: sms-received}
    actions: [{type: send-sms, config: {message: hi}}]
`)
	_, err := NewFromYAML(memory.New(), data, logger.Nop())
	assert.Error(t, err)
}

func TestSeedLocationRequiresLocation(t *testing.T) {
	s, err := New(memory.New(), logger.Nop())
	require.NoError(t, err)
	_, err = s.SeedLocation(context.Background(), " ", nil)
	assert.Error(t, err)
}

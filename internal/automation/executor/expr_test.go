package executor

import (
	"testing"

	"fieldservice_backend/internal/automation/render"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalExpression(t *testing.T) {
	ctx := render.Context{
		"weather": map[string]any{"severity": 8.0, "summary": "Storm"},
		"quote":   map[string]any{"total": "1200", "status": "signed"},
		"flag":    true,
	}
	cases := []struct {
		expr string
		want bool
	}{
		{"weather.severity > 7", true},
		{"weather.severity <= 7", false},
		{"quote.total >= 1000 && quote.status == 'signed'", true},
		{"quote.status == \"SIGNED\"", true},
		{"quote.status != 'signed' || weather.severity == 8", true},
		{"!(weather.severity > 7)", false},
		{"missing.path == null", true},
		{"missing.path > 3", false},
		{"flag == true", true},
		{"flag", true},
		{"missing", false},
		{"(1 < 2) && (3 >= 3)", true},
	}
	for _, tc := range cases {
		got, err := EvalExpression(tc.expr, ctx)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalExpressionSyntaxErrors(t *testing.T) {
	for _, expr := range []string{"a = b", "a & b", "'open", "(a > 1", "a > 1 )"} {
		_, err := EvalExpression(expr, render.Context{})
		assert.Error(t, err, expr)
	}
}

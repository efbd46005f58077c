package expression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleEvaluator_Evaluate(t *testing.T) {
	bindings := map[string]any{
		"elapsed":  3700.0,
		"priority": 5,
		"status":   "approved",
		"urgent":   true,
		"route": map[string]any{
			"state":     "running",
			"initiator": "jdoe",
		},
	}

	tests := []struct {
		name       string
		expression string
		expected   bool
	}{
		{"empty expression is true", "", true},
		{"whitespace only is true", "   ", true},
		{"boolean literal", "true", true},
		{"negated literal", "!false", true},
		{"elapsed seconds comparison", "elapsed > 3600", true},
		{"elapsed with seconds suffix", "elapsed > 3600s", true},
		{"elapsed with hour suffix", "elapsed > 1h", true},
		{"elapsed with minute suffix", "elapsed < 90m", true},
		{"elapsed below bound", "elapsed > 7200", false},
		{"numeric equality", "priority == 5", true},
		{"numeric inequality", "priority != 3", true},
		{"string equality", "status == 'approved'", true},
		{"string mismatch", "status == 'rejected'", false},
		{"double quoted string", `status == "approved"`, true},
		{"boolean binding", "urgent", true},
		{"dotted identifier", "route.state == 'running'", true},
		{"dotted identifier mismatch", "route.initiator == 'admin'", false},
		{"conjunction", "elapsed > 3600 && urgent", true},
		{"conjunction short false", "elapsed > 7200 && urgent", false},
		{"disjunction", "elapsed > 7200 || urgent", true},
		{"parentheses", "(elapsed > 7200 || urgent) && priority >= 5", true},
		{"negated comparison", "!(status == 'rejected')", true},
	}

	evaluator := &SimpleEvaluator{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(context.Background(), tt.expression, bindings)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSimpleEvaluator_Evaluate_Errors(t *testing.T) {
	evaluator := &SimpleEvaluator{}
	bindings := map[string]any{"elapsed": 100.0}

	tests := []struct {
		name       string
		expression string
	}{
		{"unknown identifier", "missing > 10"},
		{"non-boolean result", "elapsed"},
		{"unterminated string", "status == 'open"},
		{"trailing garbage", "elapsed > 10 ???"},
		{"missing parenthesis", "(elapsed > 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluator.Evaluate(context.Background(), tt.expression, bindings)
			require.Error(t, err)

			var evalErr *EvaluationError

			assert.True(t, errors.As(err, &evalErr))
			assert.Equal(t, tt.expression, evalErr.Expression)
		})
	}
}

func TestSimpleEvaluator_NonBooleanWrapsSentinel(t *testing.T) {
	evaluator := &SimpleEvaluator{}

	_, err := evaluator.Evaluate(context.Background(), "42", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotBoolean))
}

func TestForLanguage(t *testing.T) {
	evaluator, err := ForLanguage("")
	require.NoError(t, err)
	assert.NotNil(t, evaluator)

	evaluator, err = ForLanguage("simple")
	require.NoError(t, err)
	assert.NotNil(t, evaluator)

	_, err = ForLanguage("jexl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownLanguage))
}

// Package expression provides pluggable boolean condition evaluation for
// escalation rules and transitions.
package expression

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotBoolean indicates a condition evaluated to a non-boolean value.
	ErrNotBoolean = errors.New("condition did not evaluate to a boolean")

	// ErrUnknownLanguage indicates no evaluator is registered for a language.
	ErrUnknownLanguage = errors.New("unknown condition language")
)

// Evaluator evaluates a boolean condition expression against bindings. The
// core engine depends only on this interface, never on a concrete syntax.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, bindings map[string]any) (bool, error)
}

// EvaluationError wraps a condition evaluation failure with its expression.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating condition %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ForLanguage returns the evaluator registered for the given language tag.
// The empty tag selects the built-in simple language.
func ForLanguage(language string) (Evaluator, error) {
	switch language {
	case "", "simple":
		return &SimpleEvaluator{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}
}

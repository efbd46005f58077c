package expression

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SimpleEvaluator implements the built-in "simple" condition language:
// literals (numbers, quoted strings, true/false), identifiers resolved in the
// bindings (dotted access into nested maps), numeric suffixes s/m/h read as
// seconds, comparison operators, && || and !.
type SimpleEvaluator struct{}

// Evaluate parses and evaluates expr against bindings. An empty expression
// evaluates to true, matching an unconditional transition.
func (e *SimpleEvaluator) Evaluate(_ context.Context, expr string, bindings map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	p := &parser{input: expr, bindings: bindings}

	value, err := p.parseOr()
	if err != nil {
		return false, &EvaluationError{Expression: expr, Err: err}
	}

	p.skipSpace()

	if p.pos < len(p.input) {
		return false, &EvaluationError{
			Expression: expr,
			Err:        fmt.Errorf("unexpected input at position %d", p.pos),
		}
	}

	result, ok := value.(bool)
	if !ok {
		return false, &EvaluationError{
			Expression: expr,
			Err:        fmt.Errorf("%w: got %T", ErrNotBoolean, value),
		}
	}

	return result, nil
}

type parser struct {
	input    string
	pos      int
	bindings map[string]any
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *parser) accept(token string) bool {
	p.skipSpace()

	if strings.HasPrefix(p.input[p.pos:], token) {
		p.pos += len(token)

		return true
	}

	return false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		lb, rb, err := bothBool(left, right)
		if err != nil {
			return nil, err
		}

		left = lb || rb
	}

	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.accept("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		lb, rb, err := bothBool(left, right)
		if err != nil {
			return nil, err
		}

		left = lb && rb
	}

	return left, nil
}

var comparisonOps = []string{"==", "!=", "<=", ">=", "<", ">"}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	p.skipSpace()

	for _, op := range comparisonOps {
		if !p.accept(op) {
			continue
		}

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return compare(op, left, right)
	}

	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	p.skipSpace()

	if p.pos < len(p.input) && p.input[p.pos] == '!' && !strings.HasPrefix(p.input[p.pos:], "!=") {
		p.pos++

		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("operator ! requires a boolean, got %T", value)
		}

		return !b, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	p.skipSpace()

	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	ch := p.input[p.pos]

	switch {
	case ch == '(':
		p.pos++

		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if !p.accept(")") {
			return nil, fmt.Errorf("missing closing parenthesis")
		}

		return value, nil
	case ch == '\'' || ch == '"':
		return p.parseString(ch)
	case unicode.IsDigit(rune(ch)):
		return p.parseNumber()
	case unicode.IsLetter(rune(ch)) || ch == '_':
		return p.parseIdentifier()
	default:
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, p.pos)
	}
}

func (p *parser) parseString(quote byte) (any, error) {
	start := p.pos + 1

	for i := start; i < len(p.input); i++ {
		if p.input[i] == quote {
			value := p.input[start:i]
			p.pos = i + 1

			return value, nil
		}
	}

	return nil, fmt.Errorf("unterminated string literal")
}

// parseNumber reads an integer or float literal. A trailing s/m/h unit
// converts the value to seconds, so "elapsed > 3600s" and "elapsed > 1h"
// compare against the same bound.
func (p *parser) parseNumber() (any, error) {
	start := p.pos

	for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
		p.pos++
	}

	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}

	if p.pos < len(p.input) {
		switch p.input[p.pos] {
		case 's':
			p.pos++
		case 'm':
			p.pos++

			value *= 60
		case 'h':
			p.pos++

			value *= 3600
		}
	}

	return value, nil
}

func (p *parser) parseIdentifier() (any, error) {
	start := p.pos

	for p.pos < len(p.input) {
		ch := rune(p.input[p.pos])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' {
			p.pos++

			continue
		}

		break
	}

	name := p.input[start:p.pos]

	switch name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	return resolve(name, p.bindings)
}

// resolve looks up a possibly dotted identifier in the bindings, descending
// into nested maps.
func resolve(name string, bindings map[string]any) (any, error) {
	parts := strings.Split(name, ".")
	current := any(bindings)

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("identifier %q does not resolve to a value", name)
		}

		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q", name)
		}
	}

	return current, nil
}

func compare(op string, left, right any) (any, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	switch op {
	case "==":
		return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right), nil
	case "!=":
		return fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right), nil
	}

	return nil, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func bothBool(left, right any) (bool, bool, error) {
	lb, lok := left.(bool)
	rb, rok := right.(bool)

	if !lok || !rok {
		return false, false, fmt.Errorf("logical operator requires booleans, got %T and %T", left, right)
	}

	return lb, rb, nil
}

// Package protocol defines the narrow interfaces the engine consumes its
// external collaborators through.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrChainNotFound indicates no action chain is registered for the id.
	ErrChainNotFound = errors.New("action chain not found")
)

// ActionError wraps an action-chain execution failure. Chain errors are
// scoped to the single rule or work item that invoked the chain.
type ActionError struct {
	Chain string
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action chain %s failed: %v", e.Chain, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Action is one executable step of a chain.
type Action interface {
	Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (any, error)
}

// ActionFactory builds actions from declarative configuration.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
}

// ActionRunner executes a named action chain against a context. The engine
// treats it as opaque: it returns a result or fails.
type ActionRunner interface {
	Run(ctx context.Context, chainID string, params map[string]any) (any, error)
}

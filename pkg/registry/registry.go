// Package registry maps declared action chains to their executable actions.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/routeflow/pkg/protocol"
)

// Chain declares a named action chain: an action type plus its configuration.
type Chain struct {
	ID         string
	ActionType string
	Config     map[string]any
}

// Registry is the in-process protocol.ActionRunner: chains resolve to
// registered action factories at execution time.
type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
	chains          map[string]Chain
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
		chains:          make(map[string]Chain),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

func (r *Registry) RegisterChain(chain Chain) {
	r.chains[chain.ID] = chain
}

// CreateAction builds an action of the given type from configuration.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	return factory.Create(config)
}

// Run executes the named chain with the given parameters.
func (r *Registry) Run(ctx context.Context, chainID string, params map[string]any) (any, error) {
	chain, ok := r.chains[chainID]
	if !ok {
		return nil, &protocol.ActionError{Chain: chainID, Err: protocol.ErrChainNotFound}
	}

	action, err := r.CreateAction(chain.ActionType, chain.Config)
	if err != nil {
		return nil, &protocol.ActionError{Chain: chainID, Err: err}
	}

	result, err := action.Execute(ctx, params, r.logger.With("chain", chainID))
	if err != nil {
		return nil, &protocol.ActionError{Chain: chainID, Err: err}
	}

	return result, nil
}

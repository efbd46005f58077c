// Package log provides the log action chain: it writes its parameters to the
// structured log at a configured level.
package log

import (
	"context"
	"log/slog"

	"github.com/dukex/routeflow/pkg/protocol"
)

// ActionFactory builds log actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config), nil
}

// Action logs its invocation parameters.
type Action struct {
	message string
	level   string
}

func NewAction(config map[string]any) *Action {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	return &Action{message: message, level: level}
}

func (a *Action) Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "log")

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, a.message, "params", params)
	case "warn", "warning":
		logger.WarnContext(ctx, a.message, "params", params)
	case "error":
		logger.ErrorContext(ctx, a.message, "params", params)
	default:
		logger.InfoContext(ctx, a.message, "params", params)
	}

	return map[string]any{"logged": true}, nil
}

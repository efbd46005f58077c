package routing

import (
	"errors"
	"fmt"

	"github.com/dukex/routeflow/pkg/models"
)

var (
	// ErrNoStartNode indicates the graph has no reachable start node.
	ErrNoStartNode = errors.New("graph has no reachable start node")

	// ErrTerminalNodesPending indicates completion was requested before all
	// terminal nodes were reached.
	ErrTerminalNodesPending = errors.New("terminal nodes not yet reached")
)

// GraphError indicates a malformed or unreachable graph. It surfaces
// synchronously to the engine caller.
type GraphError struct {
	RouteID string
	GraphID string
	Err     error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph %s of route %s: %v", e.GraphID, e.RouteID, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// IllegalStateError indicates an operation invalid for the current route or
// node state. It surfaces synchronously to the engine caller and leaves state
// unchanged.
type IllegalStateError struct {
	Op    string
	ID    string
	State string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("%s not allowed for %s in state %s", e.Op, e.ID, e.State)
}

// IsIllegalState checks whether an error is a state-transition violation.
func IsIllegalState(err error) bool {
	var illegal *IllegalStateError

	return errors.As(err, &illegal)
}

func illegalNodeState(op string, node *models.Node) error {
	return &IllegalStateError{Op: op, ID: node.ID, State: string(node.State)}
}

func illegalRouteState(op string, route *models.Route) error {
	return &IllegalStateError{Op: op, ID: route.ID, State: string(route.State)}
}

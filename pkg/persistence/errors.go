package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrRouteNotFound indicates a route was not found by the given id.
	ErrRouteNotFound = errors.New("route not found")

	// ErrNodeNotFound indicates a node was not found by the given id.
	ErrNodeNotFound = errors.New("node not found")

	// ErrRouteAlreadyExists indicates a route with the same id already exists.
	ErrRouteAlreadyExists = errors.New("route already exists")

	// ErrConcurrencyConflict indicates an optimistic save raced a concurrent
	// update. The operation may be retried against reloaded state.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrScheduleNotFound indicates a schedule contribution was not found.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// RouteError wraps route-related store errors with operation context.
type RouteError struct {
	Op      string
	RouteID string
	Err     error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s failed for route %s: %v", e.Op, e.RouteID, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

func (e *RouteError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NodeError wraps node-related store errors with operation context.
type NodeError struct {
	Op     string
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s failed for node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsConcurrencyConflict checks whether an error is a retryable optimistic
// save conflict.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

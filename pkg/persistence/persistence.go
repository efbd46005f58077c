// Package persistence provides the storage abstraction for routes, nodes and
// schedule contributions.
package persistence

import (
	"context"

	"github.com/dukex/routeflow/pkg/models"
)

// GraphStore persists route and node documents. Saves are transactional per
// document and apply optimistic concurrency: a save against a stale version
// fails with ErrConcurrencyConflict and may be retried by the caller.
type GraphStore interface {
	// CreateRoute persists a freshly instantiated route with its nodes.
	CreateRoute(ctx context.Context, route *models.Route, nodes []*models.Node) error

	RouteByID(ctx context.Context, id string) (*models.Route, error)
	SaveRoute(ctx context.Context, route *models.Route) error

	NodeByID(ctx context.Context, id string) (*models.Node, error)
	SaveNode(ctx context.Context, node *models.Node) error
	NodesByRoute(ctx context.Context, routeID string) ([]*models.Node, error)

	// QueryEligibleNodes returns the suspended nodes of the repository that
	// carry at least one unexecuted-or-repeatable escalation rule. The query
	// runs unrestricted: escalation scans cross user boundaries.
	QueryEligibleNodes(ctx context.Context, repository string) ([]*models.Node, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ScheduleStore persists declarative schedule contributions.
type ScheduleStore interface {
	Schedules(ctx context.Context) ([]*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

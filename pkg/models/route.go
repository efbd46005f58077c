// Package models defines the core domain models for graph-based workflow routing.
package models

import "time"

// RouteState represents the lifecycle state of a route instance.
type RouteState string

const (
	RouteStateCreated  RouteState = "created"  // Instantiated, start node not yet activated
	RouteStateRunning  RouteState = "running"  // Start node activated, route in progress
	RouteStateDone     RouteState = "done"     // All terminal nodes reached
	RouteStateCanceled RouteState = "canceled" // Canceled, terminal
)

// Terminal reports whether the state admits no further transitions.
func (s RouteState) Terminal() bool {
	return s == RouteStateDone || s == RouteStateCanceled
}

// Route is a persisted instance of a workflow graph. It is created on
// instantiation from a graph definition, mutated on every transition and
// never deleted by the engine (archival is external).
type Route struct {
	ID         string     `json:"id"          validate:"required"`
	GraphID    string     `json:"graph_id"    validate:"required"`
	Repository string     `json:"repository"  validate:"required"`
	State      RouteState `json:"state"       validate:"required"`
	Title      string     `json:"title,omitempty"`

	// Variables is the string-keyed context the graph's conditions and
	// action chains evaluate against.
	Variables map[string]any `json:"variables"`

	// AttachedDocumentIDs references the documents this route was started on.
	AttachedDocumentIDs []string `json:"attached_document_ids,omitempty"`

	Initiator string `json:"initiator"`

	// ParentRouteID and ParentNodeID are set when this route runs as a
	// sub-workflow awaited by a node of another route.
	ParentRouteID string `json:"parent_route_id,omitempty"`
	ParentNodeID  string `json:"parent_node_id,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Version is the optimistic concurrency counter maintained by the store.
	Version int64 `json:"version"`
}

// SetVariables merges data into the route variables, overwriting existing keys.
func (r *Route) SetVariables(data map[string]any) {
	if r.Variables == nil {
		r.Variables = make(map[string]any, len(data))
	}

	for k, v := range data {
		r.Variables[k] = v
	}
}

// Duration returns the elapsed time since the route started, or false when no
// start timestamp was recorded.
func (r *Route) Duration(now time.Time) (time.Duration, bool) {
	if r.StartedAt == nil {
		return 0, false
	}

	return now.Sub(*r.StartedAt), true
}

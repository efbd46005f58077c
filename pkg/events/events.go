// Package events defines the audit event types emitted by the routing engine.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the audit event topic. Delivery is fire-and-forget from the
// engine's point of view.
const Topic = "routeflow.audit"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Route lifecycle events.
	RouteStartedEvent  EventType = "route.started"
	RouteDoneEvent     EventType = "route.done"
	RouteCanceledEvent EventType = "route.canceled"

	// Node lifecycle events.
	NodeSuspendedEvent EventType = "node.suspended"
	NodeResumedEvent   EventType = "node.resumed"

	// Escalation events.
	EscalationExecutedEvent EventType = "escalation.executed"
	EscalationFailedEvent   EventType = "escalation.failed"

	// Scheduler events.
	ScheduleFiredEvent EventType = "schedule.fired"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Repository string         `json:"repository,omitempty"`
	RouteID    string         `json:"route_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates the shared envelope for an audit event.
func NewBaseEvent(eventType EventType, routeID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RouteID:   routeID,
	}
}

type RouteStarted struct {
	BaseEvent

	GraphID   string `json:"graph_id"`
	Initiator string `json:"initiator"`
}

func (e RouteStarted) GetType() EventType {
	return RouteStartedEvent
}

// RouteDone carries the completion audit payload: the duration (present only
// when a start timestamp was recorded), the initiator and the variables
// snapshot for graph-typed routes.
type RouteDone struct {
	BaseEvent

	Initiator string         `json:"initiator"`
	Duration  *time.Duration `json:"duration,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (e RouteDone) GetType() EventType {
	return RouteDoneEvent
}

type RouteCanceled struct {
	BaseEvent

	Initiator string `json:"initiator"`
}

func (e RouteCanceled) GetType() EventType {
	return RouteCanceledEvent
}

type NodeSuspended struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e NodeSuspended) GetType() EventType {
	return NodeSuspendedEvent
}

type NodeResumed struct {
	BaseEvent

	NodeID       string `json:"node_id"`
	TaskID       string `json:"task_id,omitempty"`
	TargetNodeID string `json:"target_node_id,omitempty"`
}

func (e NodeResumed) GetType() EventType {
	return NodeResumedEvent
}

type EscalationExecuted struct {
	BaseEvent

	NodeID string `json:"node_id"`
	RuleID string `json:"rule_id"`
	Chain  string `json:"chain"`
}

func (e EscalationExecuted) GetType() EventType {
	return EscalationExecutedEvent
}

type EscalationFailed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	RuleID string `json:"rule_id"`
	Chain  string `json:"chain"`
	Error  string `json:"error"`
}

func (e EscalationFailed) GetType() EventType {
	return EscalationFailedEvent
}

type ScheduleFired struct {
	BaseEvent

	ScheduleID    string `json:"schedule_id"`
	EventID       string `json:"event_id"`
	EventCategory string `json:"event_category,omitempty"`
	Username      string `json:"username,omitempty"`
}

func (e ScheduleFired) GetType() EventType {
	return ScheduleFiredEvent
}

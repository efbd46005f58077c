// Package routing owns the route and node lifecycle: start, suspend, resume,
// cancel and completion, with transition evaluation between nodes.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/routeflow/pkg/eventbus"
	"github.com/dukex/routeflow/pkg/events"
	"github.com/dukex/routeflow/pkg/expression"
	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
)

// Engine advances persisted routes through their graphs and emits audit
// events for every lifecycle change. All state mutations go through the
// store's optimistic saves; callers absorb conflicts by retrying against
// reloaded state.
type Engine struct {
	logger    *slog.Logger
	store     persistence.GraphStore
	bus       eventbus.EventPublisher
	evaluator expression.Evaluator
	now       func() time.Time
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(logger *slog.Logger, store persistence.GraphStore, bus eventbus.EventPublisher, evaluator expression.Evaluator) *Engine {
	return &Engine{
		logger:    logger.With("module", "routing_engine"),
		store:     store,
		bus:       bus,
		evaluator: evaluator,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now

	return e
}

// Start transitions a created route to running, activates the graph's start
// node and persists both. It fails with GraphError when the graph has no
// reachable start node.
func (e *Engine) Start(ctx context.Context, routeID string, initialVariables map[string]any) error {
	route, err := e.store.RouteByID(ctx, routeID)
	if err != nil {
		return err
	}

	if route.State != models.RouteStateCreated {
		return illegalRouteState("start", route)
	}

	nodes, err := e.store.NodesByRoute(ctx, routeID)
	if err != nil {
		return err
	}

	var startNode *models.Node

	for _, node := range nodes {
		if node.Start {
			startNode = node

			break
		}
	}

	if startNode == nil {
		return &GraphError{RouteID: route.ID, GraphID: route.GraphID, Err: ErrNoStartNode}
	}

	now := e.now().UTC()
	route.State = models.RouteStateRunning
	route.StartedAt = &now
	route.SetVariables(initialVariables)

	if err := e.store.SaveRoute(ctx, route); err != nil {
		return err
	}

	startNode.State = models.NodeStateRunning
	if err := e.store.SaveNode(ctx, startNode); err != nil {
		return err
	}

	e.publish(ctx, route.ID, events.RouteStarted{
		BaseEvent: e.baseEvent(events.RouteStartedEvent, route),
		GraphID:   route.GraphID,
		Initiator: route.Initiator,
	})

	e.logger.InfoContext(ctx, "Route started",
		"route_id", route.ID, "graph_id", route.GraphID, "start_node", startNode.ID)

	return nil
}

// Suspend parks a running node to await external input or a sub-route. The
// suspension timestamp feeds elapsed-time escalation conditions.
func (e *Engine) Suspend(ctx context.Context, nodeID string) error {
	node, err := e.store.NodeByID(ctx, nodeID)
	if err != nil {
		return err
	}

	if node.State != models.NodeStateRunning {
		return illegalNodeState("suspend", node)
	}

	now := e.now().UTC()
	node.State = models.NodeStateSuspended
	node.SuspendedAt = &now

	if err := e.store.SaveNode(ctx, node); err != nil {
		return err
	}

	e.publish(ctx, node.RouteID, events.NodeSuspended{
		BaseEvent: events.NewBaseEvent(events.NodeSuspendedEvent, node.RouteID),
		NodeID:    node.ID,
	})

	return nil
}

// Resume completes a suspended node: data merges into the route variables,
// outgoing transitions are evaluated in declaration order and the first whose
// condition holds (or the default transition when none match) activates its
// target node. It fails with IllegalStateError when the node is not
// suspended, leaving state unchanged.
func (e *Engine) Resume(ctx context.Context, routeID, nodeID, taskID string, data map[string]any, status string) error {
	node, err := e.store.NodeByID(ctx, nodeID)
	if err != nil {
		return err
	}

	if node.State != models.NodeStateSuspended {
		return illegalNodeState("resume", node)
	}

	route, err := e.store.RouteByID(ctx, routeID)
	if err != nil {
		return err
	}

	route.SetVariables(data)

	bindings := ConditionBindings(route, node, e.now())
	if status != "" {
		bindings["status"] = status
	}

	target, err := e.chooseTransition(ctx, route, node, bindings)
	if err != nil {
		return err
	}

	// The target must be activatable before anything is persisted: failing
	// after the first save would leave the node done with nothing activated.
	var targetNode *models.Node

	if target != "" {
		targetNode, err = e.store.NodeByID(ctx, target)
		if err != nil {
			return err
		}

		if targetNode.State.Terminal() {
			return illegalNodeState("activate", targetNode)
		}
	}

	node.State = models.NodeStateDone
	node.SuspendedAt = nil

	if err := e.store.SaveRoute(ctx, route); err != nil {
		return err
	}

	if err := e.store.SaveNode(ctx, node); err != nil {
		return err
	}

	resumed := events.NodeResumed{
		BaseEvent: events.NewBaseEvent(events.NodeResumedEvent, route.ID),
		NodeID:    node.ID,
		TaskID:    taskID,
	}

	if targetNode != nil {
		targetNode.State = models.NodeStateRunning
		if err := e.store.SaveNode(ctx, targetNode); err != nil {
			return err
		}

		resumed.TargetNodeID = target
	}

	e.publish(ctx, route.ID, resumed)

	e.logger.InfoContext(ctx, "Node resumed",
		"route_id", route.ID, "node_id", node.ID, "target_node", target)

	if node.Stop {
		return e.completeIfFinished(ctx, route.ID)
	}

	return nil
}

// chooseTransition evaluates outgoing transitions in declaration order. The
// first condition evaluating true wins; otherwise the first transition marked
// default; otherwise the route ends at this node.
func (e *Engine) chooseTransition(ctx context.Context, route *models.Route, node *models.Node, bindings map[string]any) (string, error) {
	var fallback string

	for _, transition := range node.Transitions {
		if transition.Default && fallback == "" {
			fallback = transition.TargetNodeID
		}

		if transition.Condition == "" && !transition.Default {
			return transition.TargetNodeID, nil
		}

		if transition.Condition == "" {
			continue
		}

		matched, err := e.evaluator.Evaluate(ctx, transition.Condition, bindings)
		if err != nil {
			return "", fmt.Errorf("transition %s of node %s: %w", transition.ID, node.ID, err)
		}

		if matched {
			return transition.TargetNodeID, nil
		}
	}

	return fallback, nil
}

// Cancel transitions the route and all its non-terminal nodes to canceled,
// unconditionally and idempotently.
func (e *Engine) Cancel(ctx context.Context, routeID string) error {
	route, err := e.store.RouteByID(ctx, routeID)
	if err != nil {
		return err
	}

	if route.State == models.RouteStateCanceled {
		return nil
	}

	route.State = models.RouteStateCanceled
	if err := e.store.SaveRoute(ctx, route); err != nil {
		return err
	}

	nodes, err := e.store.NodesByRoute(ctx, routeID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.State.Terminal() {
			continue
		}

		node.State = models.NodeStateCanceled
		node.SuspendedAt = nil

		if err := e.store.SaveNode(ctx, node); err != nil {
			return err
		}
	}

	e.publish(ctx, route.ID, events.RouteCanceled{
		BaseEvent: e.baseEvent(events.RouteCanceledEvent, route),
		Initiator: route.Initiator,
	})

	e.logger.InfoContext(ctx, "Route canceled", "route_id", route.ID)

	return nil
}

// SetDone completes the route. It is only valid once every terminal node has
// been reached. The completion event carries the duration (when a start
// timestamp was recorded), the initiator and the variables snapshot. A parent
// route awaiting this one resumes with the final state as input.
func (e *Engine) SetDone(ctx context.Context, routeID string) error {
	route, err := e.store.RouteByID(ctx, routeID)
	if err != nil {
		return err
	}

	if route.State != models.RouteStateRunning {
		return illegalRouteState("setDone", route)
	}

	nodes, err := e.store.NodesByRoute(ctx, routeID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.Stop && node.State != models.NodeStateDone {
			return &GraphError{RouteID: route.ID, GraphID: route.GraphID, Err: ErrTerminalNodesPending}
		}
	}

	route.State = models.RouteStateDone
	if err := e.store.SaveRoute(ctx, route); err != nil {
		return err
	}

	done := events.RouteDone{
		BaseEvent: e.baseEvent(events.RouteDoneEvent, route),
		Initiator: route.Initiator,
		Variables: route.Variables,
	}

	if duration, ok := route.Duration(e.now()); ok {
		done.Duration = &duration
	}

	e.publish(ctx, route.ID, done)

	e.logger.InfoContext(ctx, "Route done", "route_id", route.ID)

	if route.ParentRouteID != "" {
		return e.resumeParentRoute(ctx, route)
	}

	return nil
}

// completeIfFinished calls SetDone once every terminal node is done.
func (e *Engine) completeIfFinished(ctx context.Context, routeID string) error {
	nodes, err := e.store.NodesByRoute(ctx, routeID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.Stop && node.State != models.NodeStateDone {
			return nil
		}
	}

	return e.SetDone(ctx, routeID)
}

// resumeParentRoute resumes the parent's waiting node with the child's final
// state as input.
func (e *Engine) resumeParentRoute(ctx context.Context, child *models.Route) error {
	data := map[string]any{
		"sub_route_id":    child.ID,
		"sub_route_state": string(child.State),
	}

	err := e.Resume(ctx, child.ParentRouteID, child.ParentNodeID, "", data, string(child.State))
	if err != nil {
		return fmt.Errorf("failed to resume parent route %s: %w", child.ParentRouteID, err)
	}

	return nil
}

func (e *Engine) baseEvent(eventType events.EventType, route *models.Route) events.BaseEvent {
	base := events.NewBaseEvent(eventType, route.ID)
	base.Repository = route.Repository

	return base
}

// publish emits an audit event fire-and-forget: delivery failures are logged,
// never surfaced to the lifecycle operation.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish audit event",
			"event_type", event.GetType(), "error", err)
	}
}

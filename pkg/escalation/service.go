// Package escalation implements the periodic, cluster-safe discovery and
// best-effort exactly-once execution of time-based escalation rules on
// suspended nodes.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/routeflow/pkg/dispatch"
	"github.com/dukex/routeflow/pkg/eventbus"
	"github.com/dukex/routeflow/pkg/events"
	"github.com/dukex/routeflow/pkg/expression"
	"github.com/dukex/routeflow/pkg/guard"
	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
	"github.com/dukex/routeflow/pkg/protocol"
	"github.com/dukex/routeflow/pkg/routing"
	"github.com/dukex/routeflow/pkg/tracer"
)

// Service scans repositories for executable escalation rules and hands them
// to the dispatcher. The execution guard only approximates mutual exclusion
// for its TTL window, so every work item re-validates rule state inside its
// own transactional step before acting.
type Service struct {
	logger     *slog.Logger
	tracer     trace.Tracer
	guard      *guard.ExecutionGuard
	store      persistence.GraphStore
	dispatcher *dispatch.Dispatcher
	runner     protocol.ActionRunner
	evaluator  expression.Evaluator
	bus        eventbus.EventPublisher
	maxRetries int
	now        func() time.Time
}

// NewService creates a scan service over the given collaborators.
func NewService(
	logger *slog.Logger,
	executionGuard *guard.ExecutionGuard,
	store persistence.GraphStore,
	dispatcher *dispatch.Dispatcher,
	runner protocol.ActionRunner,
	evaluator expression.Evaluator,
	bus eventbus.EventPublisher,
) *Service {
	return &Service{
		logger:     logger.With("module", "escalation"),
		tracer:     tracer.Tracer("routeflow-escalation"),
		guard:      executionGuard,
		store:      store,
		dispatcher: dispatcher,
		runner:     runner,
		evaluator:  evaluator,
		bus:        bus,
		maxRetries: dispatch.DefaultMaxRetries,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now

	return s
}

// Scan runs one escalation pass over a repository. It returns an error only
// when the guard store is unavailable or already claimed elsewhere made the
// claim; rule-level failures are logged and never abort the pass.
func (s *Service) Scan(ctx context.Context, repository string) error {
	scanCtx, span := tracer.StartSpan(ctx, s.tracer, "escalation_scan",
		attribute.String(tracer.RepositoryKey, repository),
	)
	defer span.End()

	logger := s.logger.With("repository", repository)

	running, err := s.guard.IsExecutionRunning(scanCtx, repository)
	if err != nil {
		tracer.SetError(span, err)

		return fmt.Errorf("escalation scan aborted: %w", err)
	}

	if running {
		logger.DebugContext(scanCtx, "Escalation scan already in flight, skipping")

		return nil
	}

	// The claim self-expires after the guard TTL; a crashed scanner blocks
	// peers at most that long.
	if err := s.guard.SetExecutionRunning(scanCtx, repository); err != nil {
		tracer.SetError(span, err)

		return fmt.Errorf("escalation scan aborted: %w", err)
	}

	nodes, err := s.store.QueryEligibleNodes(scanCtx, repository)
	if err != nil {
		tracer.SetError(span, err)

		return fmt.Errorf("failed to query eligible nodes: %w", err)
	}

	logger.InfoContext(scanCtx, "Escalation scan started", "candidate_nodes", len(nodes))

	submitted := 0

	for _, node := range nodes {
		route, err := s.store.RouteByID(scanCtx, node.RouteID)
		if err != nil {
			logger.ErrorContext(scanCtx, "Failed to load route for node",
				"node_id", node.ID, "route_id", node.RouteID, "error", err)

			continue
		}

		for _, rule := range node.EscalationRules {
			if !rule.Live() {
				continue
			}

			matched, err := s.evaluator.Evaluate(
				scanCtx, rule.Condition, routing.ConditionBindings(route, node, s.now()))
			if err != nil {
				// A failing condition aborts only this rule, not the scan.
				logger.ErrorContext(scanCtx, "Escalation rule evaluation failed",
					"node_id", node.ID, "rule_id", rule.ID, "error", err)

				continue
			}

			if !matched {
				continue
			}

			s.submit(repository, node.ID, rule.ID)

			submitted++
		}
	}

	logger.InfoContext(scanCtx, "Escalation scan finished", "submitted", submitted)

	return nil
}

// submit hands a rule execution to the dispatcher. Items are coalescing: a
// second scan racing within the guard TTL gap resubmits the same key and only
// the latest submission executes. They are not idempotent: execution
// re-validates rule state before acting.
func (s *Service) submit(repository, nodeID, ruleID string) {
	key := models.WorkKey{Repository: repository, NodeID: nodeID, RuleID: ruleID}

	s.dispatcher.Submit(dispatch.Work{
		Key:        key,
		Idempotent: false,
		Coalescing: true,
		MaxRetries: s.maxRetries,
		Run: func(ctx context.Context) error {
			return s.executeRule(ctx, key)
		},
	})
}

// executeRule is the work-item body: re-open the node, re-check the rule
// still applies, invoke the action chain and persist the outcome through an
// optimistic save. Conflicts bubble up for the dispatcher's bounded retry.
func (s *Service) executeRule(ctx context.Context, key models.WorkKey) error {
	execCtx, span := tracer.StartSpan(ctx, s.tracer, "escalation_execute",
		attribute.String(tracer.NodeIDKey, key.NodeID),
		attribute.String(tracer.RuleIDKey, key.RuleID),
	)
	defer span.End()

	logger := s.logger.With("node_id", key.NodeID, "rule_id", key.RuleID)

	node, err := s.store.NodeByID(execCtx, key.NodeID)
	if err != nil {
		if errors.Is(err, persistence.ErrNodeNotFound) {
			logger.WarnContext(execCtx, "Node gone, discarding escalation work")

			return nil
		}

		return err
	}

	// Resume or cancel may have raced the scan; a node no longer suspended
	// discards the work instead of reactivating terminal state.
	if node.State != models.NodeStateSuspended {
		logger.InfoContext(execCtx, "Node no longer suspended, discarding escalation work",
			"state", node.State)

		return nil
	}

	rule := node.Rule(key.RuleID)
	if rule == nil {
		logger.WarnContext(execCtx, "Rule gone, discarding escalation work")

		return nil
	}

	// The rule may have fired between evaluation and execution.
	if !rule.Live() {
		logger.InfoContext(execCtx, "Rule already executed, discarding escalation work")

		return nil
	}

	route, err := s.store.RouteByID(execCtx, node.RouteID)
	if err != nil {
		return err
	}

	params := routing.ConditionBindings(route, node, s.now())

	result, err := s.runner.Run(execCtx, rule.Chain, params)
	if err != nil {
		tracer.SetError(span, err)
		logger.ErrorContext(execCtx, "Escalation action chain failed",
			"chain", rule.Chain, "error", err)

		s.publish(execCtx, node.RouteID, events.EscalationFailed{
			BaseEvent: s.baseEvent(events.EscalationFailedEvent, key, node),
			NodeID:    node.ID,
			RuleID:    rule.ID,
			Chain:     rule.Chain,
			Error:     err.Error(),
		})

		// Chain failures are domain errors: terminal for this item.
		return err
	}

	// Chain output lands in the route variables, persisted with the node in
	// the same optimistic step: a conflict on either save retries the item.
	if output, ok := result.(map[string]any); ok && len(output) > 0 {
		route.SetVariables(output)

		if err := s.store.SaveRoute(execCtx, route); err != nil {
			return err
		}
	}

	if !rule.MultipleExecution {
		rule.Executed = true
	}

	if err := s.store.SaveNode(execCtx, node); err != nil {
		return err
	}

	s.publish(execCtx, node.RouteID, events.EscalationExecuted{
		BaseEvent: s.baseEvent(events.EscalationExecutedEvent, key, node),
		NodeID:    node.ID,
		RuleID:    rule.ID,
		Chain:     rule.Chain,
	})

	logger.InfoContext(execCtx, "Escalation rule executed", "chain", rule.Chain)

	return nil
}

func (s *Service) baseEvent(eventType events.EventType, key models.WorkKey, node *models.Node) events.BaseEvent {
	base := events.NewBaseEvent(eventType, node.RouteID)
	base.Repository = key.Repository

	return base
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	if err := s.bus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish escalation event",
			"event_type", event.GetType(), "error", err)
	}
}

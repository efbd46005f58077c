package escalation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/routeflow/pkg/dispatch"
	"github.com/dukex/routeflow/pkg/expression"
	"github.com/dukex/routeflow/pkg/guard"
	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence/memory"
)

type recordingRunner struct {
	mu     sync.Mutex
	calls  []string
	failOn string
	result any
}

func (r *recordingRunner) Run(_ context.Context, chainID string, _ map[string]any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, chainID)

	if r.failOn != "" && chainID == r.failOn {
		return nil, errors.New("chain failed")
	}

	return r.result, nil
}

func (r *recordingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

type fixture struct {
	store      *memory.Store
	dispatcher *dispatch.Dispatcher
	runner     *recordingRunner
	service    *Service
	guardStore *guard.MemoryStore
}

func newFixture(t *testing.T, now func() time.Time) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := memory.NewStore()
	guardStore := guard.NewMemoryStore().WithClock(now)
	dispatcher := dispatch.NewDispatcher(logger, 1)
	runner := &recordingRunner{}

	service := NewService(
		logger,
		guard.NewExecutionGuard(guardStore),
		store,
		dispatcher,
		runner,
		&expression.SimpleEvaluator{},
		nil,
	).WithClock(now)

	return &fixture{
		store:      store,
		dispatcher: dispatcher,
		runner:     runner,
		service:    service,
		guardStore: guardStore,
	}
}

func seedSuspendedNode(t *testing.T, store *memory.Store, suspendedAt time.Time, rules ...*models.EscalationRule) {
	t.Helper()

	route := &models.Route{
		ID:         "r1",
		GraphID:    "graph-1",
		Repository: "default",
		State:      models.RouteStateRunning,
	}

	node := &models.Node{
		ID:              "n1",
		RouteID:         "r1",
		Repository:      "default",
		State:           models.NodeStateSuspended,
		SuspendedAt:     &suspendedAt,
		EscalationRules: rules,
	}

	require.NoError(t, store.CreateRoute(context.Background(), route, []*models.Node{node}))
}

func TestService_Scan_ExecutesMatchingRule(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(3601 * time.Second)

	f := newFixture(t, func() time.Time { return now })
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))

	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	assert.Equal(t, 1, f.runner.callCount())

	node, err := f.store.NodeByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, node.Rule("overdue").Executed)
}

func TestService_Scan_ConditionNotYetMet(t *testing.T) {
	suspendedAt := time.Now().UTC()

	f := newFixture(t, func() time.Time { return suspendedAt })
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))

	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	assert.Equal(t, 0, f.runner.callCount())
}

func TestService_Scan_SingleExecutionRuleFiresOnce(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))
	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	require.Equal(t, 1, f.runner.callCount())

	// A later scan from another member finds no live rule left.
	later := newFixture(t, func() time.Time { return now.Add(time.Hour) })
	later.store = f.store
	later.service = NewService(
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
		guard.NewExecutionGuard(guard.NewMemoryStore()),
		f.store,
		later.dispatcher,
		later.runner,
		&expression.SimpleEvaluator{},
		nil,
	).WithClock(func() time.Time { return now.Add(time.Hour) })

	require.NoError(t, later.service.Scan(context.Background(), "default"))
	later.dispatcher.Start(context.Background())
	later.dispatcher.Close()

	assert.Equal(t, 0, later.runner.callCount())
}

func TestService_Scan_MultipleExecutionRuleKeepsFiring(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:                "reminder",
		Condition:         "elapsed > 3600s",
		Chain:             "send-reminder",
		MultipleExecution: true,
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))
	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	require.Equal(t, 1, f.runner.callCount())

	node, err := f.store.NodeByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.False(t, node.Rule("reminder").Executed)
	assert.True(t, node.HasLiveEscalationRules())
}

func TestService_Scan_SkippedWhileClaimLive(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))

	// The claim from the first scan is still live: the second scan is a no-op
	// and must not double-submit.
	require.NoError(t, f.service.Scan(context.Background(), "default"))

	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	assert.Equal(t, 1, f.runner.callCount())
}

func TestService_Scan_GuardUnavailableAborts(t *testing.T) {
	suspendedAt := time.Now().UTC()

	f := newFixture(t, time.Now)
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	f.service.guard = guard.NewExecutionGuard(unavailableStore{})

	err := f.service.Scan(context.Background(), "default")
	require.Error(t, err)
	assert.True(t, errors.Is(err, guard.ErrUnavailable))
	assert.Equal(t, 0, f.runner.callCount())
}

type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (unavailableStore) Put(context.Context, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestService_ExecuteRule_DiscardsWhenNodeResumed(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))

	// The node leaves the suspended state between scan and execution.
	node, err := f.store.NodeByID(context.Background(), "n1")
	require.NoError(t, err)

	node.State = models.NodeStateCanceled
	require.NoError(t, f.store.SaveNode(context.Background(), node))

	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	assert.Equal(t, 0, f.runner.callCount())
}

func TestService_ExecuteRule_ChainFailureLeavesRuleLive(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	f.runner.failOn = "notify-manager"

	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "notify-manager",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))
	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	require.Equal(t, 1, f.runner.callCount())

	// The failed rule was not marked executed: the next scan retries it.
	node, err := f.store.NodeByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.False(t, node.Rule("overdue").Executed)
}

func TestService_ExecuteRule_ChainOutputPersistsInRouteVariables(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	f.runner.result = map[string]any{"escalated": true, "assignee": "manager"}

	seedSuspendedNode(t, f.store, suspendedAt, &models.EscalationRule{
		ID:        "overdue",
		Condition: "elapsed > 3600s",
		Chain:     "reassign",
	})

	require.NoError(t, f.service.Scan(context.Background(), "default"))
	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	route, err := f.store.RouteByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, true, route.Variables["escalated"])
	assert.Equal(t, "manager", route.Variables["assignee"])

	node, err := f.store.NodeByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, node.Rule("overdue").Executed)
}

func TestService_Scan_EvaluationErrorSkipsRuleOnly(t *testing.T) {
	suspendedAt := time.Now().UTC()
	now := suspendedAt.Add(2 * time.Hour)

	f := newFixture(t, func() time.Time { return now })
	seedSuspendedNode(t, f.store, suspendedAt,
		&models.EscalationRule{
			ID:        "broken",
			Condition: "nonsense ???",
			Chain:     "never-runs",
		},
		&models.EscalationRule{
			ID:        "overdue",
			Condition: "elapsed > 3600s",
			Chain:     "notify-manager",
		},
	)

	require.NoError(t, f.service.Scan(context.Background(), "default"))
	f.dispatcher.Start(context.Background())
	f.dispatcher.Close()

	require.Equal(t, 1, f.runner.callCount())
	assert.Equal(t, "notify-manager", f.runner.calls[0])
}

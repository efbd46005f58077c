package routing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/routeflow/pkg/expression"
	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence/memory"
)

func testEngine(store *memory.Store) *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return NewEngine(logger, store, nil, &expression.SimpleEvaluator{})
}

func seedRoute(t *testing.T, store *memory.Store, route *models.Route, nodes ...*models.Node) {
	t.Helper()
	require.NoError(t, store.CreateRoute(context.Background(), route, nodes))
}

func newRoute(id string, state models.RouteState) *models.Route {
	return &models.Route{
		ID:         id,
		GraphID:    "graph-1",
		Repository: "default",
		State:      state,
		Initiator:  "jdoe",
	}
}

func newNode(id, routeID string, state models.NodeState) *models.Node {
	return &models.Node{
		ID:         id,
		RouteID:    routeID,
		Repository: "default",
		State:      state,
	}
}

func TestEngine_Start(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	start := newNode("n-start", "r1", models.NodeStateReady)
	start.Start = true

	seedRoute(t, store, newRoute("r1", models.RouteStateCreated), start)

	require.NoError(t, engine.Start(ctx, "r1", map[string]any{"priority": 5}))

	route, err := store.RouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateRunning, route.State)
	assert.NotNil(t, route.StartedAt)
	assert.Equal(t, 5, int(route.Variables["priority"].(float64)))

	node, err := store.NodeByID(ctx, "n-start")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateRunning, node.State)
}

func TestEngine_Start_NoStartNode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	seedRoute(t, store, newRoute("r1", models.RouteStateCreated),
		newNode("n1", "r1", models.NodeStateReady))

	err := engine.Start(ctx, "r1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoStartNode))

	var graphErr *GraphError

	require.True(t, errors.As(err, &graphErr))
	assert.Equal(t, "r1", graphErr.RouteID)

	// The failed start leaves the route untouched.
	route, err := store.RouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateCreated, route.State)
}

func TestEngine_Start_WrongState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning))

	err := engine.Start(ctx, "r1", nil)
	require.Error(t, err)
	assert.True(t, IsIllegalState(err))
}

func TestEngine_SuspendAndResume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	approval := newNode("n-approval", "r1", models.NodeStateRunning)
	approval.Transitions = []models.Transition{
		{ID: "t-approved", Condition: "status == 'approved'", TargetNodeID: "n-publish"},
		{ID: "t-fallback", TargetNodeID: "n-reject", Default: true},
	}

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning),
		approval,
		newNode("n-publish", "r1", models.NodeStateReady),
		newNode("n-reject", "r1", models.NodeStateReady),
	)

	require.NoError(t, engine.Suspend(ctx, "n-approval"))

	node, err := store.NodeByID(ctx, "n-approval")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateSuspended, node.State)
	assert.NotNil(t, node.SuspendedAt)

	err = engine.Resume(ctx, "r1", "n-approval", "task-1",
		map[string]any{"comment": "lgtm"}, "approved")
	require.NoError(t, err)

	node, err = store.NodeByID(ctx, "n-approval")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateDone, node.State)
	assert.Nil(t, node.SuspendedAt)

	target, err := store.NodeByID(ctx, "n-publish")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateRunning, target.State)

	route, err := store.RouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "lgtm", route.Variables["comment"])
}

func TestEngine_Resume_DefaultTransition(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	approval := newNode("n-approval", "r1", models.NodeStateSuspended)
	suspendedAt := time.Now().UTC()
	approval.SuspendedAt = &suspendedAt
	approval.Transitions = []models.Transition{
		{ID: "t-approved", Condition: "status == 'approved'", TargetNodeID: "n-publish"},
		{ID: "t-fallback", TargetNodeID: "n-reject", Default: true},
	}

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning),
		approval,
		newNode("n-publish", "r1", models.NodeStateReady),
		newNode("n-reject", "r1", models.NodeStateReady),
	)

	require.NoError(t, engine.Resume(ctx, "r1", "n-approval", "", nil, "rejected"))

	target, err := store.NodeByID(ctx, "n-reject")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateRunning, target.State)

	untouched, err := store.NodeByID(ctx, "n-publish")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateReady, untouched.State)
}

func TestEngine_Resume_NotSuspended(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning),
		newNode("n1", "r1", models.NodeStateRunning))

	err := engine.Resume(ctx, "r1", "n1", "", nil, "")
	require.Error(t, err)
	assert.True(t, IsIllegalState(err))

	// State unchanged.
	node, err := store.NodeByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateRunning, node.State)
}

func TestEngine_Resume_TerminalTargetLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	suspendedAt := time.Now().UTC()
	approval := newNode("n-approval", "r1", models.NodeStateSuspended)
	approval.SuspendedAt = &suspendedAt
	approval.Transitions = []models.Transition{
		{ID: "t-next", TargetNodeID: "n-done"},
	}

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning),
		approval,
		newNode("n-done", "r1", models.NodeStateDone),
	)

	err := engine.Resume(ctx, "r1", "n-approval", "",
		map[string]any{"comment": "lgtm"}, "")
	require.Error(t, err)
	assert.True(t, IsIllegalState(err))

	// Nothing was persisted: the node is still suspended and the rejected
	// resume's data never reached the route.
	node, err := store.NodeByID(ctx, "n-approval")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateSuspended, node.State)
	assert.NotNil(t, node.SuspendedAt)

	route, err := store.RouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.NotContains(t, route.Variables, "comment")
}

func TestEngine_Resume_StopNodeCompletesRoute(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	final := newNode("n-final", "r1", models.NodeStateSuspended)
	final.Stop = true
	suspendedAt := time.Now().UTC()
	final.SuspendedAt = &suspendedAt

	route := newRoute("r1", models.RouteStateRunning)
	startedAt := time.Now().UTC().Add(-time.Hour)
	route.StartedAt = &startedAt

	seedRoute(t, store, route, final)

	require.NoError(t, engine.Resume(ctx, "r1", "n-final", "", nil, ""))

	saved, err := store.RouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, saved.State)
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	suspendedAt := time.Now().UTC()
	waiting := newNode("n-waiting", "r1", models.NodeStateSuspended)
	waiting.SuspendedAt = &suspendedAt

	done := newNode("n-done", "r1", models.NodeStateDone)

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning), waiting, done)

	require.NoError(t, engine.Cancel(ctx, "r1"))

	route, err := store.RouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateCanceled, route.State)

	node, err := store.NodeByID(ctx, "n-waiting")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateCanceled, node.State)
	assert.Nil(t, node.SuspendedAt)

	// Terminal nodes keep their state.
	node, err = store.NodeByID(ctx, "n-done")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateDone, node.State)

	// Cancel is idempotent.
	require.NoError(t, engine.Cancel(ctx, "r1"))
}

func TestEngine_SetDone_TerminalNodesPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	stop := newNode("n-stop", "r1", models.NodeStateRunning)
	stop.Stop = true

	seedRoute(t, store, newRoute("r1", models.RouteStateRunning), stop)

	err := engine.SetDone(ctx, "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTerminalNodesPending))
}

func TestEngine_SetDone_ResumesParentRoute(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := testEngine(store)

	suspendedAt := time.Now().UTC()
	parentWait := newNode("n-wait", "parent", models.NodeStateSuspended)
	parentWait.SuspendedAt = &suspendedAt
	parentWait.Stop = true

	seedRoute(t, store, newRoute("parent", models.RouteStateRunning), parentWait)

	childStop := newNode("n-child-stop", "child", models.NodeStateDone)
	childStop.Stop = true

	child := newRoute("child", models.RouteStateRunning)
	child.ParentRouteID = "parent"
	child.ParentNodeID = "n-wait"

	seedRoute(t, store, child, childStop)

	require.NoError(t, engine.SetDone(ctx, "child"))

	childRoute, err := store.RouteByID(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, childRoute.State)

	// The parent's waiting node resumed with the child outcome and, being the
	// last terminal node, completed the parent route too.
	parentRoute, err := store.RouteByID(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, parentRoute.State)
	assert.Equal(t, "child", parentRoute.Variables["sub_route_id"])
	assert.Equal(t, "done", parentRoute.Variables["sub_route_state"])
}

func TestConditionBindings(t *testing.T) {
	suspendedAt := time.Now().UTC().Add(-90 * time.Minute)
	node := newNode("n1", "r1", models.NodeStateSuspended)
	node.SuspendedAt = &suspendedAt

	route := newRoute("r1", models.RouteStateRunning)
	route.Variables = map[string]any{"priority": 5}
	route.AttachedDocumentIDs = []string{"doc-1", "doc-2"}

	bindings := ConditionBindings(route, node, time.Now().UTC())

	assert.Equal(t, 5, bindings["priority"])
	assert.Len(t, bindings["documents"], 2)
	assert.InDelta(t, 5400, bindings["elapsed"], 5)

	routeInfo, ok := bindings["route"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "r1", routeInfo["id"])

	nodeInfo, ok := bindings["node"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "suspended", nodeInfo["state"])
}

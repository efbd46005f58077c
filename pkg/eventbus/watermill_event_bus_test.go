package eventbus

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/routeflow/pkg/channels/gochannel"
	"github.com/dukex/routeflow/pkg/events"
)

func testBus(t *testing.T) EventBus {
	t.Helper()

	logger := watermill.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	pub, sub, err := gochannel.CreateTestChannel(logger)
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := testBus(t)

	var mu sync.Mutex

	var received []*events.EscalationExecuted

	err := bus.Handle(events.EscalationExecutedEvent, func(_ context.Context, event any) error {
		executed, ok := event.(*events.EscalationExecuted)
		require.True(t, ok)

		mu.Lock()
		received = append(received, executed)
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	published := events.EscalationExecuted{
		BaseEvent: events.NewBaseEvent(events.EscalationExecutedEvent, "r1"),
		NodeID:    "n1",
		RuleID:    "overdue",
		Chain:     "notify-manager",
	}

	require.NoError(t, bus.Publish(ctx, "r1", published))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, received, 1)
	assert.Equal(t, "r1", received[0].RouteID)
	assert.Equal(t, "overdue", received[0].RuleID)
}

func TestWatermillEventBus_UnhandledEventTypesAreAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := testBus(t)
	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type; publish must still succeed.
	event := events.NodeSuspended{
		BaseEvent: events.NewBaseEvent(events.NodeSuspendedEvent, "r1"),
		NodeID:    "n1",
	}

	require.NoError(t, bus.Publish(ctx, "r1", event))
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := testBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/routeflow/pkg/cmd"
	"github.com/dukex/routeflow/pkg/dispatch"
	"github.com/dukex/routeflow/pkg/escalation"
	"github.com/dukex/routeflow/pkg/eventbus"
	"github.com/dukex/routeflow/pkg/expression"
	"github.com/dukex/routeflow/pkg/guard"
	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
	"github.com/dukex/routeflow/pkg/scheduler"
)

// Config carries the escalator's runtime knobs.
type Config struct {
	GuardStore   guard.Store
	GuardTTL     time.Duration
	Repositories []string
	ScanCron     string
	Workers      int
}

// EscalatorManager wires the scan service, dispatcher and scheduler together
// and owns their lifecycle.
type EscalatorManager struct {
	logger *slog.Logger
	store  persistence.GraphStore
	bus    eventbus.EventBus
	config Config
}

func NewEscalatorManager(
	logger *slog.Logger,
	store persistence.GraphStore,
	bus eventbus.EventBus,
	config Config,
) *EscalatorManager {
	return &EscalatorManager{
		logger: logger.With("module", "escalator-manager"),
		store:  store,
		bus:    bus,
		config: config,
	}
}

// Start wires the runtime and blocks until SIGINT or SIGTERM.
func (m *EscalatorManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting escalator manager",
		"repositories", m.config.Repositories, "scan_cron", m.config.ScanCron)

	executionGuard := guard.NewExecutionGuard(m.config.GuardStore)
	if m.config.GuardTTL > 0 {
		executionGuard = executionGuard.WithTTL(m.config.GuardTTL)
	}

	dispatcher := dispatch.NewDispatcher(m.logger, m.config.Workers)
	dispatcher.Start(ctx)

	defer dispatcher.Close()

	actionRegistry := cmd.NewRegistry(m.logger)

	evaluator := &expression.SimpleEvaluator{}

	service := escalation.NewService(
		m.logger,
		executionGuard,
		m.store,
		dispatcher,
		actionRegistry,
		evaluator,
		m.bus,
	)

	sched := scheduler.NewScheduler(m.logger)
	sched.RegisterFactory(models.DefaultScheduleFactory, scheduler.NewEventFactory(m.bus))
	sched.RegisterFactory(escalation.ScanFactoryType, escalation.NewScanFactory(service))

	if err := m.registerScanSchedules(ctx, sched); err != nil {
		return err
	}

	sched.Start()

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := sched.Stop(stopCtx); err != nil {
			m.logger.Error("Failed to stop scheduler cleanly", "error", err)
		}
	}()

	// Firings racing startup are dropped until the gate opens.
	sched.MarkStarted()

	m.logger.InfoContext(ctx, "Escalator started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	m.logger.InfoContext(ctx, "Shutting down escalator...")

	return nil
}

// registerScanSchedules contributes one scan schedule per repository. The
// persisted schedule mirrors the live trigger for observability.
func (m *EscalatorManager) registerScanSchedules(ctx context.Context, sched *scheduler.Scheduler) error {
	for _, repository := range m.config.Repositories {
		schedule, err := models.NewSchedule(
			"escalation-scan-"+repository,
			"escalation.scan",
			m.config.ScanCron,
		)
		if err != nil {
			return fmt.Errorf("invalid scan schedule for repository %s: %w", repository, err)
		}

		schedule.FactoryType = escalation.ScanFactoryType

		if scheduleStore, ok := m.store.(persistence.ScheduleStore); ok {
			if err := scheduleStore.SaveSchedule(ctx, schedule); err != nil {
				m.logger.WarnContext(ctx, "Failed to persist scan schedule",
					"schedule_id", schedule.ID, "error", err)
			}
		}

		sched.RegisterSchedule(ctx, schedule, map[string]any{"repository": repository})
	}

	return nil
}

// Package scheduler turns declarative schedule contributions into recurring
// domain-event emissions.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/dukex/routeflow/pkg/models"
)

// Scheduler owns the live cron triggers derived 1:1 from enabled schedule
// contributions. Registration is reconciled: re-registering an id deletes and
// recreates its trigger, and a full reload sweeps every owned trigger before
// re-registering the current contribution set.
type Scheduler struct {
	logger    *slog.Logger
	runner    *cron.Cron
	factories map[string]Factory
	started   atomic.Bool

	mu        sync.Mutex
	triggers  map[string]cron.EntryID
	schedules map[string]*models.Schedule
}

// NewScheduler creates a stopped scheduler; call Start to begin firing.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With("module", "scheduler"),
		runner: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		factories: make(map[string]Factory),
		triggers:  make(map[string]cron.EntryID),
		schedules: make(map[string]*models.Schedule),
	}
}

// RegisterFactory registers a job/trigger factory under a type tag.
func (s *Scheduler) RegisterFactory(typeTag string, factory Factory) {
	s.factories[typeTag] = factory
}

// Start begins firing triggers. Firings before MarkStarted are dropped.
func (s *Scheduler) Start() {
	s.runner.Start()
}

// Stop halts firing and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.runner.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// MarkStarted opens the gate for job execution. A schedule firing while the
// runtime has not fully started is silently dropped, not queued; the warn log
// is the only trace of the missed trigger.
func (s *Scheduler) MarkStarted() {
	s.started.Store(true)
}

// Started reports whether the runtime gate is open.
func (s *Scheduler) Started() bool {
	return s.started.Load()
}

// RegisterSchedule upserts the live trigger for a schedule. An existing
// trigger with the same id is deleted and recreated, never updated in place.
// Registration failures are logged, never returned: the previous trigger
// state stays intact.
func (s *Scheduler) RegisterSchedule(ctx context.Context, schedule *models.Schedule, params map[string]any) {
	if err := schedule.Validate(); err != nil {
		s.logger.ErrorContext(ctx, "Rejecting invalid schedule",
			"schedule_id", schedule.ID, "error", err)

		return
	}

	factory, ok := s.factories[schedule.Factory()]
	if !ok {
		s.logger.ErrorContext(ctx, "No factory registered for schedule",
			"schedule_id", schedule.ID, "factory_type", schedule.Factory())

		return
	}

	trigger, err := factory.BuildTrigger(schedule)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build trigger",
			"schedule_id", schedule.ID, "error", err)

		return
	}

	job, err := factory.BuildJob(schedule, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build job",
			"schedule_id", schedule.ID, "error", err)

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeTriggerLocked(schedule.ID)
	s.schedules[schedule.ID] = schedule

	if !schedule.Enabled {
		s.logger.InfoContext(ctx, "Schedule disabled, no trigger registered",
			"schedule_id", schedule.ID)

		return
	}

	entryID := s.runner.Schedule(trigger, cron.FuncJob(func() {
		s.fire(schedule, job)
	}))
	s.triggers[schedule.ID] = entryID

	s.logger.InfoContext(ctx, "Registered schedule trigger",
		"schedule_id", schedule.ID, "cron", schedule.CronExpression,
		"event_id", schedule.EventID)
}

// UnregisterSchedule removes the contribution and its live trigger. It
// reports whether a trigger was actually removed.
func (s *Scheduler) UnregisterSchedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.schedules, id)

	return s.removeTriggerLocked(id)
}

// Reload unconditionally deletes every trigger in the scheduler's own
// namespace, then re-registers every currently-enabled contribution. Schedule
// contributions may change across restarts and cluster rolls; stale triggers
// must never survive a reload. All cluster members are assumed to apply the
// same contribution set, otherwise a window exists with zero active schedules
// even though peers are running.
func (s *Scheduler) Reload(ctx context.Context, contributions []*models.Schedule, params map[string]any) {
	s.mu.Lock()

	for id := range s.triggers {
		s.removeTriggerLocked(id)
	}

	s.schedules = make(map[string]*models.Schedule)
	s.mu.Unlock()

	for _, schedule := range contributions {
		s.RegisterSchedule(ctx, schedule, params)
	}

	s.logger.InfoContext(ctx, "Scheduler reloaded", "contributions", len(contributions))
}

// HasTrigger reports whether a live trigger exists for the schedule id.
func (s *Scheduler) HasTrigger(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.triggers[id]

	return ok
}

// TriggerIDs returns the ids of all live triggers.
func (s *Scheduler) TriggerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.triggers))
	for id := range s.triggers {
		ids = append(ids, id)
	}

	return ids
}

func (s *Scheduler) removeTriggerLocked(id string) bool {
	entryID, ok := s.triggers[id]
	if !ok {
		return false
	}

	s.runner.Remove(entryID)
	delete(s.triggers, id)

	return true
}

// fire runs one schedule firing. The impersonated identity is logged out on
// every exit path, success or failure.
func (s *Scheduler) fire(schedule *models.Schedule, job Job) {
	ctx := context.Background()

	logger := s.logger.With("schedule_id", schedule.ID, "event_id", schedule.EventID)

	if !s.Started() {
		logger.Warn("Runtime not started, dropping schedule firing")

		return
	}

	if schedule.Username != "" {
		logger = logger.With("username", schedule.Username)
		logger.DebugContext(ctx, "Running schedule as configured identity")

		defer logger.DebugContext(ctx, "Logged out schedule identity")
	}

	if err := job.Execute(ctx); err != nil {
		logger.ErrorContext(ctx, "Schedule job failed", "error", err)

		return
	}

	if err := schedule.UpdateNextFireAt(); err != nil {
		logger.ErrorContext(ctx, "Failed to update next fire time", "error", err)
	}
}

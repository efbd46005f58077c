package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dukex/routeflow/pkg/eventbus"
	"github.com/dukex/routeflow/pkg/events"
	"github.com/dukex/routeflow/pkg/models"
)

// Job is one firing of a schedule.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Factory builds the live trigger and job for a schedule contribution.
// Factories are resolved through the scheduler registry by the schedule's
// type tag, so custom cron semantics or job payloads plug in without touching
// the scheduler core.
type Factory interface {
	// BuildTrigger derives the firing schedule from the contribution.
	BuildTrigger(schedule *models.Schedule) (cron.Schedule, error)

	// BuildJob builds the work executed on each firing.
	BuildJob(schedule *models.Schedule, params map[string]any) (Job, error)
}

// EventFactory is the default factory: each firing emits the configured
// domain event on the audit bus.
type EventFactory struct {
	bus eventbus.EventBus
}

func NewEventFactory(bus eventbus.EventBus) *EventFactory {
	return &EventFactory{bus: bus}
}

func (f *EventFactory) BuildTrigger(schedule *models.Schedule) (cron.Schedule, error) {
	parsed, err := cron.ParseStandard(schedule.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression for schedule %s: %w", schedule.ID, err)
	}

	return parsed, nil
}

func (f *EventFactory) BuildJob(schedule *models.Schedule, _ map[string]any) (Job, error) {
	return JobFunc(func(ctx context.Context) error {
		event := events.ScheduleFired{
			BaseEvent:     events.NewBaseEvent(events.ScheduleFiredEvent, ""),
			ScheduleID:    schedule.ID,
			EventID:       schedule.EventID,
			EventCategory: schedule.EventCategory,
			Username:      schedule.Username,
		}

		return f.bus.Publish(ctx, schedule.ID, event)
	}), nil
}

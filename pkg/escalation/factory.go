package escalation

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/scheduler"
)

// ScanFactoryType is the schedule factory tag selecting escalation scans.
const ScanFactoryType = "escalation-scan"

// ScanFactory builds scheduler jobs that run one escalation pass over the
// repository named in the registration params.
type ScanFactory struct {
	service *Service
}

// NewScanFactory creates the factory over a scan service.
func NewScanFactory(service *Service) *ScanFactory {
	return &ScanFactory{service: service}
}

func (f *ScanFactory) BuildTrigger(schedule *models.Schedule) (cron.Schedule, error) {
	parsed, err := cron.ParseStandard(schedule.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression for schedule %s: %w", schedule.ID, err)
	}

	return parsed, nil
}

func (f *ScanFactory) BuildJob(schedule *models.Schedule, params map[string]any) (scheduler.Job, error) {
	repository, ok := params["repository"].(string)
	if !ok || repository == "" {
		return nil, fmt.Errorf("schedule %s: missing repository parameter", schedule.ID)
	}

	return scheduler.JobFunc(func(ctx context.Context) error {
		return f.service.Scan(ctx, repository)
	}), nil
}

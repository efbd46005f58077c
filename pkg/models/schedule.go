package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// DefaultScheduleFactory is the factory type tag used when a schedule
// contribution declares none.
const DefaultScheduleFactory = "default"

// Schedule is a declarative cron-triggered event emission contract. The live
// scheduler trigger is derived 1:1 from an enabled Schedule; reconciliation
// happens at registration and on full reload.
type Schedule struct {
	// ID uniquely identifies this schedule contribution.
	ID string `json:"id" validate:"required"`

	// EventID and EventCategory name the domain event emitted on each firing.
	EventID       string `json:"event_id" validate:"required"`
	EventCategory string `json:"event_category,omitempty"`

	// CronExpression uses the standard 5-field format
	// (minute hour day month weekday).
	CronExpression string `json:"cron_expression" validate:"required"`

	// Username is the identity the firing runs under.
	Username string `json:"username,omitempty"`

	Enabled bool `json:"enabled"`

	// FactoryType selects the registered job/trigger factory building the
	// live trigger for this schedule. Empty means DefaultScheduleFactory.
	FactoryType string `json:"factory_type,omitempty"`

	// NextFireAt is the precomputed next firing time, maintained for
	// observability; the live robfig trigger is authoritative.
	NextFireAt time.Time `json:"next_fire_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSchedule creates an enabled Schedule with the first firing time computed.
func NewSchedule(id, eventID, cronExpression string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		EventID:        eventID,
		CronExpression: cronExpression,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := schedule.computeNextFireAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Factory returns the factory type tag, defaulting when unset.
func (s *Schedule) Factory() string {
	if s.FactoryType == "" {
		return DefaultScheduleFactory
	}

	return s.FactoryType
}

// UpdateNextFireAt recomputes the next firing time from now.
func (s *Schedule) UpdateNextFireAt() error {
	return s.computeNextFireAt(time.Now().UTC())
}

func (s *Schedule) computeNextFireAt(reference time.Time) error {
	parsed, err := cronParser().Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextFireAt = parsed.Next(reference)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// Validate performs validation on the schedule fields, including the cron
// expression format.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.EventID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	_, err := cronParser().Parse(s.CronExpression)

	return err
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

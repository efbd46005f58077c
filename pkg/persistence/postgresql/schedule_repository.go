package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
)

// ScheduleRepository handles schedule contribution database operations.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

// Schedules returns every stored schedule contribution.
func (r *ScheduleRepository) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , event_id
		  , event_category
		  , cron_expression
		  , username
		  , enabled
		  , factory_type
		  , next_fire_at
		  , created_at
		  , updated_at
		FROM schedules
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		var (
			schedule   models.Schedule
			category   sql.NullString
			username   sql.NullString
			factory    sql.NullString
			nextFireAt sql.NullTime
		)

		err := rows.Scan(
			&schedule.ID, &schedule.EventID, &category,
			&schedule.CronExpression, &username, &schedule.Enabled,
			&factory, &nextFireAt, &schedule.CreatedAt, &schedule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedule.EventCategory = category.String
		schedule.Username = username.String
		schedule.FactoryType = factory.String

		if nextFireAt.Valid {
			schedule.NextFireAt = nextFireAt.Time
		}

		schedules = append(schedules, &schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

// Save upserts a schedule contribution.
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, event_id, event_category, cron_expression, username, enabled,
			factory_type, next_fire_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			event_category = EXCLUDED.event_category,
			cron_expression = EXCLUDED.cron_expression,
			username = EXCLUDED.username,
			enabled = EXCLUDED.enabled,
			factory_type = EXCLUDED.factory_type,
			next_fire_at = EXCLUDED.next_fire_at,
			updated_at = EXCLUDED.updated_at
	`,
		schedule.ID, schedule.EventID, nullable(schedule.EventCategory),
		schedule.CronExpression, nullable(schedule.Username), schedule.Enabled,
		nullable(schedule.FactoryType), schedule.NextFireAt,
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

// Delete removes a schedule contribution.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

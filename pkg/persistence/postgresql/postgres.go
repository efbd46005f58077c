// Package postgresql provides the PostgreSQL-backed graph store.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence/sqlbase"
)

// Store implements persistence.GraphStore and persistence.ScheduleStore on
// PostgreSQL. Optimistic concurrency is enforced with a version column
// guarded in every UPDATE.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	routeRepo    *RouteRepository
	scheduleRepo *ScheduleRepository
}

// NewStore connects, runs migrations and returns a ready store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:           database,
		logger:       logger,
		routeRepo:    NewRouteRepository(database, logger),
		scheduleRepo: NewScheduleRepository(database, logger),
	}, nil
}

func (s *Store) CreateRoute(ctx context.Context, route *models.Route, nodes []*models.Node) error {
	return s.routeRepo.Create(ctx, route, nodes)
}

func (s *Store) RouteByID(ctx context.Context, id string) (*models.Route, error) {
	return s.routeRepo.RouteByID(ctx, id)
}

func (s *Store) SaveRoute(ctx context.Context, route *models.Route) error {
	return s.routeRepo.SaveRoute(ctx, route)
}

func (s *Store) NodeByID(ctx context.Context, id string) (*models.Node, error) {
	return s.routeRepo.NodeByID(ctx, id)
}

func (s *Store) SaveNode(ctx context.Context, node *models.Node) error {
	return s.routeRepo.SaveNode(ctx, node)
}

func (s *Store) NodesByRoute(ctx context.Context, routeID string) ([]*models.Node, error) {
	return s.routeRepo.NodesByRoute(ctx, routeID)
}

func (s *Store) QueryEligibleNodes(ctx context.Context, repository string) ([]*models.Node, error) {
	return s.routeRepo.QueryEligibleNodes(ctx, repository)
}

func (s *Store) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	return s.scheduleRepo.Schedules(ctx)
}

func (s *Store) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	return s.scheduleRepo.Save(ctx, schedule)
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	return s.scheduleRepo.Delete(ctx, id)
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

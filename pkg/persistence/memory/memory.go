// Package memory provides an in-process graph store for tests and single-node
// development. It applies the same optimistic concurrency contract as the
// durable stores.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
)

// Store implements persistence.GraphStore and persistence.ScheduleStore with
// in-memory maps guarded by a mutex. Documents are deep-copied across the
// boundary so callers never alias stored state.
type Store struct {
	mu        sync.Mutex
	routes    map[string]*models.Route
	nodes     map[string]*models.Node
	schedules map[string]*models.Schedule
	validate  *validator.Validate
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		routes:    make(map[string]*models.Route),
		nodes:     make(map[string]*models.Node),
		schedules: make(map[string]*models.Schedule),
		validate:  validator.New(),
	}
}

func (s *Store) CreateRoute(_ context.Context, route *models.Route, nodes []*models.Node) error {
	if err := s.validate.Struct(route); err != nil {
		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: err}
	}

	for _, node := range nodes {
		if err := s.validate.Struct(node); err != nil {
			return &persistence.NodeError{Op: "CreateRoute", NodeID: node.ID, Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.routes[route.ID]; exists {
		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: persistence.ErrRouteAlreadyExists}
	}

	now := time.Now().UTC()
	route.CreatedAt = now
	route.UpdatedAt = now
	route.Version = 1
	s.routes[route.ID] = copyRoute(route)

	for _, node := range nodes {
		node.CreatedAt = now
		node.UpdatedAt = now
		node.Version = 1
		s.nodes[node.ID] = copyNode(node)
	}

	return nil
}

func (s *Store) RouteByID(_ context.Context, id string) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	route, ok := s.routes[id]
	if !ok {
		return nil, &persistence.RouteError{Op: "RouteByID", RouteID: id, Err: persistence.ErrRouteNotFound}
	}

	return copyRoute(route), nil
}

func (s *Store) SaveRoute(_ context.Context, route *models.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.routes[route.ID]
	if !ok {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: route.ID, Err: persistence.ErrRouteNotFound}
	}

	if stored.Version != route.Version {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: route.ID, Err: persistence.ErrConcurrencyConflict}
	}

	route.Version++
	route.UpdatedAt = time.Now().UTC()
	s.routes[route.ID] = copyRoute(route)

	return nil
}

func (s *Store) NodeByID(_ context.Context, id string) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, &persistence.NodeError{Op: "NodeByID", NodeID: id, Err: persistence.ErrNodeNotFound}
	}

	return copyNode(node), nil
}

func (s *Store) SaveNode(_ context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.nodes[node.ID]
	if !ok {
		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: persistence.ErrNodeNotFound}
	}

	if stored.Version != node.Version {
		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: persistence.ErrConcurrencyConflict}
	}

	node.Version++
	node.UpdatedAt = time.Now().UTC()
	s.nodes[node.ID] = copyNode(node)

	return nil
}

func (s *Store) NodesByRoute(_ context.Context, routeID string) ([]*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]*models.Node, 0)

	for _, node := range s.nodes {
		if node.RouteID == routeID {
			nodes = append(nodes, copyNode(node))
		}
	}

	return nodes, nil
}

func (s *Store) QueryEligibleNodes(_ context.Context, repository string) ([]*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]*models.Node, 0)

	for _, node := range s.nodes {
		if node.Repository != repository || node.State != models.NodeStateSuspended {
			continue
		}

		if node.HasLiveEscalationRules() {
			nodes = append(nodes, copyNode(node))
		}
	}

	return nodes, nil
}

func (s *Store) Schedules(_ context.Context) ([]*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := make([]*models.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		copied := *schedule
		schedules = append(schedules, &copied)
	}

	return schedules, nil
}

func (s *Store) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *schedule
	s.schedules[schedule.ID] = &copied

	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return persistence.ErrScheduleNotFound
	}

	delete(s.schedules, id)

	return nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

// copyRoute and copyNode round-trip through JSON: slower than hand-written
// copies but immune to field drift in the models.

func copyRoute(route *models.Route) *models.Route {
	return deepCopy(route)
}

func copyNode(node *models.Node) *models.Node {
	return deepCopy(node)
}

func deepCopy[T any](value *T) *T {
	data, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("marshal for deep copy: %v", err))
	}

	copied := new(T)
	if err := json.Unmarshal(data, copied); err != nil {
		panic(fmt.Sprintf("unmarshal for deep copy: %v", err))
	}

	return copied
}

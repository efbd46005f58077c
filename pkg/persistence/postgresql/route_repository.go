package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
)

// RouteRepository handles route and node database operations.
type RouteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRouteRepository creates a new route repository.
func NewRouteRepository(db *sql.DB, logger *slog.Logger) *RouteRepository {
	return &RouteRepository{db: db, logger: logger}
}

const routeColumns = `
	id
  , graph_id
  , repository
  , state
  , title
  , variables
  , attached_document_ids
  , initiator
  , parent_route_id
  , parent_node_id
  , started_at
  , created_at
  , updated_at
  , version
`

const nodeColumns = `
	id
  , route_id
  , repository
  , state
  , title
  , start_node
  , stop_node
  , transitions
  , escalation_rules
  , suspended_at
  , created_at
  , updated_at
  , version
`

// Create persists a freshly instantiated route and its nodes in one
// transaction.
func (r *RouteRepository) Create(ctx context.Context, route *models.Route, nodes []*models.Node) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: err}
	}

	now := time.Now().UTC()
	route.CreatedAt = now
	route.UpdatedAt = now
	route.Version = 1

	variables, err := json.Marshal(route.Variables)
	if err != nil {
		_ = transaction.Rollback()

		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: err}
	}

	attached, err := json.Marshal(route.AttachedDocumentIDs)
	if err != nil {
		_ = transaction.Rollback()

		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: err}
	}

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO routes (
			id, graph_id, repository, state, title, variables,
			attached_document_ids, initiator, parent_route_id, parent_node_id,
			started_at, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		route.ID, route.GraphID, route.Repository, route.State, route.Title,
		variables, attached, route.Initiator,
		nullable(route.ParentRouteID), nullable(route.ParentNodeID),
		route.StartedAt, route.CreatedAt, route.UpdatedAt, route.Version,
	)
	if err != nil {
		_ = transaction.Rollback()

		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: err}
	}

	for _, node := range nodes {
		node.CreatedAt = now
		node.UpdatedAt = now
		node.Version = 1

		if err := insertNode(ctx, transaction, node); err != nil {
			_ = transaction.Rollback()

			return &persistence.NodeError{Op: "CreateRoute", NodeID: node.ID, Err: err}
		}
	}

	if err := transaction.Commit(); err != nil {
		return &persistence.RouteError{Op: "CreateRoute", RouteID: route.ID, Err: err}
	}

	return nil
}

func insertNode(ctx context.Context, transaction *sql.Tx, node *models.Node) error {
	transitions, err := json.Marshal(node.Transitions)
	if err != nil {
		return err
	}

	rules, err := json.Marshal(node.EscalationRules)
	if err != nil {
		return err
	}

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO route_nodes (
			id, route_id, repository, state, title, start_node, stop_node,
			transitions, escalation_rules, suspended_at, created_at,
			updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		node.ID, node.RouteID, node.Repository, node.State, node.Title,
		node.Start, node.Stop, transitions, rules, node.SuspendedAt,
		node.CreatedAt, node.UpdatedAt, node.Version,
	)

	return err
}

// RouteByID returns a route by its id.
func (r *RouteRepository) RouteByID(ctx context.Context, id string) (*models.Route, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id)

	route, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &persistence.RouteError{Op: "RouteByID", RouteID: id, Err: persistence.ErrRouteNotFound}
	}

	if err != nil {
		return nil, &persistence.RouteError{Op: "RouteByID", RouteID: id, Err: err}
	}

	return route, nil
}

// SaveRoute updates a route with a version-guarded UPDATE. A save against a
// stale version fails with ErrConcurrencyConflict.
func (r *RouteRepository) SaveRoute(ctx context.Context, route *models.Route) error {
	variables, err := json.Marshal(route.Variables)
	if err != nil {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: route.ID, Err: err}
	}

	attached, err := json.Marshal(route.AttachedDocumentIDs)
	if err != nil {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: route.ID, Err: err}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE routes SET
			state = $1,
			title = $2,
			variables = $3,
			attached_document_ids = $4,
			started_at = $5,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $6 AND version = $7
	`,
		route.State, route.Title, variables, attached, route.StartedAt,
		route.ID, route.Version,
	)
	if err != nil {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: route.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: route.ID, Err: err}
	}

	if affected == 0 {
		return r.staleRouteError(ctx, route.ID)
	}

	route.Version++

	return nil
}

func (r *RouteRepository) staleRouteError(ctx context.Context, id string) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM routes WHERE id = $1)`, id).Scan(&exists)
	if err == nil && !exists {
		return &persistence.RouteError{Op: "SaveRoute", RouteID: id, Err: persistence.ErrRouteNotFound}
	}

	return &persistence.RouteError{Op: "SaveRoute", RouteID: id, Err: persistence.ErrConcurrencyConflict}
}

// NodeByID returns a node by its id.
func (r *RouteRepository) NodeByID(ctx context.Context, id string) (*models.Node, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM route_nodes WHERE id = $1`, id)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &persistence.NodeError{Op: "NodeByID", NodeID: id, Err: persistence.ErrNodeNotFound}
	}

	if err != nil {
		return nil, &persistence.NodeError{Op: "NodeByID", NodeID: id, Err: err}
	}

	return node, nil
}

// SaveNode updates a node with a version-guarded UPDATE.
func (r *RouteRepository) SaveNode(ctx context.Context, node *models.Node) error {
	transitions, err := json.Marshal(node.Transitions)
	if err != nil {
		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: err}
	}

	rules, err := json.Marshal(node.EscalationRules)
	if err != nil {
		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: err}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE route_nodes SET
			state = $1,
			transitions = $2,
			escalation_rules = $3,
			suspended_at = $4,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $5 AND version = $6
	`,
		node.State, transitions, rules, node.SuspendedAt,
		node.ID, node.Version,
	)
	if err != nil {
		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: err}
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM route_nodes WHERE id = $1)`, node.ID).Scan(&exists)
		if err == nil && !exists {
			return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: persistence.ErrNodeNotFound}
		}

		return &persistence.NodeError{Op: "SaveNode", NodeID: node.ID, Err: persistence.ErrConcurrencyConflict}
	}

	node.Version++

	return nil
}

// NodesByRoute returns all nodes of a route.
func (r *RouteRepository) NodesByRoute(ctx context.Context, routeID string) ([]*models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM route_nodes
		WHERE route_id = $1
		ORDER BY created_at
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	return r.collectNodes(ctx, rows)
}

// QueryEligibleNodes returns the suspended nodes of the repository carrying at
// least one unexecuted-or-repeatable escalation rule. The query is
// unrestricted: escalation scans run system-privileged across users.
func (r *RouteRepository) QueryEligibleNodes(ctx context.Context, repository string) ([]*models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM route_nodes
		WHERE repository = $1
		  AND state = 'suspended'
		  AND EXISTS (
			SELECT 1
			FROM jsonb_array_elements(escalation_rules) AS rule
			WHERE NOT COALESCE((rule->>'executed')::boolean, false)
			   OR COALESCE((rule->>'multiple_execution')::boolean, false)
		  )
		ORDER BY created_at
	`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible nodes: %w", err)
	}

	return r.collectNodes(ctx, rows)
}

func (r *RouteRepository) collectNodes(ctx context.Context, rows *sql.Rows) ([]*models.Node, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoute(row scanner) (*models.Route, error) {
	var (
		route         models.Route
		variables     []byte
		attached      []byte
		title         sql.NullString
		initiator     sql.NullString
		parentRouteID sql.NullString
		parentNodeID  sql.NullString
		startedAt     sql.NullTime
	)

	err := row.Scan(
		&route.ID, &route.GraphID, &route.Repository, &route.State, &title,
		&variables, &attached, &initiator, &parentRouteID, &parentNodeID,
		&startedAt, &route.CreatedAt, &route.UpdatedAt, &route.Version,
	)
	if err != nil {
		return nil, err
	}

	route.Title = title.String
	route.Initiator = initiator.String
	route.ParentRouteID = parentRouteID.String
	route.ParentNodeID = parentNodeID.String

	if startedAt.Valid {
		t := startedAt.Time
		route.StartedAt = &t
	}

	if err := json.Unmarshal(variables, &route.Variables); err != nil {
		return nil, fmt.Errorf("failed to decode route variables: %w", err)
	}

	if err := json.Unmarshal(attached, &route.AttachedDocumentIDs); err != nil {
		return nil, fmt.Errorf("failed to decode attached documents: %w", err)
	}

	return &route, nil
}

func scanNode(row scanner) (*models.Node, error) {
	var (
		node        models.Node
		title       sql.NullString
		transitions []byte
		rules       []byte
		suspendedAt sql.NullTime
	)

	err := row.Scan(
		&node.ID, &node.RouteID, &node.Repository, &node.State, &title,
		&node.Start, &node.Stop, &transitions, &rules, &suspendedAt,
		&node.CreatedAt, &node.UpdatedAt, &node.Version,
	)
	if err != nil {
		return nil, err
	}

	node.Title = title.String

	if suspendedAt.Valid {
		t := suspendedAt.Time
		node.SuspendedAt = &t
	}

	if err := json.Unmarshal(transitions, &node.Transitions); err != nil {
		return nil, fmt.Errorf("failed to decode transitions: %w", err)
	}

	if err := json.Unmarshal(rules, &node.EscalationRules); err != nil {
		return nil, fmt.Errorf("failed to decode escalation rules: %w", err)
	}

	return &node, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

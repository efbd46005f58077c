package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/routeflow/pkg/models"
)

// routeDocumentSchema validates route documents before ingest. Structural
// errors are caught here with a readable report instead of surfacing later as
// engine state errors.
const routeDocumentSchema = `{
	"type": "object",
	"required": ["route", "nodes"],
	"properties": {
		"route": {
			"type": "object",
			"required": ["id", "graph_id", "repository", "state"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"graph_id": {"type": "string", "minLength": 1},
				"repository": {"type": "string", "minLength": 1},
				"state": {"enum": ["created", "running", "done", "canceled"]},
				"variables": {"type": "object"},
				"initiator": {"type": "string"}
			}
		},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "route_id", "repository", "state"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"route_id": {"type": "string", "minLength": 1},
					"repository": {"type": "string", "minLength": 1},
					"state": {"enum": ["ready", "running", "suspended", "done", "canceled"]},
					"transitions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "target_node_id"],
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"condition": {"type": "string"},
								"target_node_id": {"type": "string", "minLength": 1},
								"default": {"type": "boolean"}
							}
						}
					},
					"escalation_rules": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "condition", "chain"],
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"condition": {"type": "string", "minLength": 1},
								"chain": {"type": "string", "minLength": 1},
								"multiple_execution": {"type": "boolean"},
								"executed": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

type routeDocument struct {
	Route *models.Route  `json:"route"`
	Nodes []*models.Node `json:"nodes"`
}

// ImportRouteDocument validates a serialized route document against the JSON
// schema and creates the route with its nodes.
func (s *Store) ImportRouteDocument(ctx context.Context, document []byte) (*models.Route, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(routeDocumentSchema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate route document: %w", err)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("invalid route document: %v", result.Errors())
	}

	var doc routeDocument
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode route document: %w", err)
	}

	if err := s.CreateRoute(ctx, doc.Route, doc.Nodes); err != nil {
		return nil, err
	}

	return doc.Route, nil
}

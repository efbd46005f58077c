package routing

import (
	"time"

	"github.com/dukex/routeflow/pkg/models"
)

// ConditionBindings builds the evaluation context for transition and
// escalation conditions: the route variables at top level, the node and route
// under reserved names, the attached documents, and the elapsed seconds since
// the node suspended.
func ConditionBindings(route *models.Route, node *models.Node, now time.Time) map[string]any {
	bindings := make(map[string]any, len(route.Variables)+4)

	for k, v := range route.Variables {
		bindings[k] = v
	}

	bindings["route"] = map[string]any{
		"id":        route.ID,
		"graph_id":  route.GraphID,
		"state":     string(route.State),
		"initiator": route.Initiator,
	}

	documents := make([]any, 0, len(route.AttachedDocumentIDs))
	for _, id := range route.AttachedDocumentIDs {
		documents = append(documents, id)
	}

	bindings["documents"] = documents

	if node != nil {
		bindings["node"] = map[string]any{
			"id":    node.ID,
			"state": string(node.State),
			"title": node.Title,
		}

		elapsed := float64(0)
		if node.SuspendedAt != nil {
			elapsed = now.Sub(*node.SuspendedAt).Seconds()
		}

		bindings["elapsed"] = elapsed
	}

	return bindings
}

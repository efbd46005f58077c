package models

import "time"

// NodeState represents the lifecycle state of a node within a route.
type NodeState string

const (
	NodeStateReady     NodeState = "ready"
	NodeStateRunning   NodeState = "running"
	NodeStateSuspended NodeState = "suspended"
	NodeStateDone      NodeState = "done"
	NodeStateCanceled  NodeState = "canceled"
)

// Terminal reports whether the state admits no further transitions.
func (s NodeState) Terminal() bool {
	return s == NodeStateDone || s == NodeStateCanceled
}

// Transition is a conditional edge from one node to another. Transitions are
// evaluated in declaration order; the first whose condition evaluates true is
// taken. A transition marked Default is the fallback when none match.
type Transition struct {
	ID           string `json:"id"             validate:"required"`
	Condition    string `json:"condition"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	Default      bool   `json:"default"`
}

// Node is a vertex in the workflow graph representing one step of a route.
// It is created when its route graph is instantiated and destroyed only with
// the route.
type Node struct {
	ID         string    `json:"id"         validate:"required"`
	RouteID    string    `json:"route_id"   validate:"required"`
	Repository string    `json:"repository" validate:"required"`
	State      NodeState `json:"state"      validate:"required"`
	Title      string    `json:"title,omitempty"`

	// Start marks the graph's entry node; Stop marks a terminal node.
	Start bool `json:"start"`
	Stop  bool `json:"stop"`

	Transitions     []Transition      `json:"transitions,omitempty"`
	EscalationRules []*EscalationRule `json:"escalation_rules,omitempty"`

	// SuspendedAt records when the node entered the suspended state. Elapsed
	// time since suspension is exposed to escalation rule conditions.
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the optimistic concurrency counter maintained by the store.
	Version int64 `json:"version"`
}

// Rule returns the escalation rule with the given id, or nil.
func (n *Node) Rule(id string) *EscalationRule {
	for _, rule := range n.EscalationRules {
		if rule.ID == id {
			return rule
		}
	}

	return nil
}

// HasLiveEscalationRules reports whether at least one rule may still fire.
func (n *Node) HasLiveEscalationRules() bool {
	for _, rule := range n.EscalationRules {
		if rule.Live() {
			return true
		}
	}

	return false
}

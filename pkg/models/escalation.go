package models

// EscalationRule is a condition+action pair attached to a node, periodically
// re-evaluated while the node is suspended. Rules keep their declaration order
// within the node.
type EscalationRule struct {
	// ID is unique within the owning node.
	ID    string `json:"id"    validate:"required"`
	Label string `json:"label,omitempty"`

	// Condition is a boolean expression evaluated against the route
	// variables, the node and the attached documents.
	Condition string `json:"condition" validate:"required"`

	// Chain names the action chain executed when the condition holds.
	Chain string `json:"chain" validate:"required"`

	// MultipleExecution allows the rule to fire more than once over the
	// route's lifetime. When false, Executed is the only durable guard
	// against a second firing.
	MultipleExecution bool `json:"multiple_execution"`
	Executed          bool `json:"executed"`
}

// Live reports whether the rule may still fire.
func (r *EscalationRule) Live() bool {
	return !r.Executed || r.MultipleExecution
}

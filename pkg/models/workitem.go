package models

import "fmt"

// WorkKey is the composite identity of an asynchronous unit of work.
// Submissions sharing a key before the first starts executing collapse.
type WorkKey struct {
	Repository string
	NodeID     string
	RuleID     string
}

func (k WorkKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Repository, k.NodeID, k.RuleID)
}

// Package guard provides the TTL-bounded execution guard used to approximate
// a cluster-wide mutex around periodic escalation scans.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached. A scan
// claim failing with this error aborts only the current scan attempt.
var ErrUnavailable = errors.New("execution guard store unavailable")

// DefaultTTL bounds the damage of a crashed scanner: the claim self-expires.
const DefaultTTL = 3 * time.Minute

const keyPrefix = "routeflow:escalation:running:"

// Store is the narrow key-value contract backing the guard. It is a soft,
// TTL-based mutex, not linearizable: callers must keep downstream effects
// idempotent-checked rather than relying on the guard alone.
type Store interface {
	// Get reports whether the key currently holds an unexpired marker.
	Get(ctx context.Context, key string) (bool, error)

	// Put writes a marker that self-expires after ttl.
	Put(ctx context.Context, key string, ttl time.Duration) error
}

// ExecutionGuard claims and checks per-repository scan slots on a Store.
type ExecutionGuard struct {
	store Store
	ttl   time.Duration
}

// NewExecutionGuard creates a guard with DefaultTTL.
func NewExecutionGuard(store Store) *ExecutionGuard {
	return &ExecutionGuard{store: store, ttl: DefaultTTL}
}

// WithTTL overrides the claim TTL.
func (g *ExecutionGuard) WithTTL(ttl time.Duration) *ExecutionGuard {
	g.ttl = ttl

	return g
}

// IsExecutionRunning reports whether a scan claim is live for the repository.
func (g *ExecutionGuard) IsExecutionRunning(ctx context.Context, repository string) (bool, error) {
	running, err := g.store.Get(ctx, keyPrefix+repository)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return running, nil
}

// SetExecutionRunning claims the scan slot for the repository. The claim
// expires after the configured TTL with no explicit clear call.
func (g *ExecutionGuard) SetExecutionRunning(ctx context.Context, repository string) error {
	err := g.store.Put(ctx, keyPrefix+repository, g.ttl)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}

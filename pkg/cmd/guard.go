package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/routeflow/pkg/guard"
)

// NewGuardStore creates the execution guard backing store. A redis:// or
// rediss:// URL selects the shared store; an empty URL falls back to the
// process-local store, which only suits single-node setups.
func NewGuardStore(ctx context.Context, guardURL string) guard.Store {
	if guardURL == "" {
		return guard.NewMemoryStore()
	}

	if strings.HasPrefix(guardURL, "redis://") || strings.HasPrefix(guardURL, "rediss://") {
		store, err := guard.NewRedisStore(ctx, guardURL)
		if err != nil {
			panic(fmt.Errorf("failed to create redis guard store: %w", err))
		}

		return store
	}

	panic("Unsupported guard store url: " + guardURL)
}

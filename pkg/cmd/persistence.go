package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/routeflow/pkg/persistence"
	"github.com/dukex/routeflow/pkg/persistence/memory"
	"github.com/dukex/routeflow/pkg/persistence/postgresql"
)

// NewPersistence creates the graph store from the database URL. A
// postgres:// or postgresql:// URL selects the shared store; anything else
// falls back to the in-memory store, which only suits single-node setups.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.GraphStore {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		store, err := postgresql.NewStore(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgresql store: %w", err))
		}

		return store
	default:
		return memory.NewStore()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "memory"
	}
}

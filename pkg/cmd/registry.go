// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	logaction "github.com/dukex/routeflow/pkg/actions/log"
	"github.com/dukex/routeflow/pkg/registry"
)

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(logaction.NewActionFactory())
}

// NewRegistry creates the action registry with all native actions installed.
func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg)

	return reg
}

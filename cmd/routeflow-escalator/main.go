package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/routeflow/pkg/cmd"
	"github.com/dukex/routeflow/pkg/guard"
	"github.com/dukex/routeflow/pkg/log"
	"github.com/dukex/routeflow/pkg/tracer"
)

func main() {
	command := &cli.Command{
		Name:                  "routeflow-escalator",
		EnableShellCompletion: true,
		Usage:                 "Run periodic escalation scans over suspended route nodes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "guard-url",
				Usage:   "Redis URL for the shared execution guard (empty for in-process)",
				Value:   "",
				Sources: cli.EnvVars("GUARD_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "repositories",
				Usage:   "Repositories to scan",
				Value:   []string{"default"},
				Sources: cli.EnvVars("REPOSITORIES"),
			},
			&cli.StringFlag{
				Name:    "scan-cron",
				Usage:   "Cron expression for escalation scans (5-field)",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("SCAN_CRON"),
			},
			&cli.DurationFlag{
				Name:    "guard-ttl",
				Usage:   "TTL of the per-repository scan claim",
				Value:   guard.DefaultTTL,
				Sources: cli.EnvVars("GUARD_TTL"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Work dispatcher pool size",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("routeflow-escalator")

			logger.InfoContext(ctx, "Initializing RouteFlow Escalator")

			tracerProvider, err := tracer.InitTracer(ctx, "routeflow-escalator")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled, failed to initialize exporter", "error", err)
			} else {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						logger.Error("Failed to shut down tracer provider", "error", err)
					}
				}()
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), "routeflow-escalator", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			manager := NewEscalatorManager(logger, store, eventBus, Config{
				GuardStore:   cmd.NewGuardStore(ctx, command.String("guard-url")),
				GuardTTL:     command.Duration("guard-ttl"),
				Repositories: command.StringSlice("repositories"),
				ScanCron:     command.String("scan-cron"),
				Workers:      int(command.Int("workers")),
			})

			return manager.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

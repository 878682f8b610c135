package main

import (
	"context"
	"os"
	"time"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/cmd"
	"github.com/tallybook/automation/pkg/engine"
	"github.com/tallybook/automation/pkg/log"
	"github.com/tallybook/automation/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "automation-api"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Manage automations and start runs over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   3000,
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   cmd.EventBusKafka,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "with-worker",
				Usage:   "Run a node worker inside the API process (required with the gochannel event bus)",
				Sources: cli.EnvVars("API_WITH_WORKER"),
			},
			&cli.DurationFlag{
				Name:    "webhook-timeout",
				Usage:   "Timeout of a single webhook request",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("WEBHOOK_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			logger := log.WithModule(serviceName)

			registry := cmd.NewRegistry(logger, command.Duration("webhook-timeout"))

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if command.Bool("with-worker") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName, command.Bool("otel-enabled"))
				if err != nil {
					return err
				}

				defer func() {
					err := shutdown(context.Background())
					if err != nil {
						logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
					}
				}()

				workerID := serviceName + "-worker"
				orchestrator := engine.NewOrchestrator(
					logger,
					persistence,
					registry,
					automation.NewBuilder(persistence, persistence),
					engine.NewBusDispatcher(eventBus, workerID),
					engine.WithTracer(tracer),
				)

				err = engine.NewWorker(workerID, logger, orchestrator, eventBus).Start(ctx)
				if err != nil {
					return err
				}
			}

			api := NewAPI(
				logger,
				persistence,
				registry,
				eventBus,
			)

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

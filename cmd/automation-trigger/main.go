// Package main provides the listener that starts automation runs from a Redis trigger queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/cmd"
	"github.com/tallybook/automation/pkg/engine"
	"github.com/tallybook/automation/pkg/log"
	"github.com/tallybook/automation/pkg/services"
	"github.com/tallybook/automation/pkg/triggers/queue"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "automation-trigger"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Start automation runs from domain events pushed to a Redis list",
		Flags: []cli.Flag{
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL",
				Value:   "redis://localhost:6379/0",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "trigger-queue",
				Usage:   "Redis list holding trigger messages",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("TRIGGER_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Setup(command.String("log-level"))

	logger := log.WithModule(serviceName)

	logger.InfoContext(ctx, "Initializing automation trigger listener")

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

	client, err := cmd.NewRedisClient(command.String("redis-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := client.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
		}
	}()

	trigger := services.NewTrigger(
		logger,
		persistence,
		automation.NewBuilder(persistence, persistence),
		engine.NewBusDispatcher(eventBus, serviceName),
	)

	listener, err := queue.NewListener(client, command.String("trigger-queue"), trigger, logger)
	if err != nil {
		return err
	}

	err = listener.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.InfoContext(ctx, "Shutting down trigger listener...")
	listener.Wait()

	return nil
}

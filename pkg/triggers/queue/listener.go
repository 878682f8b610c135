// Package queue consumes automation trigger messages from a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
	"github.com/tallybook/automation/pkg/services"
)

const DefaultQueue = "automation:triggers"

var ErrQueueRequired = errors.New("trigger queue name is required")

// Message is a domain event pushed by the business application. It names
// either one automation or a tenant whose matching automations all start.
type Message struct {
	AutomationID string `json:"automation_id,omitempty" validate:"required_without=TenantID"`
	TenantID     string `json:"tenant_id,omitempty"     validate:"required_without=AutomationID"`
	SubjectType  string `json:"subject_type"            validate:"required"`
	SubjectID    string `json:"subject_id"              validate:"required"`
	Event        string `json:"event"                   validate:"required"`
}

// Starter starts automation runs.
type Starter interface {
	Start(ctx context.Context, automationID, subjectType, subjectID, triggerEventKey string) (*models.AutomationRun, error)
	StartForEvent(ctx context.Context, tenantID, event, subjectType, subjectID string) ([]*models.AutomationRun, error)
}

type Listener struct {
	client      redis.UniversalClient
	queue       string
	starter     Starter
	logger      *slog.Logger
	validate    *validator.Validate
	pollTimeout time.Duration
	wg          sync.WaitGroup
}

func NewListener(client redis.UniversalClient, queue string, starter Starter, logger *slog.Logger) (*Listener, error) {
	if queue == "" {
		return nil, ErrQueueRequired
	}

	return &Listener{
		client:      client,
		queue:       queue,
		starter:     starter,
		logger:      logger.With("module", "queue_trigger", "queue", queue),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		pollTimeout: time.Second,
	}, nil
}

// Start checks the connection and consumes the queue until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := l.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	l.logger.InfoContext(ctx, "Starting queue consumer")

	l.wg.Add(1)

	go l.consume(ctx)

	return nil
}

// Wait blocks until the consumer started by Start has stopped.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) consume(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := l.processMessage(ctx)
			if err != nil && ctx.Err() == nil {
				l.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (l *Listener) processMessage(ctx context.Context) error {
	result, err := l.client.BLPop(ctx, l.pollTimeout, l.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	err = l.Handle(ctx, []byte(result[1]))
	if err != nil {
		// Put the message back at the tail so it is retried after the others.
		pushErr := l.client.RPush(ctx, l.queue, result[1]).Err()

		return errors.Join(err, pushErr)
	}

	return nil
}

// Handle starts the runs a message asks for. Messages that can never succeed
// are logged and dropped; only infrastructure errors are returned.
func (l *Listener) Handle(ctx context.Context, payload []byte) error {
	var msg Message

	err := json.Unmarshal(payload, &msg)
	if err != nil {
		l.logger.WarnContext(ctx, "Dropping malformed trigger message", "error", err, "payload", string(payload))

		return nil
	}

	err = l.validate.Struct(msg)
	if err != nil {
		l.logger.WarnContext(ctx, "Dropping invalid trigger message", "error", err)

		return nil
	}

	logger := l.logger.With("event", msg.Event, "subject_type", msg.SubjectType, "subject_id", msg.SubjectID)

	if msg.AutomationID != "" {
		run, err := l.starter.Start(ctx, msg.AutomationID, msg.SubjectType, msg.SubjectID, msg.Event)
		if err != nil {
			return l.rejected(ctx, logger.With("automation_id", msg.AutomationID), err)
		}

		logger.InfoContext(ctx, "Run started from queue", "automation_id", msg.AutomationID, "run_id", run.ID)

		return nil
	}

	runs, err := l.starter.StartForEvent(ctx, msg.TenantID, msg.Event, msg.SubjectType, msg.SubjectID)
	if err != nil {
		return l.rejected(ctx, logger.With("tenant_id", msg.TenantID), err)
	}

	logger.InfoContext(ctx, "Runs started from queue", "tenant_id", msg.TenantID, "runs", len(runs))

	return nil
}

func (l *Listener) rejected(ctx context.Context, logger *slog.Logger, err error) error {
	if services.IsValidationError(err) || services.IsConflictError(err) || persistence.IsAutomationNotFound(err) {
		logger.WarnContext(ctx, "Trigger message rejected", "error", err)

		return nil
	}

	return err
}

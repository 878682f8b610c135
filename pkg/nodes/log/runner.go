// Package log provides the logging node runner.
package log

import (
	"context"
	"log/slog"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/nodes"
	"github.com/tallybook/automation/pkg/template"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config is the log node configuration.
type Config struct {
	Message string `json:"message" validate:"required"`
	Level   string `json:"level"   validate:"omitempty,oneof=debug info warn error"`
}

// Runner writes a rendered message to the worker log.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a log runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("node_type", models.NodeTypeLog)}
}

func (r *Runner) Type() string {
	return models.NodeTypeLog
}

func (r *Runner) Name() string {
	return "Log"
}

func (r *Runner) Description() string {
	return "Writes a templated message to the worker log. Useful for debugging automations."
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log, may reference {{ }} placeholders",
				"examples":    []string{"Invoice {{invoice.number}} is overdue"},
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{LevelDebug, LevelInfo, LevelWarn, LevelError},
				"default": LevelInfo,
			},
		},
		"required": []string{"message"},
	}
}

func (r *Runner) Run(ctx context.Context, actx *automation.Context, config map[string]any, input map[string]any) (models.NodeResult, error) {
	var cfg Config

	err := nodes.DecodeConfig(config, &cfg)
	if err != nil {
		return models.Failed(err.Error(), nil), nil
	}

	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}

	message := template.Render(cfg.Message, nodes.TemplateData(actx, input))

	logger := r.logger
	if actx != nil {
		logger = logger.With("run_id", actx.RunID, "automation_id", actx.AutomationID)
	}

	logger.Log(ctx, level(cfg.Level), message)

	return models.Succeed(map[string]any{
		"message": message,
		"level":   cfg.Level,
		"logged":  true,
	}), nil
}

func level(name string) slog.Level {
	switch name {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

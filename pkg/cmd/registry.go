// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tallybook/automation/pkg/registry"
)

// NewRegistry registers the built-in node runners and freezes the registry.
func NewRegistry(log *slog.Logger, webhookTimeout time.Duration) *registry.Registry {
	reg := registry.NewRegistry(log)

	reg.RegisterDefaultRunners(registry.Dependencies{
		HTTPClient: &http.Client{Timeout: webhookTimeout},
	})
	reg.Freeze()

	return reg
}

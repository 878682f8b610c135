// Package registry maps node types to their runners.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tallybook/automation/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrRunnerNotFound indicates no runner is registered for a node type.
	ErrRunnerNotFound = errors.New("runner not found")

	// ErrInvalidConfig indicates a node config does not satisfy its runner's schema.
	ErrInvalidConfig = errors.New("invalid node config")
)

type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	runners map[string]protocol.NodeRunner
	frozen  bool
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log,
		runners: make(map[string]protocol.NodeRunner),
	}
}

// Register adds a runner under its type. It panics once the registry is frozen.
func (r *Registry) Register(runner protocol.NodeRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("registry: cannot register %q after freeze", runner.Type()))
	}

	if _, exists := r.runners[runner.Type()]; exists {
		r.logger.Warn("Replacing registered node runner", "type", runner.Type())
	}

	r.runners[runner.Type()] = runner
}

// Freeze closes the registry for registration. Lookups stay available.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
}

func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.runners[nodeType]

	return ok
}

func (r *Registry) Get(nodeType string) (protocol.NodeRunner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunnerNotFound, nodeType)
	}

	return runner, nil
}

// Validate checks a node config against the JSON schema of the runner for nodeType.
func (r *Registry) Validate(nodeType string, config map[string]any) error {
	runner, err := r.Get(nodeType)
	if err != nil {
		return err
	}

	schema := runner.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w for %s: %s", ErrInvalidConfig, nodeType, strings.Join(messages, "; "))
	}

	return nil
}

// Types returns the registered node types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.runners))
	for nodeType := range r.runners {
		types = append(types, nodeType)
	}

	slices.Sort(types)

	return types
}

// Runners returns the registered runners ordered by type.
func (r *Registry) Runners() []protocol.NodeRunner {
	types := r.Types()

	r.mu.RLock()
	defer r.mu.RUnlock()

	runners := make([]protocol.NodeRunner, 0, len(types))
	for _, nodeType := range types {
		runners = append(runners, r.runners[nodeType])
	}

	return runners
}

func (r *Registry) HealthCheck() (string, bool) {
	if len(r.Types()) == 0 {
		return "no node runners registered", false
	}

	return "ok", true
}

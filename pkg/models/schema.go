package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidDefinition indicates a definition document failed validation.
var ErrInvalidDefinition = errors.New("invalid automation definition")

// DefinitionSchema is the JSON schema of a user-authored definition document.
func DefinitionSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"nodes"},
		"properties": map[string]any{
			"entry": map[string]any{"type": "string"},
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"id", "type"},
					"properties": map[string]any{
						"id":     map[string]any{"type": "string", "minLength": 1},
						"type":   map[string]any{"type": "string", "minLength": 1},
						"name":   map[string]any{"type": "string"},
						"config": map[string]any{"type": []any{"object", "null"}},
					},
				},
			},
			"edges": map[string]any{
				"type": []any{"array", "null"},
				"items": map[string]any{
					"type":     "object",
					"required": []any{"from", "to"},
					"properties": map[string]any{
						"from":   map[string]any{"type": "string", "minLength": 1},
						"to":     map[string]any{"type": "string", "minLength": 1},
						"branch": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// ValidateDocument checks a decoded JSON document against DefinitionSchema.
func ValidateDocument(document any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(DefinitionSchema()),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(messages, "; "))
	}

	return nil
}

// Validate checks struct constraints and graph consistency: unique node ids and
// edges that reference existing nodes.
func (d *Definition) Validate(validate *validator.Validate) error {
	err := validate.Struct(d)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, node := range d.Nodes {
		if node == nil {
			return fmt.Errorf("%w: null node", ErrInvalidDefinition)
		}

		if seen[node.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, node.ID)
		}

		seen[node.ID] = true
	}

	for _, edge := range d.Edges {
		if !seen[edge.From] {
			return fmt.Errorf("%w: edge from unknown node %q", ErrInvalidDefinition, edge.From)
		}

		if !seen[edge.To] {
			return fmt.Errorf("%w: edge to unknown node %q", ErrInvalidDefinition, edge.To)
		}
	}

	if d.Entry != "" && !seen[d.Entry] {
		return fmt.Errorf("%w: entry node %q not found", ErrInvalidDefinition, d.Entry)
	}

	return nil
}

package web

import "github.com/tallybook/automation/pkg/protocol"

// UpdateAutomationRequest represents the request body for toggling an automation.
type UpdateAutomationRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// TriggerRequest represents the request body for starting a run by hand.
type TriggerRequest struct {
	SubjectType string `json:"subject_type" validate:"required"`
	SubjectID   string `json:"subject_id"   validate:"required"`
	Event       string `json:"event"        validate:"required"`
}

// NodeTypeResponse describes a registered node runner.
type NodeTypeResponse struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// TransformNodeTypes lists runners in the order given.
func TransformNodeTypes(runners []protocol.NodeRunner) []NodeTypeResponse {
	response := make([]NodeTypeResponse, 0, len(runners))

	for _, runner := range runners {
		response = append(response, NodeTypeResponse{
			Type:        runner.Type(),
			Name:        runner.Name(),
			Description: runner.Description(),
			Schema:      runner.Schema(),
		})
	}

	return response
}

package models_test

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybook/automation/pkg/models"
)

func TestAutomationRun_Advance(t *testing.T) {
	now := time.Now().UTC()

	run := &models.AutomationRun{Status: models.RunStatusRunning, PendingNodes: 1}
	run.Advance(2, now)
	assert.Equal(t, 2, run.PendingNodes)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	run.Advance(0, now)
	run.Advance(0, now)
	assert.Equal(t, 0, run.PendingNodes)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)

	run.Advance(3, now)
	assert.Equal(t, 0, run.PendingNodes, "terminal runs are not mutated")
}

func TestAutomationRun_AdvanceNeverNegative(t *testing.T) {
	run := &models.AutomationRun{Status: models.RunStatusRunning, PendingNodes: 0}
	run.Advance(0, time.Now())

	assert.Equal(t, 0, run.PendingNodes)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestAutomationRun_Fail(t *testing.T) {
	now := time.Now().UTC()

	run := &models.AutomationRun{Status: models.RunStatusRunning, PendingNodes: 2}
	run.Fail("boom", now)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.PendingNodes)
	assert.Equal(t, "boom", run.Error)

	run.Fail("again", now)
	assert.Equal(t, "boom", run.Error)
	assert.Equal(t, 1, run.PendingNodes)

	completed := &models.AutomationRun{Status: models.RunStatusCompleted}
	completed.Fail("late", now)
	assert.Equal(t, models.RunStatusCompleted, completed.Status)
	assert.Empty(t, completed.Error)
}

func TestAutomationRun_MarkRunning(t *testing.T) {
	run := &models.AutomationRun{Status: models.RunStatusPending}
	run.MarkRunning()
	assert.Equal(t, models.RunStatusRunning, run.Status)

	failed := &models.AutomationRun{Status: models.RunStatusFailed}
	failed.MarkRunning()
	assert.Equal(t, models.RunStatusFailed, failed.Status)
}

func TestDefinition_EntryNodeID(t *testing.T) {
	tests := []struct {
		name       string
		definition models.Definition
		expected   string
		found      bool
	}{
		{
			name: "first node without incoming edges",
			definition: models.Definition{
				Nodes: []*models.Node{{ID: "b", Type: "log"}, {ID: "a", Type: "start"}},
				Edges: []models.Edge{{From: "a", To: "b"}},
			},
			expected: "a",
			found:    true,
		},
		{
			name: "explicit entry wins",
			definition: models.Definition{
				Entry: "b",
				Nodes: []*models.Node{{ID: "a", Type: "start"}, {ID: "b", Type: "log"}},
			},
			expected: "b",
			found:    true,
		},
		{
			name:       "empty graph",
			definition: models.Definition{},
			found:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := tt.definition.EntryNodeID()
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestDefinition_Validate(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	valid := models.Definition{
		Nodes: []*models.Node{{ID: "a", Type: "start"}, {ID: "b", Type: "end"}},
		Edges: []models.Edge{{From: "a", To: "b"}},
	}
	require.NoError(t, valid.Validate(validate))

	duplicate := models.Definition{
		Nodes: []*models.Node{{ID: "a", Type: "start"}, {ID: "a", Type: "end"}},
	}
	assert.ErrorIs(t, duplicate.Validate(validate), models.ErrInvalidDefinition)

	dangling := models.Definition{
		Nodes: []*models.Node{{ID: "a", Type: "start"}},
		Edges: []models.Edge{{From: "a", To: "missing"}},
	}
	assert.ErrorIs(t, dangling.Validate(validate), models.ErrInvalidDefinition)

	missingType := models.Definition{
		Nodes: []*models.Node{{ID: "a"}},
	}
	assert.ErrorIs(t, missingType.Validate(validate), models.ErrInvalidDefinition)
}

func TestValidateDocument(t *testing.T) {
	document := map[string]any{
		"nodes": []any{
			map[string]any{"id": "a", "type": "start"},
		},
		"edges": []any{},
	}
	require.NoError(t, models.ValidateDocument(document))

	err := models.ValidateDocument(map[string]any{"edges": []any{}})
	require.ErrorIs(t, err, models.ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "nodes")
}

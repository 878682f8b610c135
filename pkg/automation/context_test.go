package automation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
)

func seededStore() *automation.MemoryStore {
	store := automation.NewMemoryStore()
	store.PutContact(automation.Contact{ID: "c1", Name: "Acme Ltd", Email: "billing@acme.test"})
	store.PutStage(automation.Stage{ID: "s1", Name: "In progress", Position: 2})
	store.PutInvoice(automation.Invoice{ID: "i1", Number: "INV-001", Status: "sent", Total: 150, Currency: "EUR", ContactID: "c1"})
	store.PutJob(automation.WorkflowJob{ID: "j1", Title: "Fit kitchen", Status: "open", StageID: "s1", ContactID: "c1", InvoiceID: "i1"})

	return store
}

func TestBuilder_BuildInvoiceContext(t *testing.T) {
	store := seededStore()
	builder := automation.NewBuilder(store, store)

	actx, err := builder.Build(context.Background(), &models.AutomationRun{
		ID:          "run-1",
		SubjectType: automation.SubjectTypeInvoice,
		SubjectID:   "i1",
	})
	require.NoError(t, err)

	data := actx.ToTemplateData(nil)
	assert.Equal(t, automation.SubjectTypeInvoice, data["subject_type"])
	assert.Equal(t, "i1", data["subject_id"])
	assert.Equal(t, "INV-001", data["invoice"].(map[string]any)["number"])
	assert.Equal(t, float64(150), data["invoice"].(map[string]any)["total"])
	assert.Equal(t, "Acme Ltd", data["contact"].(map[string]any)["name"])
	assert.Equal(t, "run-1", data["run"].(map[string]any)["id"])
}

func TestBuilder_BuildWorkflowJobContext(t *testing.T) {
	store := seededStore()
	builder := automation.NewBuilder(store, store)

	actx, err := builder.Build(context.Background(), &models.AutomationRun{
		SubjectType: automation.SubjectTypeWorkflowJob,
		SubjectID:   "j1",
	})
	require.NoError(t, err)
	assert.Equal(t, automation.SubjectTypeWorkflowJob, actx.SubjectType())

	data := actx.ToTemplateData(map[string]any{})
	assert.Equal(t, "Fit kitchen", data["job"].(map[string]any)["title"])
	assert.Equal(t, "In progress", data["stage"].(map[string]any)["name"])
	assert.Equal(t, "c1", data["contact"].(map[string]any)["id"])
	assert.Equal(t, "INV-001", data["invoice"].(map[string]any)["number"])
}

func TestContext_InputTakesPrecedence(t *testing.T) {
	store := seededStore()
	builder := automation.NewBuilder(store, store)

	actx, err := builder.Build(context.Background(), &models.AutomationRun{
		SubjectType: automation.SubjectTypeInvoice,
		SubjectID:   "i1",
	})
	require.NoError(t, err)

	data := actx.ToTemplateData(map[string]any{
		"invoice":   "overridden",
		"last_node": map[string]any{"id": "n1", "output": map[string]any{"ok": true}},
	})

	assert.Equal(t, "overridden", data["invoice"])
	assert.Equal(t, "n1", data["last_node"].(map[string]any)["id"])
}

func TestBuilder_UnknownSubjectType(t *testing.T) {
	builder := automation.NewBuilder(automation.NewMemoryStore(), automation.NewMemoryStore())

	_, err := builder.Build(context.Background(), &models.AutomationRun{SubjectType: "purchase_order", SubjectID: "x"})
	require.ErrorIs(t, err, automation.ErrUnknownSubjectType)
	assert.False(t, builder.Supports("purchase_order"))
	assert.True(t, builder.Supports(automation.SubjectTypeInvoice))
}

func TestBuilder_MissingSubject(t *testing.T) {
	store := automation.NewMemoryStore()
	builder := automation.NewBuilder(store, store)

	_, err := builder.Build(context.Background(), &models.AutomationRun{SubjectType: automation.SubjectTypeInvoice, SubjectID: "nope"})
	require.ErrorIs(t, err, automation.ErrSubjectNotFound)
}

package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybook/automation/pkg/models"
)

func run(t *testing.T, config, input map[string]any) models.NodeResult {
	t.Helper()

	result, err := NewRunner().Run(context.Background(), nil, config, input)
	require.NoError(t, err)
	require.True(t, result.Success)

	return result
}

func TestRunner_GreaterThanSelectsTrueBranch(t *testing.T) {
	result := run(t, map[string]any{
		"field":    "{{amount}}",
		"operator": "greater_than",
		"value":    "100",
	}, map[string]any{"amount": 150})

	assert.Equal(t, models.BranchTrue, result.Output["branch"])
	assert.Equal(t, true, result.Output["condition_result"])

	evaluated, ok := result.Output["evaluated"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 150, evaluated["actual_value"])
	assert.Equal(t, "100", evaluated["expected_value"])
	assert.Equal(t, "greater_than", evaluated["operator"])
}

func TestRunner_InListWithCommaSeparatedString(t *testing.T) {
	result := run(t, map[string]any{
		"field":    "letter",
		"operator": "in_list",
		"value":    "a, b, c",
	}, map[string]any{"letter": "b"})

	assert.Equal(t, true, result.Output["condition_result"])
	assert.Equal(t, models.BranchTrue, result.Output["branch"])
}

func TestRunner_UnknownOperatorYieldsFalse(t *testing.T) {
	result := run(t, map[string]any{
		"field":    "amount",
		"operator": "roughly",
		"value":    1,
	}, map[string]any{"amount": 1})

	assert.Equal(t, models.BranchFalse, result.Output["branch"])
	assert.Equal(t, false, result.Output["condition_result"])
}

func TestRunner_MissingFieldIsNull(t *testing.T) {
	result := run(t, map[string]any{
		"field":    "{{ invoice.total }}",
		"operator": "is_null",
	}, map[string]any{})

	assert.Equal(t, models.BranchTrue, result.Output["branch"])
}

func TestRunner_ValueTemplateReferencesRuntimeData(t *testing.T) {
	result := run(t, map[string]any{
		"field":    "last_node.output.status",
		"operator": "equals",
		"value":    "{{ expected }}",
	}, map[string]any{
		"expected":  "sent",
		"last_node": map[string]any{"output": map[string]any{"status": "sent"}},
	})

	assert.Equal(t, models.BranchTrue, result.Output["branch"])
}

func TestRunner_TemplatedValueIsRenderedAsText(t *testing.T) {
	input := map[string]any{"amount": 150, "threshold": 150}

	result := run(t, map[string]any{
		"field":    "{{ amount }}",
		"operator": "equals",
		"value":    "{{ threshold }}",
	}, input)

	evaluated := result.Output["evaluated"].(map[string]any)
	assert.Equal(t, "150", evaluated["expected_value"])
	assert.Equal(t, models.BranchFalse, result.Output["branch"])

	result = run(t, map[string]any{
		"field":    "{{ amount }}",
		"operator": "greater_or_equal",
		"value":    "{{ threshold }}",
	}, input)

	assert.Equal(t, models.BranchTrue, result.Output["branch"])
}

func TestRunner_NonTextValueKeepsItsType(t *testing.T) {
	result := run(t, map[string]any{
		"field":    "{{ amount }}",
		"operator": "equals",
		"value":    150,
	}, map[string]any{"amount": 150})

	assert.Equal(t, models.BranchTrue, result.Output["branch"])
}

func TestSchema_AcceptsUnknownOperator(t *testing.T) {
	schema := NewRunner().Schema()
	properties := schema["properties"].(map[string]any)
	operator := properties["operator"].(map[string]any)

	assert.NotContains(t, operator, "enum")
	assert.Contains(t, operator["description"], OpRegex)
}

func TestRunner_InvalidConfigTakesFalseBranch(t *testing.T) {
	result := run(t, map[string]any{"operator": "equals"}, nil)

	assert.Equal(t, models.BranchFalse, result.Output["branch"])
	assert.Equal(t, false, result.Output["condition_result"])
	assert.Contains(t, result.Output["error"], "Field")
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		actual   any
		expected any
		want     bool
	}{
		{"equals same string", OpEquals, "paid", "paid", true},
		{"equals does not coerce", OpEquals, "100", 100, false},
		{"equals int and float", OpEquals, 100, 100.0, true},
		{"equals bools", OpEquals, true, true, true},
		{"equals nil", OpEquals, nil, nil, true},
		{"not equals different types", OpNotEquals, "1", 1, true},
		{"contains", OpContains, "overdue invoice", "due", true},
		{"contains non text", OpContains, 123, "2", false},
		{"not contains", OpNotContains, "paid", "due", true},
		{"not contains non text", OpNotContains, nil, "due", false},
		{"starts with", OpStartsWith, "INV-001", "INV", true},
		{"ends with", OpEndsWith, "INV-001", "001", true},
		{"greater than numeric string", OpGreaterThan, "150.5", 100, true},
		{"greater than non numeric", OpGreaterThan, "abc", 1, false},
		{"greater than hex rejected", OpGreaterThan, "0x10", 1, false},
		{"less than", OpLessThan, 5, 10, true},
		{"greater or equal", OpGreaterOrEqual, 10, "10", true},
		{"less or equal", OpLessOrEqual, 11, 10, false},
		{"is empty nil", OpIsEmpty, nil, nil, true},
		{"is empty blank", OpIsEmpty, "", nil, true},
		{"is empty zero string", OpIsEmpty, "0", nil, true},
		{"is empty zero", OpIsEmpty, 0.0, nil, true},
		{"is empty false", OpIsEmpty, false, nil, true},
		{"is empty list", OpIsEmpty, []any{}, nil, true},
		{"is empty map", OpIsEmpty, map[string]any{}, nil, true},
		{"is not empty", OpIsNotEmpty, "x", nil, true},
		{"is null", OpIsNull, nil, nil, true},
		{"is not null", OpIsNotNull, "", nil, true},
		{"in list structured", OpInList, 2.0, []any{1, 2, 3}, true},
		{"in list number against string list", OpInList, 2, "1,2,3", true},
		{"in list miss", OpInList, "d", "a, b, c", false},
		{"not in list", OpNotInList, "d", "a, b, c", true},
		{"regex bare", OpRegex, "INV-42", `^INV-\d+$`, true},
		{"regex delimited with flag", OpRegex, "inv-42", `/^INV-\d+$/i`, true},
		{"regex delimited case sensitive", OpRegex, "inv-42", `/^INV-\d+$/`, false},
		{"regex unsupported modifier", OpRegex, "inv-42", `/^inv/x`, false},
		{"regex invalid pattern", OpRegex, "abc", `([`, false},
		{"regex non text", OpRegex, 42, `\d+`, false},
		{"unknown operator", "EQUALS", "a", "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.operator, tt.actual, tt.expected))
		})
	}
}

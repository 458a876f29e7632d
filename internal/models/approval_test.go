package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		name  string
		from  InstanceStatus
		event InstanceEvent
		want  InstanceStatus
		ok    bool
	}{
		{"submit pending", StatusPending, EventSubmit, StatusInProgress, true},
		{"complete pending when all steps skip", StatusPending, EventComplete, StatusApproved, true},
		{"cancel pending", StatusPending, EventCancel, StatusCancelled, true},
		{"approve keeps in progress", StatusInProgress, EventApprove, StatusInProgress, true},
		{"complete in progress", StatusInProgress, EventComplete, StatusApproved, true},
		{"reject in progress", StatusInProgress, EventReject, StatusRejected, true},
		{"request changes in progress", StatusInProgress, EventRequestChanges, StatusChangesRequested, true},
		{"cancel in progress", StatusInProgress, EventCancel, StatusCancelled, true},
		{"resubmit after changes", StatusChangesRequested, EventResubmit, StatusInProgress, true},
		{"complete after changes when remaining steps skip", StatusChangesRequested, EventComplete, StatusApproved, true},
		{"submit while in progress", StatusInProgress, EventSubmit, StatusInProgress, false},
		{"reject pending", StatusPending, EventReject, StatusPending, false},
		{"cancel after changes requested", StatusChangesRequested, EventCancel, StatusChangesRequested, false},
		{"approve terminal", StatusApproved, EventApprove, StatusApproved, false},
		{"resubmit rejected", StatusRejected, EventResubmit, StatusRejected, false},
		{"cancel cancelled", StatusCancelled, EventCancel, StatusCancelled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NextStatus(tc.from, tc.event)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestInstanceStatusTerminal(t *testing.T) {
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusChangesRequested.Terminal())
}

func TestConditionalRuleApplies(t *testing.T) {
	snapshot := map[string]interface{}{
		"budget_cents": int64(5_000_00),
		"site_id":      "site-1",
		"type":         "REVENUE",
	}

	t.Run("nil rule applies", func(t *testing.T) {
		var rule *ConditionalRule
		assert.True(t, rule.Applies(snapshot))
	})

	t.Run("empty field applies", func(t *testing.T) {
		rule := &ConditionalRule{}
		assert.True(t, rule.Applies(snapshot))
	})

	t.Run("missing field is false", func(t *testing.T) {
		rule := &ConditionalRule{Field: "nonexistent", Operator: "eq", Operand: "x"}
		assert.False(t, rule.Applies(snapshot))
	})

	t.Run("equality coerces numbers", func(t *testing.T) {
		rule := &ConditionalRule{Field: "budget_cents", Operator: "eq", Operand: float64(500000)}
		assert.True(t, rule.Applies(snapshot))
	})

	t.Run("string equality", func(t *testing.T) {
		rule := &ConditionalRule{Field: "site_id", Operand: "site-1"}
		assert.True(t, rule.Applies(snapshot))
		rule.Operand = "site-2"
		assert.False(t, rule.Applies(snapshot))
	})

	t.Run("comparison operators", func(t *testing.T) {
		assert.True(t, (&ConditionalRule{Field: "budget_cents", Operator: "gt", Operand: 100000}).Applies(snapshot))
		assert.False(t, (&ConditionalRule{Field: "budget_cents", Operator: "gt", Operand: 500000}).Applies(snapshot))
		assert.True(t, (&ConditionalRule{Field: "budget_cents", Operator: "gte", Operand: 500000}).Applies(snapshot))
		assert.True(t, (&ConditionalRule{Field: "budget_cents", Operator: "lt", Operand: 600000}).Applies(snapshot))
		assert.False(t, (&ConditionalRule{Field: "budget_cents", Operator: "lte", Operand: 1}).Applies(snapshot))
	})

	t.Run("in operator", func(t *testing.T) {
		rule := &ConditionalRule{Field: "type", Operator: "in", Operand: []interface{}{"EXPENSE", "REVENUE"}}
		assert.True(t, rule.Applies(snapshot))
		rule.Operand = []interface{}{"EXPENSE"}
		assert.False(t, rule.Applies(snapshot))
	})

	t.Run("unknown operator is false", func(t *testing.T) {
		rule := &ConditionalRule{Field: "type", Operator: "matches", Operand: "REVENUE"}
		assert.False(t, rule.Applies(snapshot))
	})

	t.Run("non-numeric comparison is false", func(t *testing.T) {
		rule := &ConditionalRule{Field: "site_id", Operator: "gt", Operand: 10}
		assert.False(t, rule.Applies(snapshot))
	})
}

func TestWorkflowStepLookup(t *testing.T) {
	wf := &ApprovalWorkflow{
		Steps: []ApprovalStep{
			{ID: "s1", StepOrder: 1},
			{ID: "s2", StepOrder: 2},
			{ID: "s4", StepOrder: 4},
		},
	}

	first := wf.StepAfter(0)
	require.NotNil(t, first)
	assert.Equal(t, "s1", first.ID)

	afterGap := wf.StepAfter(2)
	require.NotNil(t, afterGap)
	assert.Equal(t, "s4", afterGap.ID)

	assert.Nil(t, wf.StepAfter(4))

	found := wf.StepByID("s2")
	require.NotNil(t, found)
	assert.Equal(t, 2, found.StepOrder)
	assert.Nil(t, wf.StepByID("nope"))
}

func TestStepPurposeHelpers(t *testing.T) {
	action := &ApprovalStep{StepPurpose: PurposeAction, RequiredApprovals: 1}
	approval := &ApprovalStep{StepPurpose: PurposeApproval, RequiredApprovals: 2}
	zero := &ApprovalStep{StepPurpose: PurposeApproval, RequiredApprovals: 0}

	assert.True(t, action.IsActionStep())
	assert.False(t, action.RequiresApproval())
	assert.True(t, approval.RequiresApproval())
	assert.False(t, zero.RequiresApproval())

	assert.True(t, PurposeAction.Valid())
	assert.False(t, StepPurpose("other").Valid())
	assert.True(t, ApproverRole.Valid())
	assert.False(t, ApproverType("group").Valid())
}

func TestConditionalRuleScan(t *testing.T) {
	var rule ConditionalRule
	require.NoError(t, rule.Scan([]byte(`{"field":"budget_cents","operator":"gt","value":1000}`)))
	assert.Equal(t, "budget_cents", rule.Field)
	assert.Equal(t, "gt", rule.Operator)

	require.NoError(t, rule.Scan(nil))
	assert.Error(t, (&ConditionalRule{}).Scan(42))

	// the operand keeps its wire name through the driver.Valuer
	raw, err := ConditionalRule{Field: "budget_cents", Operator: "gt", Operand: 1000}.Value()
	require.NoError(t, err)
	assert.Contains(t, string(raw.([]byte)), `"value":1000`)
}

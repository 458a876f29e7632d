package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// InstanceStatus is the state-machine discriminator for approval instances.
// Stored as text so audit views stay human-readable.
type InstanceStatus string

const (
	StatusPending          InstanceStatus = "pending"
	StatusInProgress       InstanceStatus = "in_progress"
	StatusChangesRequested InstanceStatus = "changes_requested"
	StatusApproved         InstanceStatus = "approved"
	StatusRejected         InstanceStatus = "rejected"
	StatusCancelled        InstanceStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// InstanceEvent names a requested state-machine transition.
type InstanceEvent string

const (
	EventSubmit         InstanceEvent = "submit"
	EventApprove        InstanceEvent = "approve"
	EventComplete       InstanceEvent = "complete"
	EventReject         InstanceEvent = "reject"
	EventRequestChanges InstanceEvent = "request_changes"
	EventResubmit       InstanceEvent = "resubmit"
	EventCancel         InstanceEvent = "cancel"
)

// transitions is the closed from-state x event table. Anything absent here
// is an invalid transition and must surface as a no-op false to callers.
var transitions = map[InstanceStatus]map[InstanceEvent]InstanceStatus{
	StatusPending: {
		EventSubmit:   StatusInProgress,
		EventComplete: StatusApproved,
		EventCancel:   StatusCancelled,
	},
	StatusInProgress: {
		EventApprove:        StatusInProgress,
		EventComplete:       StatusApproved,
		EventReject:         StatusRejected,
		EventRequestChanges: StatusChangesRequested,
		EventCancel:         StatusCancelled,
	},
	StatusChangesRequested: {
		EventResubmit: StatusInProgress,
		EventComplete: StatusApproved,
	},
}

// NextStatus resolves the transition table. ok is false for any pair not in
// the table, including every event against a terminal status.
func NextStatus(from InstanceStatus, event InstanceEvent) (InstanceStatus, bool) {
	row, ok := transitions[from]
	if !ok {
		return from, false
	}
	to, ok := row[event]
	return to, ok
}

// StepType distinguishes how approvals within a step may arrive. Parallel is
// informational: activation order and counting are identical to Sequential.
type StepType string

const (
	StepSequential StepType = "sequential"
	StepParallel   StepType = "parallel"
)

// StepPurpose separates gating approval steps from non-blocking action
// checkpoints.
type StepPurpose string

const (
	PurposeApproval StepPurpose = "approval"
	PurposeAction   StepPurpose = "action"
)

// Valid reports whether the purpose is a known value.
func (p StepPurpose) Valid() bool {
	return p == PurposeApproval || p == PurposeAction
}

// ApproverType declares how a step's identifiers are matched against users.
type ApproverType string

const (
	ApproverUser       ApproverType = "user"
	ApproverRole       ApproverType = "role"
	ApproverPermission ApproverType = "permission"
)

// Valid reports whether the approver type is a known value.
func (t ApproverType) Valid() bool {
	return t == ApproverUser || t == ApproverRole || t == ApproverPermission
}

// ActionType is the kind of recorded approval action.
type ActionType string

const (
	ActionApprove        ActionType = "approve"
	ActionReject         ActionType = "reject"
	ActionRequestChanges ActionType = "request_changes"
	ActionCancel         ActionType = "cancel"
)

// ConditionalRule is a declarative predicate evaluated against an approvable
// entity snapshot. A false result auto-skips the step.
type ConditionalRule struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Operand  interface{} `json:"value"`
}

// Value implements driver.Valuer, storing the rule as JSONB.
func (r ConditionalRule) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *ConditionalRule) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return fmt.Errorf("unsupported conditional rule type %T", src)
}

// Applies evaluates the rule against an entity snapshot. Unknown fields and
// operators evaluate false so a misconfigured rule skips its step instead of
// deadlocking the chain.
func (r *ConditionalRule) Applies(snapshot map[string]interface{}) bool {
	if r == nil || r.Field == "" {
		return true
	}
	actual, ok := snapshot[r.Field]
	if !ok {
		return false
	}

	switch strings.ToLower(r.Operator) {
	case "", "eq", "equals":
		return compareEqual(actual, r.Operand)
	case "neq", "not_equals":
		return !compareEqual(actual, r.Operand)
	case "gt":
		a, b, ok := toFloats(actual, r.Operand)
		return ok && a > b
	case "gte":
		a, b, ok := toFloats(actual, r.Operand)
		return ok && a >= b
	case "lt":
		a, b, ok := toFloats(actual, r.Operand)
		return ok && a < b
	case "lte":
		a, b, ok := toFloats(actual, r.Operand)
		return ok && a <= b
	case "in":
		list, ok := r.Operand.([]interface{})
		if !ok {
			return false
		}
		for _, candidate := range list {
			if compareEqual(actual, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

func compareEqual(a, b interface{}) bool {
	if af, bf, ok := toFloats(a, b); ok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloats(a, b interface{}) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return af, bf, aok && bok
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ApprovalWorkflow is a named, ordered set of steps bound to one approvable
// entity type. At most one workflow is active per model type.
type ApprovalWorkflow struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	ModelType   string     `db:"model_type" json:"model_type"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	Steps []ApprovalStep `db:"-" json:"steps,omitempty"`
}

// StepAfter returns the step with the lowest order strictly greater than the
// given order, or nil when none remains. Steps must be sorted ascending.
func (w *ApprovalWorkflow) StepAfter(order int) *ApprovalStep {
	for i := range w.Steps {
		if w.Steps[i].StepOrder > order {
			return &w.Steps[i]
		}
	}
	return nil
}

// StepByID finds a step by identifier.
func (w *ApprovalWorkflow) StepByID(id string) *ApprovalStep {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// ApprovalStep is one ordered gate in a workflow.
type ApprovalStep struct {
	ID                  string           `db:"id" json:"id"`
	WorkflowID          string           `db:"workflow_id" json:"workflow_id"`
	StepOrder           int              `db:"step_order" json:"step_order"`
	Name                string           `db:"name" json:"name"`
	Description         string           `db:"description" json:"description"`
	StepType            StepType         `db:"step_type" json:"step_type"`
	StepPurpose         StepPurpose      `db:"step_purpose" json:"step_purpose"`
	ApproverType        ApproverType     `db:"approver_type" json:"approver_type"`
	ApproverIdentifiers pq.StringArray   `db:"approver_identifiers" json:"approver_identifiers"`
	RequiredApprovals   int              `db:"required_approvals" json:"required_approvals"`
	ConditionalRule     *ConditionalRule `db:"conditional_rule" json:"conditional_rule,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// IsActionStep reports whether the step is a non-blocking action checkpoint.
func (s *ApprovalStep) IsActionStep() bool {
	return s.StepPurpose == PurposeAction
}

// RequiresApproval reports whether the step gates progression on sign-off.
func (s *ApprovalStep) RequiresApproval() bool {
	return !s.IsActionStep() && s.RequiredApprovals > 0
}

// ApprovalInstance is one run of a workflow against one approvable entity.
type ApprovalInstance struct {
	ID             string         `db:"id" json:"id"`
	WorkflowID     string         `db:"workflow_id" json:"workflow_id"`
	ApprovableType string         `db:"approvable_type" json:"approvable_type"`
	ApprovableID   string         `db:"approvable_id" json:"approvable_id"`
	Status         InstanceStatus `db:"status" json:"status"`
	CurrentStepID  *string        `db:"current_step_id" json:"current_step_id,omitempty"`
	SubmittedBy    string         `db:"submitted_by" json:"submitted_by"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`

	Actions []ApprovalAction `db:"-" json:"actions,omitempty"`
}

// Active reports whether the instance still occupies its approvable: any
// non-terminal status counts, Pending included.
func (i *ApprovalInstance) Active() bool {
	return !i.Status.Terminal()
}

// ApprovalAction is one immutable entry in the append-only action ledger.
// StepID is null for actions recorded outside a step, such as a cancellation
// of a still-pending instance.
type ApprovalAction struct {
	ID         string     `db:"id" json:"id"`
	InstanceID string     `db:"instance_id" json:"instance_id"`
	StepID     *string    `db:"step_id" json:"step_id,omitempty"`
	ActorID    string     `db:"actor_id" json:"actor_id"`
	ActionType ActionType `db:"action_type" json:"action_type"`
	Comments   *string    `db:"comments" json:"comments,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// ApprovalWorkflowFilter captures filtering criteria for listing workflows.
type ApprovalWorkflowFilter struct {
	ModelType string
	IsActive  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ApprovalInstanceFilter captures filtering criteria for listing instances.
type ApprovalInstanceFilter struct {
	WorkflowID     string
	ApprovableType string
	Status         InstanceStatus
	SubmittedBy    string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

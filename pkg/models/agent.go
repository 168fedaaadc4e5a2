package models

import (
	"time"
)

// PermissionLevel is a capability in the ordered lattice
// read < write < execute_actions. Higher levels imply the lower ones.
type PermissionLevel string

const (
	PermissionRead           PermissionLevel = "read"
	PermissionWrite          PermissionLevel = "write"
	PermissionExecuteActions PermissionLevel = "execute_actions"
)

// AIAgentConfig holds enablement and approval policy for one automated
// agent. Disabling an agent takes effect immediately for all subsequent
// authorization checks.
type AIAgentConfig struct {
	ID                             string    `json:"id"`
	AgentID                        string    `json:"agent_id"`
	Name                           string    `json:"name"`
	IsEnabled                      bool      `json:"is_enabled"`
	RequiresHumanApprovalForAction bool      `json:"requires_human_approval_for_actions"`
	CreatedAt                      time.Time `json:"created_at"`
	UpdatedAt                      time.Time `json:"updated_at"`
}

// AIPermissionScope grants a permission level to an agent for one object
// type. One scope governs one (agent, object_type) pair; absence of a
// scope means deny.
type AIPermissionScope struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	ObjectType string          `json:"object_type"`
	Permission PermissionLevel `json:"permission"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StrategyActionType is the closed set of automated actions the ledger
// knows how to record and, where possible, compensate.
type StrategyActionType string

const (
	ActionCreateWorkflow    StrategyActionType = "create_workflow"
	ActionCreateTask        StrategyActionType = "create_task"
	ActionUpdateClientField StrategyActionType = "update_client_field"
)

// StrategyActionStatus tracks a recorded automated action through its life.
type StrategyActionStatus string

const (
	ActionProposed   StrategyActionStatus = "proposed"
	ActionExecuted   StrategyActionStatus = "executed"
	ActionRolledBack StrategyActionStatus = "rolled_back"
)

// StrategyAction records a proposed or executed automated action together
// with a result snapshot precise enough to compensate it later. Only an
// executed action may transition to rolled_back, and rollback is rejected
// on an already-rolled-back action.
type StrategyAction struct {
	ID         string               `json:"id"`
	AgentID    string               `json:"agent_id"`
	ActionType StrategyActionType   `json:"action_type"`
	Status     StrategyActionStatus `json:"status"`
	Result     map[string]any       `json:"result,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// AuditStatus is the outcome of one automated invocation.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditError   AuditStatus = "error"
)

// AIAuditLog records one automated invocation. Entries are appended by the
// owning invocation; the only later update permitted is a feedback
// submission.
type AIAuditLog struct {
	ID            string      `json:"id"`
	AgentID       string      `json:"agent_id"`
	InputSummary  string      `json:"input_summary"`
	OutputSummary string      `json:"output_summary,omitempty"`
	RawInput      string      `json:"raw_input,omitempty"`
	RawOutput     string      `json:"raw_output,omitempty"`
	Status        AuditStatus `json:"status"`
	DurationMs    int64       `json:"duration_ms"`
	UserFeedback  *string     `json:"user_feedback,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Client is the customer a workflow instance runs for.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

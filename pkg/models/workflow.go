// Package models defines the domain models for the clientflow service
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle status of a workflow instance
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// StageStatus represents the lifecycle status of a stage instance
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageSkipped    StageStatus = "skipped"
)

// DeliverableStatus represents the lifecycle status of a deliverable instance
type DeliverableStatus string

const (
	DeliverablePending    DeliverableStatus = "pending"
	DeliverableInProgress DeliverableStatus = "in_progress"
	DeliverableCompleted  DeliverableStatus = "completed"
	DeliverableBlocked    DeliverableStatus = "blocked"
)

// TaskStatus represents the lifecycle status of a task instance
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// TemplateTask is one task definition inside a deliverable definition.
type TemplateTask struct {
	Title         string `json:"title"`
	SequenceOrder int    `json:"sequence_order"`
}

// TemplateDeliverable is one deliverable definition inside a stage definition.
type TemplateDeliverable struct {
	Name  string         `json:"name"`
	Tasks []TemplateTask `json:"tasks,omitempty"`
}

// TemplateStage is one ordered stage definition inside a workflow template.
type TemplateStage struct {
	Name          string                `json:"name"`
	SequenceOrder int                   `json:"sequence_order"`
	Deliverables  []TemplateDeliverable `json:"deliverables,omitempty"`
}

// WorkflowTemplate is a reusable definition of a workflow. The optional
// NextWorkflowTemplateID links templates into a chain: completing an
// instance of this template starts an instance of the successor.
// The template graph is not required to be acyclic; chaining takes at most
// one hop per completion.
type WorkflowTemplate struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Description            string          `json:"description,omitempty"`
	Stages                 []TemplateStage `json:"stages"`
	NextWorkflowTemplateID *string         `json:"next_workflow_template_id,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// WorkflowInstance is one run of a template for one client.
// Status is monotone: once completed or cancelled there are no further
// transitions. ProgressPercentage reaches 100 only at completion.
type WorkflowInstance struct {
	ID                 string         `json:"id"`
	TemplateID         string         `json:"template_id"`
	ClientID           string         `json:"client_id"`
	Name               string         `json:"name"`
	Status             WorkflowStatus `json:"status"`
	ProgressPercentage int            `json:"progress_percentage"`
	StartedAt          time.Time      `json:"started_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// StageInstance is one stage within a workflow instance.
// completed and skipped are terminal for a stage.
type StageInstance struct {
	ID                 string      `json:"id"`
	WorkflowID         string      `json:"workflow_id"`
	Name               string      `json:"name"`
	SequenceOrder      int         `json:"sequence_order"`
	Status             StageStatus `json:"status"`
	ProgressPercentage int         `json:"progress_percentage"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// DeliverableInstance is one deliverable within a stage.
// completed is terminal; blocked is reversible.
type DeliverableInstance struct {
	ID                 string            `json:"id"`
	StageID            string            `json:"stage_id"`
	Name               string            `json:"name"`
	Status             DeliverableStatus `json:"status"`
	ProgressPercentage int               `json:"progress_percentage"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// TaskInstance is the atomic unit of work.
// Invariant: IsBlocked is true exactly when Status is blocked and
// BlockerReason is non-empty. Ad-hoc and template tasks follow the same
// cancellation rules.
type TaskInstance struct {
	ID            string     `json:"id"`
	DeliverableID string     `json:"deliverable_id"`
	Title         string     `json:"title"`
	Status        TaskStatus `json:"status"`
	IsBlocked     bool       `json:"is_blocked"`
	BlockerReason string     `json:"blocker_reason,omitempty"`
	AssignedUser  string     `json:"assigned_user,omitempty"`
	IsAdHoc       bool       `json:"is_ad_hoc"`
	SequenceOrder int        `json:"sequence_order"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

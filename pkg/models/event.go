package models

import (
	"time"
)

// EventType is the closed set of domain facts the event log records.
type EventType string

const (
	EventTaskCreated               EventType = "task_created"
	EventTaskCompleted             EventType = "task_completed"
	EventTaskBlocked               EventType = "task_blocked"
	EventTaskUnblocked             EventType = "task_unblocked"
	EventDeliverableCompleted      EventType = "deliverable_completed"
	EventDeliverableBlocked        EventType = "deliverable_blocked"
	EventDeliverableUnblocked      EventType = "deliverable_unblocked"
	EventStageCompleted            EventType = "stage_completed"
	EventWorkflowInstanceCreated   EventType = "workflow_instance_created"
	EventWorkflowInstanceCompleted EventType = "workflow_instance_completed"
	EventWorkflowInstanceCancelled EventType = "workflow_instance_cancelled"
	EventPermissionGranted         EventType = "permission_granted"
	EventPermissionRevoked         EventType = "permission_revoked"
	EventStrategyActionExecuted    EventType = "strategy_action_executed"
)

// KnownEventTypes enumerates every event type the log accepts.
var KnownEventTypes = map[EventType]bool{
	EventTaskCreated:               true,
	EventTaskCompleted:             true,
	EventTaskBlocked:               true,
	EventTaskUnblocked:             true,
	EventDeliverableCompleted:      true,
	EventDeliverableBlocked:        true,
	EventDeliverableUnblocked:      true,
	EventStageCompleted:            true,
	EventWorkflowInstanceCreated:   true,
	EventWorkflowInstanceCompleted: true,
	EventWorkflowInstanceCancelled: true,
	EventPermissionGranted:         true,
	EventPermissionRevoked:         true,
	EventStrategyActionExecuted:    true,
}

// ActorType identifies what kind of principal performed an operation.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAI     ActorType = "ai"
	ActorSystem ActorType = "system"
)

// Actor is the explicit principal threaded through every operation call.
// There is no ambient current-user state anywhere in the service.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// SystemActor is the actor used for cascades the engine triggers itself.
var SystemActor = Actor{Type: ActorSystem}

// Event is an immutable fact: something happened. Events are append-only
// and never mutated or deleted after creation (the only exception is the
// bulk purge performed by workflow deletion, which bypasses the log's
// public contract). The log holds identifiers only, never owning the
// entities an event references.
type Event struct {
	ID               string         `json:"id"`
	Type             EventType      `json:"event_type"`
	SourceEntityType string         `json:"source_entity_type"`
	SourceEntityID   string         `json:"source_entity_id"`
	ActorType        ActorType      `json:"actor_type"`
	ActorID          *string        `json:"actor_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
	CreatedAt        time.Time      `json:"created_at"`
}

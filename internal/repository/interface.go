// Package repository provides the entity store adapter: a thin, generic
// interface over the external entity store every component writes through.
package repository

import (
	"context"
	"time"
)

// EntityType names a stored entity collection.
type EntityType string

const (
	EntityClient              EntityType = "client"
	EntityWorkflowTemplate    EntityType = "workflow_template"
	EntityWorkflowInstance    EntityType = "workflow_instance"
	EntityStageInstance       EntityType = "stage_instance"
	EntityDeliverableInstance EntityType = "deliverable_instance"
	EntityTaskInstance        EntityType = "task_instance"
	EntityEvent               EntityType = "event"
	EntityAgentConfig         EntityType = "ai_agent_config"
	EntityPermissionScope     EntityType = "ai_permission_scope"
	EntityStrategyAction      EntityType = "strategy_action"
	EntityAuditLog            EntityType = "ai_audit_log"
)

// Entity is one stored record. Fields is the JSON document the typed
// models are encoded into; the store never interprets it beyond predicate
// matching and sorting.
type Entity struct {
	ID        string
	Type      EntityType
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FilterOptions carries optional sort and limit parameters for Filter.
type FilterOptions struct {
	SortBy   string
	SortDesc bool
	Limit    int
}

// FilterOption configures a Filter call.
type FilterOption func(*FilterOptions)

// WithSort orders results by a field inside the entity document.
func WithSort(field string, desc bool) FilterOption {
	return func(o *FilterOptions) {
		o.SortBy = field
		o.SortDesc = desc
	}
}

// WithLimit caps the number of results returned.
func WithLimit(n int) FilterOption {
	return func(o *FilterOptions) {
		o.Limit = n
	}
}

// Store is the entity store port. Predicates are equality matches on
// fields of the entity document; dotted keys ("payload.workflow_id")
// address nested fields. Implementations return models.NewNotFound for
// absent entities and are assumed eventually consistent with the caller's
// own prior writes only.
type Store interface {
	// Filter returns the entities of type t matching every predicate entry.
	Filter(ctx context.Context, t EntityType, predicate map[string]any, opts ...FilterOption) ([]*Entity, error)
	// Get retrieves one entity by id.
	Get(ctx context.Context, t EntityType, id string) (*Entity, error)
	// Create inserts a new entity and returns it with its assigned id.
	Create(ctx context.Context, t EntityType, fields map[string]any) (*Entity, error)
	// Update merges partial fields into an existing entity.
	Update(ctx context.Context, t EntityType, id string, fields map[string]any) (*Entity, error)
	// Delete removes an entity.
	Delete(ctx context.Context, t EntityType, id string) error
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

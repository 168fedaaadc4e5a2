// Package authz decides whether an automated agent may act, producing an
// auditable allow/deny for every consequential check.
package authz

import (
	"context"

	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the engine depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Decision is the outcome of a permission check. RequiresApproval means
// the action is permitted but must be approved by a human before the
// caller executes it; the engine surfaces the requirement, the caller
// enforces it.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}

// Engine evaluates agent permissions against the ordered capability
// lattice read < write < execute_actions.
type Engine struct {
	store  repository.Store
	events *eventlog.Log
	logger Logger
}

// NewEngine creates an authorization engine.
func NewEngine(store repository.Store, events *eventlog.Log, logger Logger) *Engine {
	return &Engine{store: store, events: events, logger: logger}
}

// permissionRank orders the capability lattice. A scope's level satisfies
// a requirement when its rank is at least the required rank; membership in
// the upward-closed set, not string-list containment, so renaming a level
// cannot silently drift.
var permissionRank = map[models.PermissionLevel]int{
	models.PermissionRead:           1,
	models.PermissionWrite:          2,
	models.PermissionExecuteActions: 3,
}

// requiredLevel maps an action type to the minimal permission it needs.
// Unrecognized action types require execute_actions: the default fails
// closed.
func requiredLevel(actionType string) models.PermissionLevel {
	switch actionType {
	case "read":
		return models.PermissionRead
	case "write", "create", "update":
		return models.PermissionWrite
	case "delete", "execute":
		return models.PermissionExecuteActions
	default:
		return models.PermissionExecuteActions
	}
}

// CheckPermission evaluates whether an agent may perform an action on a
// target object. A missing agent config is NotFound (callers treat it as
// denied); a disabled agent is denied without an audit event, since a
// disabled agent's checks are not worth logging. Reads never require
// human sign-off, even under a strict agent config.
func (e *Engine) CheckPermission(ctx context.Context, agentID, actionType, targetObjectType, targetObjectID string) (*Decision, error) {
	if agentID == "" || actionType == "" || targetObjectType == "" {
		return nil, models.NewInvalidInput("agent id, action type, and target object type are required")
	}

	config, err := e.agentConfig(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if !config.IsEnabled {
		return &Decision{Allowed: false, Reason: "agent disabled"}, nil
	}

	scope, err := e.scopeFor(ctx, agentID, targetObjectType)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return &Decision{Allowed: false, Reason: "no permissions defined"}, nil
	}

	required := requiredLevel(actionType)
	if permissionRank[scope.Permission] < permissionRank[required] {
		if _, err := e.appendDecisionEvent(ctx, models.EventPermissionRevoked, agentID, targetObjectType, targetObjectID, map[string]any{
			"action_type": actionType,
			"granted":     string(scope.Permission),
			"required":    string(required),
		}); err != nil {
			return nil, err
		}
		return &Decision{
			Allowed: false,
			Reason:  "permission denied for action " + actionType + " on " + targetObjectType,
		}, nil
	}

	if config.RequiresHumanApprovalForAction && actionType != "read" {
		return &Decision{Allowed: true, RequiresApproval: true}, nil
	}

	if _, err := e.appendDecisionEvent(ctx, models.EventPermissionGranted, agentID, targetObjectType, targetObjectID, map[string]any{
		"action_type": actionType,
		"granted":     string(scope.Permission),
	}); err != nil {
		return nil, err
	}
	return &Decision{Allowed: true}, nil
}

func (e *Engine) agentConfig(ctx context.Context, agentID string) (*models.AIAgentConfig, error) {
	entities, err := e.store.Filter(ctx, repository.EntityAgentConfig,
		map[string]any{"agent_id": agentID}, repository.WithLimit(1))
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to load agent config")
	}
	if len(entities) == 0 {
		return nil, models.NewNotFound("agent %s not found", agentID)
	}
	var config models.AIAgentConfig
	if err := repository.Decode(entities[0], &config); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode agent config")
	}
	return &config, nil
}

func (e *Engine) scopeFor(ctx context.Context, agentID, objectType string) (*models.AIPermissionScope, error) {
	entities, err := e.store.Filter(ctx, repository.EntityPermissionScope,
		map[string]any{"agent_id": agentID, "object_type": objectType},
		repository.WithLimit(1))
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to load permission scope")
	}
	if len(entities) == 0 {
		return nil, nil
	}
	var scope models.AIPermissionScope
	if err := repository.Decode(entities[0], &scope); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode permission scope")
	}
	return &scope, nil
}

func (e *Engine) appendDecisionEvent(ctx context.Context, eventType models.EventType, agentID, targetObjectType, targetObjectID string, payload map[string]any) (*models.Event, error) {
	payload["agent_id"] = agentID
	sourceID := targetObjectID
	if sourceID == "" {
		sourceID = agentID
	}
	agent := agentID
	return e.events.Append(ctx, &models.Event{
		Type:             eventType,
		SourceEntityType: targetObjectType,
		SourceEntityID:   sourceID,
		ActorType:        models.ActorAI,
		ActorID:          &agent,
		Payload:          payload,
	})
}

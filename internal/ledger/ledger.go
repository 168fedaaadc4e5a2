// Package ledger records every automated action's effect precisely enough
// to compensate it later.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/lifecycle"
	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the ledger depends on.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RollbackResult reports what a rollback physically did. Compensated is
// false when the ledger entry transitioned to rolled_back without any
// physical effect being reverted.
type RollbackResult struct {
	Action      *models.StrategyAction
	Compensated bool
	Outcome     string
}

// Ledger wraps automated mutations so they can be compensated.
type Ledger struct {
	store     repository.Store
	events    *eventlog.Log
	lifecycle *lifecycle.Engine
	logger    Logger
	now       func() time.Time
}

// New creates an action ledger.
func New(store repository.Store, events *eventlog.Log, lc *lifecycle.Engine, logger Logger) *Ledger {
	return &Ledger{
		store:     store,
		events:    events,
		lifecycle: lc,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordExecuted records an automated action that has been carried out.
// The result snapshot must reference whatever the action created or
// mutated; it is all a later rollback has to work with.
func (l *Ledger) RecordExecuted(ctx context.Context, agentID string, actionType models.StrategyActionType, result map[string]any) (*models.StrategyAction, error) {
	if agentID == "" {
		return nil, models.NewInvalidInput("agent id is required")
	}
	if actionType == "" {
		return nil, models.NewInvalidInput("action type is required")
	}
	if result == nil {
		return nil, models.NewInvalidInput("action result snapshot is required")
	}

	now := l.now()
	action := &models.StrategyAction{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		ActionType: actionType,
		Status:     models.ActionExecuted,
		Result:     result,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	fields, err := repository.Encode(action)
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to encode strategy action")
	}
	if _, err := l.store.Create(ctx, repository.EntityStrategyAction, fields); err != nil {
		return nil, models.WrapUnexpected(err, "failed to record strategy action")
	}
	return action, nil
}

// Get retrieves one ledger entry.
func (l *Ledger) Get(ctx context.Context, actionID string) (*models.StrategyAction, error) {
	ent, err := l.store.Get(ctx, repository.EntityStrategyAction, actionID)
	if err != nil {
		return nil, err
	}
	var action models.StrategyAction
	if err := repository.Decode(ent, &action); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode strategy action %s", actionID)
	}
	return &action, nil
}

// Rollback compensates an executed action. Only executed actions roll
// back, and only once: re-invoking on a rolled-back action is rejected, so
// no second compensating operation can run. A failure inside the
// compensating operation aborts with the action left executed, keeping a
// retry possible.
func (l *Ledger) Rollback(ctx context.Context, actionID, reason string, actor models.Actor) (*RollbackResult, error) {
	action, err := l.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != models.ActionExecuted {
		return nil, models.NewInvalidState("action %s is %s, only executed actions can be rolled back", actionID, action.Status)
	}

	compensated, outcome, err := l.compensate(ctx, action, actor)
	if err != nil {
		return nil, err
	}

	now := l.now()
	result := action.Result
	if result == nil {
		result = map[string]any{}
	}
	result["rollback_reason"] = reason
	result["rollback_actor_type"] = string(actor.Type)
	result["rollback_actor_id"] = actor.ID
	result["rolled_back_at"] = now.Format(time.RFC3339Nano)
	result["rollback_outcome"] = outcome

	if _, err := l.store.Update(ctx, repository.EntityStrategyAction, actionID, map[string]any{
		"status":     string(models.ActionRolledBack),
		"result":     result,
		"updated_at": now,
	}); err != nil {
		return nil, models.WrapUnexpected(err, "failed to update strategy action %s", actionID)
	}
	action.Status = models.ActionRolledBack
	action.Result = result
	action.UpdatedAt = now

	var actorID *string
	if actor.ID != "" {
		id := actor.ID
		actorID = &id
	}
	if _, err := l.events.Append(ctx, &models.Event{
		Type:             models.EventStrategyActionExecuted,
		SourceEntityType: string(repository.EntityStrategyAction),
		SourceEntityID:   actionID,
		ActorType:        actor.Type,
		ActorID:          actorID,
		Payload: map[string]any{
			"rollback":    true,
			"action_type": string(action.ActionType),
			"outcome":     outcome,
		},
	}); err != nil {
		return nil, err
	}

	l.logger.Info("strategy action rolled back", "action_id", actionID, "outcome", outcome)
	return &RollbackResult{Action: action, Compensated: compensated, Outcome: outcome}, nil
}

// compensate dispatches on the closed set of action types. Each branch is
// an explicit compensating operation; the default branch records "no
// rollback handler" rather than failing, so the entry still becomes
// rolled_back and cannot be compensated twice.
func (l *Ledger) compensate(ctx context.Context, action *models.StrategyAction, actor models.Actor) (bool, string, error) {
	switch action.ActionType {
	case models.ActionCreateWorkflow:
		workflowID, ok := action.Result["workflow_instance_id"].(string)
		if !ok || workflowID == "" {
			return false, "", models.NewInvalidState("action %s has no workflow_instance_id in its result", action.ID)
		}
		if _, err := l.lifecycle.CancelWorkflow(ctx, workflowID, actor); err != nil {
			return false, "", models.WrapUnexpected(err, "rollback of action %s failed cancelling workflow %s", action.ID, workflowID)
		}
		return true, "workflow " + workflowID + " cancelled", nil

	case models.ActionCreateTask:
		taskID, ok := action.Result["task_instance_id"].(string)
		if !ok || taskID == "" {
			return false, "", models.NewInvalidState("action %s has no task_instance_id in its result", action.ID)
		}
		if err := l.store.Delete(ctx, repository.EntityTaskInstance, taskID); err != nil {
			return false, "", models.WrapUnexpected(err, "rollback of action %s failed deleting task %s", action.ID, taskID)
		}
		return true, "task " + taskID + " deleted", nil

	case models.ActionUpdateClientField:
		// The prior value was not retained at proposal time, so there is
		// nothing to restore. Recorded explicitly instead of no-op'ing.
		return false, "no automatic compensation: prior value not retained, manual intervention required", nil

	default:
		return false, "no rollback handler for action type " + string(action.ActionType), nil
	}
}

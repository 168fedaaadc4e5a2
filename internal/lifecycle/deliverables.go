package lifecycle

import (
	"context"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// CompleteDeliverable marks a deliverable completed. Completed is terminal.
func (e *Engine) CompleteDeliverable(ctx context.Context, deliverableID string, actor models.Actor) (*models.DeliverableInstance, error) {
	deliverable, err := e.loadDeliverable(ctx, deliverableID)
	if err != nil {
		return nil, err
	}
	if deliverable.Status == models.DeliverableCompleted {
		return nil, models.NewInvalidState("deliverable %s is already completed", deliverableID)
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityDeliverableInstance, deliverableID, map[string]any{
		"status":              string(models.DeliverableCompleted),
		"progress_percentage": 100,
		"completed_at":        now,
		"updated_at":          now,
	}); err != nil {
		return nil, err
	}
	deliverable.Status = models.DeliverableCompleted
	deliverable.ProgressPercentage = 100
	deliverable.CompletedAt = &now

	if _, err := e.append(ctx, models.EventDeliverableCompleted, repository.EntityDeliverableInstance, deliverableID, actor, map[string]any{
		"stage_id": deliverable.StageID,
	}); err != nil {
		return nil, err
	}

	return deliverable, nil
}

// BlockDeliverable marks a deliverable blocked. Blocked is reversible.
func (e *Engine) BlockDeliverable(ctx context.Context, deliverableID string, actor models.Actor) (*models.DeliverableInstance, error) {
	deliverable, err := e.loadDeliverable(ctx, deliverableID)
	if err != nil {
		return nil, err
	}
	if deliverable.Status == models.DeliverableCompleted {
		return nil, models.NewInvalidState("deliverable %s is already completed", deliverableID)
	}

	if _, err := e.store.Update(ctx, repository.EntityDeliverableInstance, deliverableID, map[string]any{
		"status":     string(models.DeliverableBlocked),
		"updated_at": e.now(),
	}); err != nil {
		return nil, err
	}
	deliverable.Status = models.DeliverableBlocked

	if _, err := e.append(ctx, models.EventDeliverableBlocked, repository.EntityDeliverableInstance, deliverableID, actor, map[string]any{
		"stage_id": deliverable.StageID,
	}); err != nil {
		return nil, err
	}

	return deliverable, nil
}

// UnblockDeliverable reverses a block, returning the deliverable to
// in_progress.
func (e *Engine) UnblockDeliverable(ctx context.Context, deliverableID string, actor models.Actor) (*models.DeliverableInstance, error) {
	deliverable, err := e.loadDeliverable(ctx, deliverableID)
	if err != nil {
		return nil, err
	}
	if deliverable.Status != models.DeliverableBlocked {
		return nil, models.NewInvalidState("deliverable %s is not blocked", deliverableID)
	}

	if _, err := e.store.Update(ctx, repository.EntityDeliverableInstance, deliverableID, map[string]any{
		"status":     string(models.DeliverableInProgress),
		"updated_at": e.now(),
	}); err != nil {
		return nil, err
	}
	deliverable.Status = models.DeliverableInProgress

	if _, err := e.append(ctx, models.EventDeliverableUnblocked, repository.EntityDeliverableInstance, deliverableID, actor, map[string]any{
		"stage_id": deliverable.StageID,
	}); err != nil {
		return nil, err
	}

	return deliverable, nil
}

package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// CompleteTask marks a task completed and rolls the completed share up
// into its deliverable's progress. Completing an already-completed task is
// rejected; that guard is also the only protection against a concurrent
// duplicate call.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, actor models.Actor) (*models.TaskInstance, error) {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskCompleted {
		return nil, models.NewInvalidState("task %s is already completed", taskID)
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityTaskInstance, taskID, map[string]any{
		"status":         string(models.TaskCompleted),
		"is_blocked":     false,
		"blocker_reason": "",
		"completed_at":   now,
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}
	task.Status = models.TaskCompleted
	task.IsBlocked = false
	task.BlockerReason = ""
	task.CompletedAt = &now

	if err := e.rollUpDeliverableProgress(ctx, task.DeliverableID); err != nil {
		return nil, err
	}

	if _, err := e.append(ctx, models.EventTaskCompleted, repository.EntityTaskInstance, taskID, actor, map[string]any{
		"deliverable_id": task.DeliverableID,
		"title":          task.Title,
	}); err != nil {
		return nil, err
	}

	return task, nil
}

// BlockTask marks a task blocked with a reason and dispatches a notifier
// signal so an automated monitor can react immediately.
func (e *Engine) BlockTask(ctx context.Context, taskID, reason string, actor models.Actor) (*models.TaskInstance, error) {
	if reason == "" {
		return nil, models.NewInvalidInput("blocker reason is required")
	}

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskCompleted {
		return nil, models.NewInvalidState("task %s is already completed", taskID)
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityTaskInstance, taskID, map[string]any{
		"status":         string(models.TaskBlocked),
		"is_blocked":     true,
		"blocker_reason": reason,
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}
	task.Status = models.TaskBlocked
	task.IsBlocked = true
	task.BlockerReason = reason

	event, err := e.append(ctx, models.EventTaskBlocked, repository.EntityTaskInstance, taskID, actor, map[string]any{
		"deliverable_id": task.DeliverableID,
		"reason":         reason,
	})
	if err != nil {
		return nil, err
	}
	e.notifier.Dispatch(event.ID)

	return task, nil
}

// UnblockTask reverses a block, returning the task to in_progress.
func (e *Engine) UnblockTask(ctx context.Context, taskID string, actor models.Actor) (*models.TaskInstance, error) {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskBlocked {
		return nil, models.NewInvalidState("task %s is not blocked", taskID)
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityTaskInstance, taskID, map[string]any{
		"status":         string(models.TaskInProgress),
		"is_blocked":     false,
		"blocker_reason": "",
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}
	task.Status = models.TaskInProgress
	task.IsBlocked = false
	task.BlockerReason = ""

	if _, err := e.append(ctx, models.EventTaskUnblocked, repository.EntityTaskInstance, taskID, actor, map[string]any{
		"deliverable_id": task.DeliverableID,
	}); err != nil {
		return nil, err
	}

	return task, nil
}

// CreateAdHocTask inserts a new task after the deliverable's last
// sequence position. Ad-hoc tasks follow exactly the same lifecycle and
// cancellation rules as template tasks.
func (e *Engine) CreateAdHocTask(ctx context.Context, deliverableID, title, assignedUser string, actor models.Actor) (*models.TaskInstance, error) {
	if title == "" {
		return nil, models.NewInvalidInput("task title is required")
	}
	if _, err := e.loadDeliverable(ctx, deliverableID); err != nil {
		return nil, err
	}

	siblings, err := e.tasksOf(ctx, deliverableID)
	if err != nil {
		return nil, err
	}
	sequence := 1
	for _, sibling := range siblings {
		if sibling.SequenceOrder >= sequence {
			sequence = sibling.SequenceOrder + 1
		}
	}

	now := e.now()
	task := &models.TaskInstance{
		ID:            uuid.New().String(),
		DeliverableID: deliverableID,
		Title:         title,
		Status:        models.TaskNotStarted,
		AssignedUser:  assignedUser,
		IsAdHoc:       true,
		SequenceOrder: sequence,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	fields, err := repository.Encode(task)
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to encode task")
	}
	if _, err := e.store.Create(ctx, repository.EntityTaskInstance, fields); err != nil {
		return nil, err
	}

	if _, err := e.append(ctx, models.EventTaskCreated, repository.EntityTaskInstance, task.ID, actor, map[string]any{
		"deliverable_id": deliverableID,
		"title":          title,
		"ad_hoc":         true,
	}); err != nil {
		return nil, err
	}

	return task, nil
}

// rollUpDeliverableProgress recomputes a deliverable's progress share from
// its tasks' completion states.
func (e *Engine) rollUpDeliverableProgress(ctx context.Context, deliverableID string) error {
	tasks, err := e.tasksOf(ctx, deliverableID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	completed := 0
	for _, task := range tasks {
		if task.Status == models.TaskCompleted {
			completed++
		}
	}
	_, err = e.store.Update(ctx, repository.EntityDeliverableInstance, deliverableID, map[string]any{
		"progress_percentage": completed * 100 / len(tasks),
		"updated_at":          e.now(),
	})
	return err
}

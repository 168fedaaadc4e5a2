package lifecycle

import (
	"context"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// WorkflowCompletion reports a completed workflow and, when its template
// chains to a successor, the instance started for it.
type WorkflowCompletion struct {
	Workflow        *models.WorkflowInstance
	ChainedWorkflow *models.WorkflowInstance
}

// CancelResult reports a cancelled workflow and how many tasks the cascade
// deleted.
type CancelResult struct {
	Workflow     *models.WorkflowInstance
	DeletedTasks int
}

// CompleteWorkflow marks a workflow completed and takes at most one
// template-chaining hop: if the originating template names a successor, a
// new instance is started for the same client. Only one hop per call, so a
// cyclic template graph cannot loop.
func (e *Engine) CompleteWorkflow(ctx context.Context, workflowID string, actor models.Actor) (*WorkflowCompletion, error) {
	workflow, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.Status == models.WorkflowCompleted {
		return nil, models.NewInvalidState("workflow %s is already completed", workflowID)
	}
	if workflow.Status == models.WorkflowCancelled {
		return nil, models.NewInvalidState("workflow %s is cancelled", workflowID)
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityWorkflowInstance, workflowID, map[string]any{
		"status":              string(models.WorkflowCompleted),
		"progress_percentage": 100,
		"completed_at":        now,
		"updated_at":          now,
	}); err != nil {
		return nil, err
	}
	workflow.Status = models.WorkflowCompleted
	workflow.ProgressPercentage = 100
	workflow.CompletedAt = &now

	event, err := e.append(ctx, models.EventWorkflowInstanceCompleted, repository.EntityWorkflowInstance, workflowID, actor, map[string]any{
		"client_id":   workflow.ClientID,
		"template_id": workflow.TemplateID,
	})
	if err != nil {
		return nil, err
	}
	e.notifier.Dispatch(event.ID)

	result := &WorkflowCompletion{Workflow: workflow}

	template, err := e.loadTemplate(ctx, workflow.TemplateID)
	if err != nil {
		// A deleted template only costs the chain, not the completion.
		e.logger.Warn("template lookup failed during chaining", "workflow_id", workflowID, "error", err)
		return result, nil
	}
	if template.NextWorkflowTemplateID == nil || *template.NextWorkflowTemplateID == "" {
		return result, nil
	}

	chained, err := e.starter.Start(ctx, workflow.ClientID, *template.NextWorkflowTemplateID, models.SystemActor)
	if err != nil {
		return nil, models.WrapUnexpected(err, "workflow %s completed but chaining to template %s failed", workflowID, *template.NextWorkflowTemplateID)
	}
	result.ChainedWorkflow = chained
	return result, nil
}

// CancelWorkflow runs the cancellation cascade. Tasks that never produced
// output worth retaining (not_started, in_progress) are deleted outright;
// open stages become skipped and open deliverables become blocked. Step
// ordering: tasks first so the summary event can carry an accurate deleted
// count, then the workflow's terminal status as early as possible to
// shrink the window where a concurrent read sees in_progress with no
// active tasks, then stages, deliverables, and the event. A failure
// partway leaves the applied steps in place; the event trail is how
// operators detect and finish manually.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string, actor models.Actor) (*CancelResult, error) {
	workflow, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.Status != models.WorkflowInProgress {
		return nil, models.NewInvalidState("workflow %s is %s", workflowID, workflow.Status)
	}

	stages, err := e.stagesOf(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	deleted := 0
	var openStages []*models.StageInstance
	var openDeliverables []*models.DeliverableInstance
	for _, stage := range stages {
		if stage.Status != models.StageCompleted {
			openStages = append(openStages, stage)
		}
		deliverables, err := e.deliverablesOf(ctx, stage.ID)
		if err != nil {
			return nil, err
		}
		for _, deliverable := range deliverables {
			if deliverable.Status != models.DeliverableCompleted {
				openDeliverables = append(openDeliverables, deliverable)
			}
			tasks, err := e.tasksOf(ctx, deliverable.ID)
			if err != nil {
				return nil, err
			}
			for _, task := range tasks {
				if task.Status != models.TaskNotStarted && task.Status != models.TaskInProgress {
					continue
				}
				if err := e.store.Delete(ctx, repository.EntityTaskInstance, task.ID); err != nil {
					return nil, models.WrapUnexpected(err, "cancel cascade failed deleting task %s", task.ID)
				}
				deleted++
			}
		}
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityWorkflowInstance, workflowID, map[string]any{
		"status":       string(models.WorkflowCancelled),
		"completed_at": now,
		"updated_at":   now,
	}); err != nil {
		return nil, models.WrapUnexpected(err, "cancel cascade failed updating workflow %s", workflowID)
	}
	workflow.Status = models.WorkflowCancelled
	workflow.CompletedAt = &now

	for _, stage := range openStages {
		if _, err := e.store.Update(ctx, repository.EntityStageInstance, stage.ID, map[string]any{
			"status":     string(models.StageSkipped),
			"updated_at": e.now(),
		}); err != nil {
			return nil, models.WrapUnexpected(err, "cancel cascade failed skipping stage %s", stage.ID)
		}
	}
	for _, deliverable := range openDeliverables {
		if _, err := e.store.Update(ctx, repository.EntityDeliverableInstance, deliverable.ID, map[string]any{
			"status":     string(models.DeliverableBlocked),
			"updated_at": e.now(),
		}); err != nil {
			return nil, models.WrapUnexpected(err, "cancel cascade failed blocking deliverable %s", deliverable.ID)
		}
	}

	if _, err := e.append(ctx, models.EventWorkflowInstanceCancelled, repository.EntityWorkflowInstance, workflowID, actor, map[string]any{
		"workflow_id":   workflowID,
		"client_id":     workflow.ClientID,
		"deleted_tasks": deleted,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("workflow cancelled", "workflow_id", workflowID, "deleted_tasks", deleted)
	return &CancelResult{Workflow: workflow, DeletedTasks: deleted}, nil
}

// DeleteWorkflow is the irreversible operator purge: the workflow, every
// descendant task, deliverable, and stage, and every event referencing the
// workflow. It is cleanup, not a lifecycle transition, so it bypasses
// status guards entirely.
func (e *Engine) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if _, err := e.loadWorkflow(ctx, workflowID); err != nil {
		return err
	}

	stages, err := e.stagesOf(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		deliverables, err := e.deliverablesOf(ctx, stage.ID)
		if err != nil {
			return err
		}
		for _, deliverable := range deliverables {
			tasks, err := e.tasksOf(ctx, deliverable.ID)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				if err := e.store.Delete(ctx, repository.EntityTaskInstance, task.ID); err != nil {
					return models.WrapUnexpected(err, "delete failed for task %s", task.ID)
				}
			}
			if err := e.store.Delete(ctx, repository.EntityDeliverableInstance, deliverable.ID); err != nil {
				return models.WrapUnexpected(err, "delete failed for deliverable %s", deliverable.ID)
			}
		}
		if err := e.store.Delete(ctx, repository.EntityStageInstance, stage.ID); err != nil {
			return models.WrapUnexpected(err, "delete failed for stage %s", stage.ID)
		}
	}

	purged, err := e.events.PurgeWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, repository.EntityWorkflowInstance, workflowID); err != nil {
		return models.WrapUnexpected(err, "delete failed for workflow %s", workflowID)
	}

	e.logger.Info("workflow purged", "workflow_id", workflowID, "events_purged", purged)
	return nil
}

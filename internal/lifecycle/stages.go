package lifecycle

import (
	"context"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// StageCompletion is what CompleteStage hands back to the caller: the
// completed stage, the rolling summary shown to the user, and the workflow
// completion when this was the last open stage.
type StageCompletion struct {
	Stage             *models.StageInstance
	Summary           string
	WorkflowCompleted bool
	Workflow          *models.WorkflowInstance
	ChainedWorkflow   *models.WorkflowInstance
}

// CompleteStage marks a stage completed, generates the rolling summary
// synchronously (callers are shown it), and, when every sibling stage is
// completed, completes the workflow within the same logical operation.
// That one cascade runs synchronously rather than through the event bus so
// a single causal step does not become an indefinite chain of asynchronous
// triggers.
func (e *Engine) CompleteStage(ctx context.Context, stageID string, actor models.Actor) (*StageCompletion, error) {
	stage, err := e.loadStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if stage.Status == models.StageCompleted {
		return nil, models.NewInvalidState("stage %s is already completed", stageID)
	}
	if stage.Status == models.StageSkipped {
		return nil, models.NewInvalidState("stage %s was skipped", stageID)
	}

	now := e.now()
	if _, err := e.store.Update(ctx, repository.EntityStageInstance, stageID, map[string]any{
		"status":              string(models.StageCompleted),
		"progress_percentage": 100,
		"completed_at":        now,
		"updated_at":          now,
	}); err != nil {
		return nil, err
	}
	stage.Status = models.StageCompleted
	stage.ProgressPercentage = 100
	stage.CompletedAt = &now

	// The summary is part of the response, not fire-and-forget. A sidecar
	// failure must not strand the stage in completed-without-response, so
	// it degrades to an empty summary.
	summary, err := e.summaries.Summarize(ctx, stageID)
	if err != nil {
		e.logger.Error("summary generation failed", "stage_id", stageID, "error", err)
		summary = ""
	}

	event, err := e.append(ctx, models.EventStageCompleted, repository.EntityStageInstance, stageID, actor, map[string]any{
		"workflow_id": stage.WorkflowID,
		"name":        stage.Name,
	})
	if err != nil {
		return nil, err
	}
	e.notifier.Dispatch(event.ID)

	result := &StageCompletion{Stage: stage, Summary: summary}

	siblings, err := e.stagesOf(ctx, stage.WorkflowID)
	if err != nil {
		return nil, err
	}
	open := 0
	completed := 0
	for _, sibling := range siblings {
		if sibling.Status == models.StageCompleted {
			completed++
		} else {
			open++
		}
	}

	if open == 0 {
		completion, err := e.CompleteWorkflow(ctx, stage.WorkflowID, actor)
		if err != nil {
			return nil, err
		}
		result.WorkflowCompleted = true
		result.Workflow = completion.Workflow
		result.ChainedWorkflow = completion.ChainedWorkflow
		return result, nil
	}

	// Intermediate progress stays under 100; only completion sets 100.
	if len(siblings) > 0 {
		if _, err := e.store.Update(ctx, repository.EntityWorkflowInstance, stage.WorkflowID, map[string]any{
			"progress_percentage": completed * 100 / len(siblings),
			"updated_at":          e.now(),
		}); err != nil {
			return nil, err
		}
	}
	return result, nil
}

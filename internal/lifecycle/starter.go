package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// StartWorkflow materializes a template for a client: the workflow
// instance starts in_progress, the first stage is opened, the rest of the
// hierarchy is created pending/not_started in template order. This is also
// the default collaborator template chaining delegates to.
func (e *Engine) StartWorkflow(ctx context.Context, clientID, templateID string, actor models.Actor) (*models.WorkflowInstance, error) {
	if clientID == "" || templateID == "" {
		return nil, models.NewInvalidInput("client id and template id are required")
	}
	if _, err := e.store.Get(ctx, repository.EntityClient, clientID); err != nil {
		return nil, err
	}
	template, err := e.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	workflow := &models.WorkflowInstance{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		ClientID:   clientID,
		Name:       template.Name,
		Status:     models.WorkflowInProgress,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.createEntity(ctx, repository.EntityWorkflowInstance, workflow); err != nil {
		return nil, err
	}

	for i, stageDef := range template.Stages {
		status := models.StagePending
		if i == 0 {
			status = models.StageInProgress
		}
		sequence := stageDef.SequenceOrder
		if sequence == 0 {
			sequence = i + 1
		}
		stage := &models.StageInstance{
			ID:            uuid.New().String(),
			WorkflowID:    workflow.ID,
			Name:          stageDef.Name,
			SequenceOrder: sequence,
			Status:        status,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.createEntity(ctx, repository.EntityStageInstance, stage); err != nil {
			return nil, err
		}

		for _, deliverableDef := range stageDef.Deliverables {
			deliverable := &models.DeliverableInstance{
				ID:        uuid.New().String(),
				StageID:   stage.ID,
				Name:      deliverableDef.Name,
				Status:    models.DeliverablePending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.createEntity(ctx, repository.EntityDeliverableInstance, deliverable); err != nil {
				return nil, err
			}

			for j, taskDef := range deliverableDef.Tasks {
				taskSequence := taskDef.SequenceOrder
				if taskSequence == 0 {
					taskSequence = j + 1
				}
				task := &models.TaskInstance{
					ID:            uuid.New().String(),
					DeliverableID: deliverable.ID,
					Title:         taskDef.Title,
					Status:        models.TaskNotStarted,
					SequenceOrder: taskSequence,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := e.createEntity(ctx, repository.EntityTaskInstance, task); err != nil {
					return nil, err
				}
			}
		}
	}

	if _, err := e.append(ctx, models.EventWorkflowInstanceCreated, repository.EntityWorkflowInstance, workflow.ID, actor, map[string]any{
		"client_id":   clientID,
		"template_id": templateID,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("workflow started", "workflow_id", workflow.ID, "template_id", templateID, "client_id", clientID)
	return workflow, nil
}

func (e *Engine) createEntity(ctx context.Context, t repository.EntityType, v any) error {
	fields, err := repository.Encode(v)
	if err != nil {
		return models.WrapUnexpected(err, "failed to encode %s", t)
	}
	if _, err := e.store.Create(ctx, t, fields); err != nil {
		return models.WrapUnexpected(err, "failed to create %s", t)
	}
	return nil
}

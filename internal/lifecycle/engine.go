// Package lifecycle enforces every legal state transition on the workflow
// hierarchy and owns the cascading transition logic.
package lifecycle

import (
	"context"
	"time"

	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/notify"
	"clientflow/backend/internal/repository"
	"clientflow/backend/internal/services"
	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the engine depends on, compatible with
// the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Starter starts a new workflow instance for a client from a template.
// Template chaining delegates to it so tests can substitute a stub.
type Starter interface {
	Start(ctx context.Context, clientID, templateID string, actor models.Actor) (*models.WorkflowInstance, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, clientID, templateID string, actor models.Actor) (*models.WorkflowInstance, error)

// Start calls f.
func (f StarterFunc) Start(ctx context.Context, clientID, templateID string, actor models.Actor) (*models.WorkflowInstance, error) {
	return f(ctx, clientID, templateID, actor)
}

// Engine is the lifecycle state machine. Each operation executes as one
// logical, sequential unit of work against the entity store; consistency
// for cascades relies on explicit status-guard reads before writes, not on
// transactional isolation.
type Engine struct {
	store     repository.Store
	events    *eventlog.Log
	notifier  notify.Notifier
	summaries services.SummaryClient
	starter   Starter
	logger    Logger
	now       func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithStarter overrides the collaborator used for template chaining.
func WithStarter(s Starter) Option {
	return func(e *Engine) { e.starter = s }
}

// WithClock overrides the engine clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a lifecycle engine. By default the engine's own
// StartWorkflow serves as the chaining starter.
func NewEngine(store repository.Store, events *eventlog.Log, notifier notify.Notifier, summaries services.SummaryClient, logger Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		events:    events,
		notifier:  notifier,
		summaries: summaries,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.starter = StarterFunc(e.StartWorkflow)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) loadTask(ctx context.Context, id string) (*models.TaskInstance, error) {
	ent, err := e.store.Get(ctx, repository.EntityTaskInstance, id)
	if err != nil {
		return nil, err
	}
	var task models.TaskInstance
	if err := repository.Decode(ent, &task); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode task %s", id)
	}
	return &task, nil
}

func (e *Engine) loadDeliverable(ctx context.Context, id string) (*models.DeliverableInstance, error) {
	ent, err := e.store.Get(ctx, repository.EntityDeliverableInstance, id)
	if err != nil {
		return nil, err
	}
	var deliverable models.DeliverableInstance
	if err := repository.Decode(ent, &deliverable); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode deliverable %s", id)
	}
	return &deliverable, nil
}

func (e *Engine) loadStage(ctx context.Context, id string) (*models.StageInstance, error) {
	ent, err := e.store.Get(ctx, repository.EntityStageInstance, id)
	if err != nil {
		return nil, err
	}
	var stage models.StageInstance
	if err := repository.Decode(ent, &stage); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode stage %s", id)
	}
	return &stage, nil
}

func (e *Engine) loadWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	ent, err := e.store.Get(ctx, repository.EntityWorkflowInstance, id)
	if err != nil {
		return nil, err
	}
	var workflow models.WorkflowInstance
	if err := repository.Decode(ent, &workflow); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode workflow %s", id)
	}
	return &workflow, nil
}

func (e *Engine) loadTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	ent, err := e.store.Get(ctx, repository.EntityWorkflowTemplate, id)
	if err != nil {
		return nil, err
	}
	var template models.WorkflowTemplate
	if err := repository.Decode(ent, &template); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode template %s", id)
	}
	return &template, nil
}

func (e *Engine) stagesOf(ctx context.Context, workflowID string) ([]*models.StageInstance, error) {
	entities, err := e.store.Filter(ctx, repository.EntityStageInstance,
		map[string]any{"workflow_id": workflowID},
		repository.WithSort("sequence_order", false))
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to list stages of workflow %s", workflowID)
	}
	stages := make([]*models.StageInstance, 0, len(entities))
	for _, ent := range entities {
		var stage models.StageInstance
		if err := repository.Decode(ent, &stage); err != nil {
			return nil, models.WrapUnexpected(err, "failed to decode stage %s", ent.ID)
		}
		stages = append(stages, &stage)
	}
	return stages, nil
}

func (e *Engine) deliverablesOf(ctx context.Context, stageID string) ([]*models.DeliverableInstance, error) {
	entities, err := e.store.Filter(ctx, repository.EntityDeliverableInstance,
		map[string]any{"stage_id": stageID})
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to list deliverables of stage %s", stageID)
	}
	deliverables := make([]*models.DeliverableInstance, 0, len(entities))
	for _, ent := range entities {
		var deliverable models.DeliverableInstance
		if err := repository.Decode(ent, &deliverable); err != nil {
			return nil, models.WrapUnexpected(err, "failed to decode deliverable %s", ent.ID)
		}
		deliverables = append(deliverables, &deliverable)
	}
	return deliverables, nil
}

func (e *Engine) tasksOf(ctx context.Context, deliverableID string) ([]*models.TaskInstance, error) {
	entities, err := e.store.Filter(ctx, repository.EntityTaskInstance,
		map[string]any{"deliverable_id": deliverableID},
		repository.WithSort("sequence_order", false))
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to list tasks of deliverable %s", deliverableID)
	}
	tasks := make([]*models.TaskInstance, 0, len(entities))
	for _, ent := range entities {
		var task models.TaskInstance
		if err := repository.Decode(ent, &task); err != nil {
			return nil, models.WrapUnexpected(err, "failed to decode task %s", ent.ID)
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// append records an event for an operation performed by actor.
func (e *Engine) append(ctx context.Context, eventType models.EventType, sourceType repository.EntityType, sourceID string, actor models.Actor, payload map[string]any) (*models.Event, error) {
	event := &models.Event{
		Type:             eventType,
		SourceEntityType: string(sourceType),
		SourceEntityID:   sourceID,
		ActorType:        actor.Type,
		Payload:          payload,
	}
	if actor.ID != "" {
		id := actor.ID
		event.ActorID = &id
	}
	return e.events.Append(ctx, event)
}

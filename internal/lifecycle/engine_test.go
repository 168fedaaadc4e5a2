package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/logging"
	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// recorderNotifier captures dispatches synchronously for assertions.
type recorderNotifier struct {
	ids []string
}

func (r *recorderNotifier) Dispatch(eventID string) {
	r.ids = append(r.ids, eventID)
}

type stubSummaries struct {
	summary string
	err     error
}

func (s *stubSummaries) Summarize(ctx context.Context, stageID string) (string, error) {
	return s.summary, s.err
}

type fixture struct {
	store     *repository.MemoryStore
	events    *eventlog.Log
	notifier  *recorderNotifier
	summaries *stubSummaries
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := logging.NewNop()
	events := eventlog.New(store, logger)
	notifier := &recorderNotifier{}
	summaries := &stubSummaries{summary: "stage wrapped up"}
	engine := NewEngine(store, events, notifier, summaries, logger)
	return &fixture{store: store, events: events, notifier: notifier, summaries: summaries, engine: engine}
}

func (f *fixture) seed(t *testing.T, entityType repository.EntityType, model any) {
	t.Helper()
	fields, err := repository.Encode(model)
	require.NoError(t, err)
	_, err = f.store.Create(context.Background(), entityType, fields)
	require.NoError(t, err)
}

// seedOnboarding installs a client and a two-stage template, each stage
// holding one deliverable with two tasks.
func (f *fixture) seedOnboarding(t *testing.T) {
	t.Helper()
	f.seed(t, repository.EntityClient, &models.Client{ID: "client-1", Name: "Acme"})
	f.seed(t, repository.EntityWorkflowTemplate, &models.WorkflowTemplate{
		ID:   "tmpl-onboarding",
		Name: "Client Onboarding",
		Stages: []models.TemplateStage{
			{
				Name: "Kickoff", SequenceOrder: 1,
				Deliverables: []models.TemplateDeliverable{
					{Name: "Signed Agreement", Tasks: []models.TemplateTask{
						{Title: "Send contract", SequenceOrder: 1},
						{Title: "Collect signature", SequenceOrder: 2},
					}},
				},
			},
			{
				Name: "Setup", SequenceOrder: 2,
				Deliverables: []models.TemplateDeliverable{
					{Name: "Account Provisioning", Tasks: []models.TemplateTask{
						{Title: "Create accounts", SequenceOrder: 1},
						{Title: "Verify access", SequenceOrder: 2},
					}},
				},
			},
		},
	})
}

func (f *fixture) start(t *testing.T) *models.WorkflowInstance {
	t.Helper()
	workflow, err := f.engine.StartWorkflow(context.Background(), "client-1", "tmpl-onboarding",
		models.Actor{Type: models.ActorUser, ID: "pm@acme.test"})
	require.NoError(t, err)
	return workflow
}

func (f *fixture) stages(t *testing.T, workflowID string) []*models.StageInstance {
	t.Helper()
	stages, err := f.engine.stagesOf(context.Background(), workflowID)
	require.NoError(t, err)
	return stages
}

func (f *fixture) deliverables(t *testing.T, stageID string) []*models.DeliverableInstance {
	t.Helper()
	deliverables, err := f.engine.deliverablesOf(context.Background(), stageID)
	require.NoError(t, err)
	return deliverables
}

func (f *fixture) tasks(t *testing.T, deliverableID string) []*models.TaskInstance {
	t.Helper()
	tasks, err := f.engine.tasksOf(context.Background(), deliverableID)
	require.NoError(t, err)
	return tasks
}

func (f *fixture) eventsOfType(t *testing.T, eventType models.EventType) []*models.Event {
	t.Helper()
	events, err := f.events.ByType(context.Background(), eventType)
	require.NoError(t, err)
	return events
}

func TestStartWorkflowMaterializesTemplate(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)

	workflow := f.start(t)
	assert.Equal(t, models.WorkflowInProgress, workflow.Status)
	assert.Equal(t, "Client Onboarding", workflow.Name)

	stages := f.stages(t, workflow.ID)
	require.Len(t, stages, 2)
	assert.Equal(t, models.StageInProgress, stages[0].Status)
	assert.Equal(t, models.StagePending, stages[1].Status)

	deliverables := f.deliverables(t, stages[0].ID)
	require.Len(t, deliverables, 1)
	assert.Equal(t, models.DeliverablePending, deliverables[0].Status)

	tasks := f.tasks(t, deliverables[0].ID)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, models.TaskNotStarted, task.Status)
		assert.False(t, task.IsAdHoc)
	}

	created := f.eventsOfType(t, models.EventWorkflowInstanceCreated)
	require.Len(t, created, 1)
	assert.Equal(t, workflow.ID, created[0].SourceEntityID)
	assert.Equal(t, models.ActorUser, created[0].ActorType)
}

func TestStartWorkflowValidation(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	_, err := f.engine.StartWorkflow(ctx, "", "tmpl-onboarding", actor)
	assert.True(t, models.IsInvalidInput(err))

	_, err = f.engine.StartWorkflow(ctx, "client-missing", "tmpl-onboarding", actor)
	assert.True(t, models.IsNotFound(err))

	_, err = f.engine.StartWorkflow(ctx, "client-1", "tmpl-missing", actor)
	assert.True(t, models.IsNotFound(err))
}

func TestCompleteTaskRollsUpProgress(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]
	deliverable := f.deliverables(t, stage.ID)[0]
	tasks := f.tasks(t, deliverable.ID)

	completed, err := f.engine.CompleteTask(ctx, tasks[0].ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	// One of two tasks done.
	assert.Equal(t, 50, f.deliverables(t, stage.ID)[0].ProgressPercentage)

	_, err = f.engine.CompleteTask(ctx, tasks[1].ID, actor)
	require.NoError(t, err)
	assert.Equal(t, 100, f.deliverables(t, stage.ID)[0].ProgressPercentage)

	_, err = f.engine.CompleteTask(ctx, tasks[0].ID, actor)
	assert.True(t, models.IsInvalidState(err))

	assert.Len(t, f.eventsOfType(t, models.EventTaskCompleted), 2)
}

func TestBlockTaskInvariantAndNotification(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]
	deliverable := f.deliverables(t, stage.ID)[0]
	task := f.tasks(t, deliverable.ID)[0]

	_, err := f.engine.BlockTask(ctx, task.ID, "", actor)
	assert.True(t, models.IsInvalidInput(err))

	blocked, err := f.engine.BlockTask(ctx, task.ID, "waiting on client signature", actor)
	require.NoError(t, err)
	assert.Equal(t, models.TaskBlocked, blocked.Status)
	assert.True(t, blocked.IsBlocked)
	assert.Equal(t, "waiting on client signature", blocked.BlockerReason)

	blockedEvents := f.eventsOfType(t, models.EventTaskBlocked)
	require.Len(t, blockedEvents, 1)
	require.Len(t, f.notifier.ids, 1)
	assert.Equal(t, blockedEvents[0].ID, f.notifier.ids[0])

	// Completing clears the blocked invariant.
	completed, err := f.engine.CompleteTask(ctx, task.ID, actor)
	require.NoError(t, err)
	assert.False(t, completed.IsBlocked)
	assert.Empty(t, completed.BlockerReason)

	_, err = f.engine.BlockTask(ctx, task.ID, "too late", actor)
	assert.True(t, models.IsInvalidState(err))
}

func TestUnblockTask(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]
	deliverable := f.deliverables(t, stage.ID)[0]
	task := f.tasks(t, deliverable.ID)[0]

	_, err := f.engine.UnblockTask(ctx, task.ID, actor)
	assert.True(t, models.IsInvalidState(err))

	_, err = f.engine.BlockTask(ctx, task.ID, "waiting", actor)
	require.NoError(t, err)

	unblocked, err := f.engine.UnblockTask(ctx, task.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, unblocked.Status)
	assert.False(t, unblocked.IsBlocked)
	assert.Empty(t, unblocked.BlockerReason)

	assert.Len(t, f.eventsOfType(t, models.EventTaskUnblocked), 1)
}

func TestCreateAdHocTask(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorAI, ID: "strategy-agent"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]
	deliverable := f.deliverables(t, stage.ID)[0]

	_, err := f.engine.CreateAdHocTask(ctx, deliverable.ID, "", "", actor)
	assert.True(t, models.IsInvalidInput(err))

	_, err = f.engine.CreateAdHocTask(ctx, "missing", "Chase signature", "", actor)
	assert.True(t, models.IsNotFound(err))

	task, err := f.engine.CreateAdHocTask(ctx, deliverable.ID, "Chase signature", "ops@acme.test", actor)
	require.NoError(t, err)
	assert.True(t, task.IsAdHoc)
	assert.Equal(t, models.TaskNotStarted, task.Status)
	// Template tasks occupy 1 and 2; the ad-hoc task lands after them.
	assert.Equal(t, 3, task.SequenceOrder)

	created := f.eventsOfType(t, models.EventTaskCreated)
	require.Len(t, created, 1)
	assert.Equal(t, models.ActorAI, created[0].ActorType)
}

func TestDeliverableTransitions(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]
	deliverable := f.deliverables(t, stage.ID)[0]

	blocked, err := f.engine.BlockDeliverable(ctx, deliverable.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableBlocked, blocked.Status)

	unblocked, err := f.engine.UnblockDeliverable(ctx, deliverable.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableInProgress, unblocked.Status)

	_, err = f.engine.UnblockDeliverable(ctx, deliverable.ID, actor)
	assert.True(t, models.IsInvalidState(err))

	completed, err := f.engine.CompleteDeliverable(ctx, deliverable.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableCompleted, completed.Status)
	assert.Equal(t, 100, completed.ProgressPercentage)

	// Completed is terminal for deliverables.
	_, err = f.engine.BlockDeliverable(ctx, deliverable.ID, actor)
	assert.True(t, models.IsInvalidState(err))
	_, err = f.engine.CompleteDeliverable(ctx, deliverable.ID, actor)
	assert.True(t, models.IsInvalidState(err))

	assert.Len(t, f.eventsOfType(t, models.EventDeliverableBlocked), 1)
	assert.Len(t, f.eventsOfType(t, models.EventDeliverableUnblocked), 1)
	assert.Len(t, f.eventsOfType(t, models.EventDeliverableCompleted), 1)
}

func TestCompleteStageIntermediate(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]

	completion, err := f.engine.CompleteStage(ctx, stage.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, completion.Stage.Status)
	assert.Equal(t, 100, completion.Stage.ProgressPercentage)
	assert.Equal(t, "stage wrapped up", completion.Summary)
	assert.False(t, completion.WorkflowCompleted)

	// One of two stages done: workflow progress advances but stays under 100.
	current, err := f.engine.loadWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowInProgress, current.Status)
	assert.Equal(t, 50, current.ProgressPercentage)

	stageEvents := f.eventsOfType(t, models.EventStageCompleted)
	require.Len(t, stageEvents, 1)
	assert.Contains(t, f.notifier.ids, stageEvents[0].ID)

	_, err = f.engine.CompleteStage(ctx, stage.ID, actor)
	assert.True(t, models.IsInvalidState(err))
}

func TestCompleteLastStageCompletesWorkflow(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stages := f.stages(t, workflow.ID)

	_, err := f.engine.CompleteStage(ctx, stages[0].ID, actor)
	require.NoError(t, err)

	completion, err := f.engine.CompleteStage(ctx, stages[1].ID, actor)
	require.NoError(t, err)
	assert.True(t, completion.WorkflowCompleted)
	require.NotNil(t, completion.Workflow)
	assert.Equal(t, models.WorkflowCompleted, completion.Workflow.Status)
	assert.Equal(t, 100, completion.Workflow.ProgressPercentage)
	assert.Nil(t, completion.ChainedWorkflow)

	// Exactly one workflow completion event for the whole cascade.
	assert.Len(t, f.eventsOfType(t, models.EventWorkflowInstanceCompleted), 1)
}

func TestCompleteStageSummaryFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	f.summaries.err = errors.New("sidecar unavailable")
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]

	completion, err := f.engine.CompleteStage(ctx, stage.ID, actor)
	require.NoError(t, err)
	assert.Empty(t, completion.Summary)
	assert.Equal(t, models.StageCompleted, completion.Stage.Status)
}

func TestCompleteWorkflowChainsOneHop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, repository.EntityClient, &models.Client{ID: "client-1", Name: "Acme"})

	// A chains to B and B chains back to A; one completion must take
	// exactly one hop, not loop.
	next := "tmpl-b"
	back := "tmpl-a"
	f.seed(t, repository.EntityWorkflowTemplate, &models.WorkflowTemplate{
		ID: "tmpl-a", Name: "Phase A", NextWorkflowTemplateID: &next,
		Stages: []models.TemplateStage{{Name: "Only", SequenceOrder: 1}},
	})
	f.seed(t, repository.EntityWorkflowTemplate, &models.WorkflowTemplate{
		ID: "tmpl-b", Name: "Phase B", NextWorkflowTemplateID: &back,
		Stages: []models.TemplateStage{{Name: "Only", SequenceOrder: 1}},
	})

	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}
	workflow, err := f.engine.StartWorkflow(ctx, "client-1", "tmpl-a", actor)
	require.NoError(t, err)

	completion, err := f.engine.CompleteWorkflow(ctx, workflow.ID, actor)
	require.NoError(t, err)
	require.NotNil(t, completion.ChainedWorkflow)
	assert.Equal(t, "tmpl-b", completion.ChainedWorkflow.TemplateID)
	assert.Equal(t, models.WorkflowInProgress, completion.ChainedWorkflow.Status)

	instances, err := f.store.Filter(ctx, repository.EntityWorkflowInstance, map[string]any{})
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// The chained start is attributed to the system, not the caller.
	created := f.eventsOfType(t, models.EventWorkflowInstanceCreated)
	require.Len(t, created, 2)
	assert.Equal(t, models.ActorSystem, created[1].ActorType)

	_, err = f.engine.CompleteWorkflow(ctx, workflow.ID, actor)
	assert.True(t, models.IsInvalidState(err))
}

func TestCancelWorkflowCascade(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stages := f.stages(t, workflow.ID)
	firstDeliverable := f.deliverables(t, stages[0].ID)[0]
	firstTasks := f.tasks(t, firstDeliverable.ID)

	// One task completed, one blocked; both survive cancellation. The two
	// tasks of the second stage are not_started and get deleted.
	_, err := f.engine.CompleteTask(ctx, firstTasks[0].ID, actor)
	require.NoError(t, err)
	_, err = f.engine.BlockTask(ctx, firstTasks[1].ID, "waiting", actor)
	require.NoError(t, err)

	result, err := f.engine.CancelWorkflow(ctx, workflow.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCancelled, result.Workflow.Status)
	assert.NotNil(t, result.Workflow.CompletedAt)
	assert.Equal(t, 2, result.DeletedTasks)

	remaining, err := f.store.Filter(ctx, repository.EntityTaskInstance, map[string]any{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	for _, stage := range f.stages(t, workflow.ID) {
		assert.Equal(t, models.StageSkipped, stage.Status)
	}
	for _, stage := range stages {
		for _, deliverable := range f.deliverables(t, stage.ID) {
			assert.Equal(t, models.DeliverableBlocked, deliverable.Status)
		}
	}

	cancelled := f.eventsOfType(t, models.EventWorkflowInstanceCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, workflow.ID, cancelled[0].Payload["workflow_id"])
	assert.EqualValues(t, 2, cancelled[0].Payload["deleted_tasks"])

	_, err = f.engine.CancelWorkflow(ctx, workflow.ID, actor)
	assert.True(t, models.IsInvalidState(err))
}

func TestCancelCompletedWorkflowRejected(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	_, err := f.engine.CompleteWorkflow(ctx, workflow.ID, actor)
	require.NoError(t, err)

	_, err = f.engine.CancelWorkflow(ctx, workflow.ID, actor)
	assert.True(t, models.IsInvalidState(err))
}

func TestDeleteWorkflowPurgesEverything(t *testing.T) {
	f := newFixture(t)
	f.seedOnboarding(t)
	ctx := context.Background()
	actor := models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

	workflow := f.start(t)
	stage := f.stages(t, workflow.ID)[0]
	deliverable := f.deliverables(t, stage.ID)[0]
	task := f.tasks(t, deliverable.ID)[0]
	_, err := f.engine.BlockTask(ctx, task.ID, "waiting", actor)
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteWorkflow(ctx, workflow.ID))

	for _, entityType := range []repository.EntityType{
		repository.EntityWorkflowInstance,
		repository.EntityStageInstance,
		repository.EntityDeliverableInstance,
		repository.EntityTaskInstance,
	} {
		remaining, err := f.store.Filter(ctx, entityType, map[string]any{})
		require.NoError(t, err)
		assert.Empty(t, remaining, string(entityType))
	}

	// The creation event was recorded against the workflow and is purged;
	// the block event references no workflow id and survives.
	assert.Empty(t, f.eventsOfType(t, models.EventWorkflowInstanceCreated))

	err = f.engine.DeleteWorkflow(ctx, workflow.ID)
	assert.True(t, models.IsNotFound(err))
}

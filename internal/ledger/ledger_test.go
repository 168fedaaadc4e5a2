package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/lifecycle"
	"clientflow/backend/internal/logging"
	"clientflow/backend/internal/notify"
	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

type stubSummaries struct{}

func (stubSummaries) Summarize(ctx context.Context, stageID string) (string, error) {
	return "", nil
}

type ledgerFixture struct {
	store  *repository.MemoryStore
	events *eventlog.Log
	engine *lifecycle.Engine
	ledger *Ledger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := logging.NewNop()
	events := eventlog.New(store, logger)
	engine := lifecycle.NewEngine(store, events, notify.Nop{}, stubSummaries{}, logger)
	return &ledgerFixture{
		store:  store,
		events: events,
		engine: engine,
		ledger: New(store, events, engine, logger),
	}
}

func (f *ledgerFixture) seed(t *testing.T, entityType repository.EntityType, model any) {
	t.Helper()
	fields, err := repository.Encode(model)
	require.NoError(t, err)
	_, err = f.store.Create(context.Background(), entityType, fields)
	require.NoError(t, err)
}

var reviewer = models.Actor{Type: models.ActorUser, ID: "pm@acme.test"}

func TestRecordExecutedValidation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.ledger.RecordExecuted(ctx, "", models.ActionCreateTask, map[string]any{})
	assert.True(t, models.IsInvalidInput(err))

	_, err = f.ledger.RecordExecuted(ctx, "agent-1", "", map[string]any{})
	assert.True(t, models.IsInvalidInput(err))

	_, err = f.ledger.RecordExecuted(ctx, "agent-1", models.ActionCreateTask, nil)
	assert.True(t, models.IsInvalidInput(err))

	action, err := f.ledger.RecordExecuted(ctx, "agent-1", models.ActionCreateTask,
		map[string]any{"task_instance_id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionExecuted, action.Status)

	got, err := f.ledger.Get(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, action.ID, got.ID)
}

func TestRollbackCreateWorkflow(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.seed(t, repository.EntityClient, &models.Client{ID: "client-1", Name: "Acme"})
	f.seed(t, repository.EntityWorkflowTemplate, &models.WorkflowTemplate{
		ID: "tmpl-1", Name: "Onboarding",
		Stages: []models.TemplateStage{{Name: "Kickoff", SequenceOrder: 1}},
	})

	workflow, err := f.engine.StartWorkflow(ctx, "client-1", "tmpl-1",
		models.Actor{Type: models.ActorAI, ID: "agent-1"})
	require.NoError(t, err)

	action, err := f.ledger.RecordExecuted(ctx, "agent-1", models.ActionCreateWorkflow,
		map[string]any{"workflow_instance_id": workflow.ID})
	require.NoError(t, err)

	result, err := f.ledger.Rollback(ctx, action.ID, "client churned", reviewer)
	require.NoError(t, err)
	assert.True(t, result.Compensated)
	assert.Equal(t, models.ActionRolledBack, result.Action.Status)
	assert.Equal(t, "client churned", result.Action.Result["rollback_reason"])

	// The compensating operation is the cancellation cascade.
	ent, err := f.store.Get(ctx, repository.EntityWorkflowInstance, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.WorkflowCancelled), ent.Fields["status"])

	rollbackEvents, err := f.events.ByType(ctx, models.EventStrategyActionExecuted)
	require.NoError(t, err)
	require.Len(t, rollbackEvents, 1)
	assert.Equal(t, true, rollbackEvents[0].Payload["rollback"])
}

func TestRollbackCreateTask(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.seed(t, repository.EntityTaskInstance, &models.TaskInstance{
		ID: "task-1", DeliverableID: "d1", Title: "Chase signature", Status: models.TaskNotStarted,
	})

	action, err := f.ledger.RecordExecuted(ctx, "agent-1", models.ActionCreateTask,
		map[string]any{"task_instance_id": "task-1"})
	require.NoError(t, err)

	result, err := f.ledger.Rollback(ctx, action.ID, "duplicate", reviewer)
	require.NoError(t, err)
	assert.True(t, result.Compensated)

	_, err = f.store.Get(ctx, repository.EntityTaskInstance, "task-1")
	assert.True(t, models.IsNotFound(err))
}

func TestRollbackOnlyOnce(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.seed(t, repository.EntityTaskInstance, &models.TaskInstance{
		ID: "task-1", DeliverableID: "d1", Title: "Chase signature", Status: models.TaskNotStarted,
	})
	action, err := f.ledger.RecordExecuted(ctx, "agent-1", models.ActionCreateTask,
		map[string]any{"task_instance_id": "task-1"})
	require.NoError(t, err)

	_, err = f.ledger.Rollback(ctx, action.ID, "duplicate", reviewer)
	require.NoError(t, err)

	// The second attempt is rejected before any compensating operation runs.
	_, err = f.ledger.Rollback(ctx, action.ID, "again", reviewer)
	assert.True(t, models.IsInvalidState(err))
}

func TestRollbackFailureLeavesActionExecuted(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// The snapshot references a workflow that no longer exists, so the
	// compensating cancellation fails and the entry must stay executed.
	action, err := f.ledger.RecordExecuted(ctx, "agent-1", models.ActionCreateWorkflow,
		map[string]any{"workflow_instance_id": "gone"})
	require.NoError(t, err)

	_, err = f.ledger.Rollback(ctx, action.ID, "cleanup", reviewer)
	require.Error(t, err)

	current, err := f.ledger.Get(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionExecuted, current.Status)
}

func TestRollbackWithoutCompensation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	t.Run("update_client_field has nothing to restore", func(t *testing.T) {
		action, err := f.ledger.RecordExecuted(ctx, "agent-1", models.ActionUpdateClientField,
			map[string]any{"client_id": "client-1", "field": "tier", "new_value": "gold"})
		require.NoError(t, err)

		result, err := f.ledger.Rollback(ctx, action.ID, "wrong tier", reviewer)
		require.NoError(t, err)
		assert.False(t, result.Compensated)
		assert.Contains(t, result.Outcome, "manual intervention required")
		assert.Equal(t, models.ActionRolledBack, result.Action.Status)
	})

	t.Run("unknown action type still transitions", func(t *testing.T) {
		action, err := f.ledger.RecordExecuted(ctx, "agent-1", "send_invoice",
			map[string]any{"invoice_id": "i1"})
		require.NoError(t, err)

		result, err := f.ledger.Rollback(ctx, action.ID, "misfire", reviewer)
		require.NoError(t, err)
		assert.False(t, result.Compensated)
		assert.Contains(t, result.Outcome, "no rollback handler")
	})
}

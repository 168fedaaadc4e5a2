// Seed populates a development database with a demo client, a chained
// pair of workflow templates, and an enabled AI agent, then starts one
// workflow instance so the API has something to operate on.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"clientflow/backend/internal/config"
	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/lifecycle"
	"clientflow/backend/internal/logging"
	"clientflow/backend/internal/notify"
	"clientflow/backend/internal/repository"
	"clientflow/backend/internal/services"
	"clientflow/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// 1. Ensure the demo client exists
	clientID, err := ensureEntity(ctx, store, repository.EntityClient,
		map[string]any{"email": "demo@acme.test"},
		&models.Client{Name: "Acme Industries", Email: "demo@acme.test"})
	if err != nil {
		log.Fatalf("Failed to seed client: %v", err)
	}
	logger.Info("Client ready", "id", clientID)

	// 2. Chained template pair: onboarding hands off to delivery.
	deliveryID, err := ensureEntity(ctx, store, repository.EntityWorkflowTemplate,
		map[string]any{"name": "Client Delivery"},
		&models.WorkflowTemplate{
			Name:        "Client Delivery",
			Description: "Recurring delivery cycle once onboarding is done.",
			Stages: []models.TemplateStage{
				{
					Name:          "Execution",
					SequenceOrder: 1,
					Deliverables: []models.TemplateDeliverable{
						{
							Name: "Monthly Report",
							Tasks: []models.TemplateTask{
								{Title: "Collect metrics", SequenceOrder: 1},
								{Title: "Draft report", SequenceOrder: 2},
								{Title: "Client review call", SequenceOrder: 3},
							},
						},
					},
				},
			},
		})
	if err != nil {
		log.Fatalf("Failed to seed delivery template: %v", err)
	}

	onboardingID, err := ensureEntity(ctx, store, repository.EntityWorkflowTemplate,
		map[string]any{"name": "Client Onboarding"},
		&models.WorkflowTemplate{
			Name:                   "Client Onboarding",
			Description:            "Standard onboarding for new clients.",
			NextWorkflowTemplateID: &deliveryID,
			Stages: []models.TemplateStage{
				{
					Name:          "Kickoff",
					SequenceOrder: 1,
					Deliverables: []models.TemplateDeliverable{
						{
							Name: "Signed Agreement",
							Tasks: []models.TemplateTask{
								{Title: "Send contract", SequenceOrder: 1},
								{Title: "Collect signature", SequenceOrder: 2},
							},
						},
					},
				},
				{
					Name:          "Setup",
					SequenceOrder: 2,
					Deliverables: []models.TemplateDeliverable{
						{
							Name: "Account Provisioning",
							Tasks: []models.TemplateTask{
								{Title: "Create accounts", SequenceOrder: 1},
								{Title: "Verify access", SequenceOrder: 2},
							},
						},
					},
				},
			},
		})
	if err != nil {
		log.Fatalf("Failed to seed onboarding template: %v", err)
	}
	logger.Info("Templates ready", "onboarding", onboardingID, "delivery", deliveryID)

	// 3. Enabled agent with read on workflows and write on tasks.
	agentID := "strategy-agent"
	if _, err := ensureEntity(ctx, store, repository.EntityAgentConfig,
		map[string]any{"agent_id": agentID},
		&models.AIAgentConfig{
			AgentID:   agentID,
			Name:      "Strategy Agent",
			IsEnabled: true,
		}); err != nil {
		log.Fatalf("Failed to seed agent config: %v", err)
	}

	scopes := []models.AIPermissionScope{
		{AgentID: agentID, ObjectType: "workflow_instance", Permission: models.PermissionRead},
		{AgentID: agentID, ObjectType: "task_instance", Permission: models.PermissionWrite},
	}
	for _, scope := range scopes {
		if _, err := ensureEntity(ctx, store, repository.EntityPermissionScope,
			map[string]any{"agent_id": agentID, "object_type": scope.ObjectType},
			&scope); err != nil {
			log.Fatalf("Failed to seed permission scope: %v", err)
		}
	}
	logger.Info("Agent ready", "agent_id", agentID)

	// 4. Start one onboarding instance unless one is already running.
	existing, err := store.Filter(ctx, repository.EntityWorkflowInstance,
		map[string]any{"client_id": clientID, "template_id": onboardingID})
	if err != nil {
		log.Fatalf("Failed to list workflow instances: %v", err)
	}
	if len(existing) > 0 {
		logger.Info("Skipping instance creation, one already exists", "id", existing[0].ID)
		logger.Info("Seeding complete!")
		return
	}

	events := eventlog.New(store, logger)
	engine := lifecycle.NewEngine(store, events, notify.Nop{}, services.NewHTTPSummaryClient(""), logger)

	workflow, err := engine.StartWorkflow(ctx, clientID, onboardingID,
		models.Actor{Type: models.ActorUser, ID: "seed@localhost"})
	if err != nil {
		log.Fatalf("Failed to start workflow: %v", err)
	}
	logger.Info("Seeded workflow instance", "id", workflow.ID, "name", workflow.Name)
	logger.Info("Seeding complete!")
}

// ensureEntity creates the entity unless one already matches the predicate.
// Returns the entity id either way.
func ensureEntity(ctx context.Context, store repository.Store, entityType repository.EntityType, predicate map[string]any, model any) (string, error) {
	existing, err := store.Filter(ctx, entityType, predicate)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	fields, err := repository.Encode(model)
	if err != nil {
		return "", err
	}
	created, err := store.Create(ctx, entityType, fields)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

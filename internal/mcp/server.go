// Package mcp exposes the governed operations to AI agents as MCP tools.
// Every tool call passes through the authorization engine first and is
// recorded in the AI audit log. Entity-creating tools also record a
// ledger entry so the action can be rolled back later.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"clientflow/backend/internal/authz"
	"clientflow/backend/internal/ledger"
	"clientflow/backend/internal/lifecycle"
	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the MCP layer depends on.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server wires the MCP tool surface to the engines.
type Server struct {
	mcpServer *server.MCPServer
	authz     *authz.Engine
	lifecycle *lifecycle.Engine
	ledger    *ledger.Ledger
	logger    Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(az *authz.Engine, lc *lifecycle.Engine, ld *ledger.Ledger, logger Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Clientflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		authz:     az,
		lifecycle: lc,
		ledger:    ld,
		logger:    logger,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for mounting.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	agentArg := mcp.WithString("agent_id", mcp.Required(), mcp.Description("The calling agent's identifier"))

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_task",
			mcp.WithDescription("Mark a task completed"),
			agentArg,
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The task to complete")),
		),
		s.handleCompleteTask,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"block_task",
			mcp.WithDescription("Mark a task blocked with a reason"),
			agentArg,
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The task to block")),
			mcp.WithString("reason", mcp.Required(), mcp.Description("Why the task is blocked")),
		),
		s.handleBlockTask,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_stage",
			mcp.WithDescription("Complete a stage and receive its rolling summary"),
			agentArg,
			mcp.WithString("stage_id", mcp.Required(), mcp.Description("The stage to complete")),
		),
		s.handleCompleteStage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_workflow",
			mcp.WithDescription("Cancel a workflow instance, cascading to its stages, deliverables, and tasks"),
			agentArg,
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow instance to cancel")),
		),
		s.handleCancelWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow",
			mcp.WithDescription("Start a new workflow instance for a client from a template"),
			agentArg,
			mcp.WithString("client_id", mcp.Required(), mcp.Description("The client the workflow runs for")),
			mcp.WithString("template_id", mcp.Required(), mcp.Description("The workflow template to instantiate")),
		),
		s.handleCreateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_task",
			mcp.WithDescription("Add an ad-hoc task to a deliverable"),
			agentArg,
			mcp.WithString("deliverable_id", mcp.Required(), mcp.Description("The deliverable the task belongs to")),
			mcp.WithString("title", mcp.Required(), mcp.Description("The task title")),
		),
		s.handleCreateTask,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"rollback_action",
			mcp.WithDescription("Compensate a previously executed automated action"),
			agentArg,
			mcp.WithString("action_id", mcp.Required(), mcp.Description("The ledger entry to roll back")),
			mcp.WithString("reason", mcp.Required(), mcp.Description("Why the action is being rolled back")),
		),
		s.handleRollbackAction,
	)
}

// invocation carries everything one governed tool call needs.
type invocation struct {
	agentID string
	args    map[string]any
	started time.Time
}

func (s *Server) begin(request mcp.CallToolRequest) (*invocation, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, mcp.NewToolResultError("Invalid arguments type")
	}
	agentID, ok := args["agent_id"].(string)
	if !ok || agentID == "" {
		return nil, mcp.NewToolResultError("Missing required parameter: agent_id")
	}
	return &invocation{agentID: agentID, args: args, started: time.Now()}, nil
}

func (inv *invocation) stringArg(name string) (string, *mcp.CallToolResult) {
	value, ok := inv.args[name].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return value, nil
}

func (inv *invocation) actor() models.Actor {
	return models.Actor{Type: models.ActorAI, ID: inv.agentID}
}

// authorize runs the permission check and turns denials into tool errors.
// A missing agent config is treated as a denial, per the engine contract.
func (s *Server) authorize(ctx context.Context, inv *invocation, tool, actionType, objectType, objectID string) *mcp.CallToolResult {
	decision, err := s.authz.CheckPermission(ctx, inv.agentID, actionType, objectType, objectID)
	if err != nil {
		if models.IsNotFound(err) {
			s.audit(ctx, inv, tool, models.AuditError, "denied: agent not found")
			return mcp.NewToolResultError("Authorization denied: agent not found")
		}
		s.audit(ctx, inv, tool, models.AuditError, "authorization check failed")
		return mcp.NewToolResultError(fmt.Sprintf("Authorization check failed: %v", err))
	}
	if !decision.Allowed {
		s.audit(ctx, inv, tool, models.AuditError, "denied: "+decision.Reason)
		return mcp.NewToolResultError("Authorization denied: " + decision.Reason)
	}
	if decision.RequiresApproval {
		// The engine surfaces the approval requirement; the caller enforces
		// it. This caller refuses to execute without a human sign-off.
		s.audit(ctx, inv, tool, models.AuditSuccess, "approval required, not executed")
		return mcp.NewToolResultError("Human approval required before this action can be executed")
	}
	return nil
}

func (s *Server) audit(ctx context.Context, inv *invocation, tool string, status models.AuditStatus, outputSummary string) {
	rawInput, _ := json.Marshal(inv.args)
	if _, err := s.authz.RecordInvocation(ctx, &models.AIAuditLog{
		AgentID:       inv.agentID,
		InputSummary:  tool,
		OutputSummary: outputSummary,
		RawInput:      string(rawInput),
		Status:        status,
		DurationMs:    time.Since(inv.started).Milliseconds(),
	}); err != nil {
		s.logger.Error("failed to record audit entry", "agent_id", inv.agentID, "tool", tool, "error", err)
	}
}

func (s *Server) success(ctx context.Context, inv *invocation, tool string, payload any) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(payload)
	s.audit(ctx, inv, tool, models.AuditSuccess, tool+" succeeded")
	return mcp.NewToolResultText(string(jsonBytes))
}

func (s *Server) failure(ctx context.Context, inv *invocation, tool string, err error) *mcp.CallToolResult {
	s.audit(ctx, inv, tool, models.AuditError, err.Error())
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", tool, err))
}

func (s *Server) handleCompleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	taskID, errResult := inv.stringArg("task_id")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "complete_task", "update", "task_instance", taskID); denied != nil {
		return denied, nil
	}

	task, err := s.lifecycle.CompleteTask(ctx, taskID, inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "complete_task", err), nil
	}
	return s.success(ctx, inv, "complete_task", task), nil
}

func (s *Server) handleBlockTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	taskID, errResult := inv.stringArg("task_id")
	if errResult != nil {
		return errResult, nil
	}
	reason, errResult := inv.stringArg("reason")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "block_task", "update", "task_instance", taskID); denied != nil {
		return denied, nil
	}

	task, err := s.lifecycle.BlockTask(ctx, taskID, reason, inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "block_task", err), nil
	}
	return s.success(ctx, inv, "block_task", task), nil
}

func (s *Server) handleCompleteStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	stageID, errResult := inv.stringArg("stage_id")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "complete_stage", "update", "stage_instance", stageID); denied != nil {
		return denied, nil
	}

	completion, err := s.lifecycle.CompleteStage(ctx, stageID, inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "complete_stage", err), nil
	}
	return s.success(ctx, inv, "complete_stage", completion), nil
}

func (s *Server) handleCancelWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	workflowID, errResult := inv.stringArg("workflow_id")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "cancel_workflow", "execute", "workflow_instance", workflowID); denied != nil {
		return denied, nil
	}

	result, err := s.lifecycle.CancelWorkflow(ctx, workflowID, inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "cancel_workflow", err), nil
	}
	return s.success(ctx, inv, "cancel_workflow", result), nil
}

func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	clientID, errResult := inv.stringArg("client_id")
	if errResult != nil {
		return errResult, nil
	}
	templateID, errResult := inv.stringArg("template_id")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "create_workflow", "create", "workflow_instance", ""); denied != nil {
		return denied, nil
	}

	workflow, err := s.lifecycle.StartWorkflow(ctx, clientID, templateID, inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "create_workflow", err), nil
	}

	// Ledger entry makes the creation compensable later.
	if _, err := s.ledger.RecordExecuted(ctx, inv.agentID, models.ActionCreateWorkflow, map[string]any{
		"workflow_instance_id": workflow.ID,
		"client_id":            clientID,
		"template_id":          templateID,
	}); err != nil {
		s.logger.Error("failed to record strategy action", "agent_id", inv.agentID, "error", err)
	}
	return s.success(ctx, inv, "create_workflow", workflow), nil
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	deliverableID, errResult := inv.stringArg("deliverable_id")
	if errResult != nil {
		return errResult, nil
	}
	title, errResult := inv.stringArg("title")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "create_task", "create", "task_instance", ""); denied != nil {
		return denied, nil
	}

	task, err := s.lifecycle.CreateAdHocTask(ctx, deliverableID, title, "", inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "create_task", err), nil
	}

	if _, err := s.ledger.RecordExecuted(ctx, inv.agentID, models.ActionCreateTask, map[string]any{
		"task_instance_id": task.ID,
		"deliverable_id":   deliverableID,
	}); err != nil {
		s.logger.Error("failed to record strategy action", "agent_id", inv.agentID, "error", err)
	}
	return s.success(ctx, inv, "create_task", task), nil
}

func (s *Server) handleRollbackAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, errResult := s.begin(request)
	if errResult != nil {
		return errResult, nil
	}
	actionID, errResult := inv.stringArg("action_id")
	if errResult != nil {
		return errResult, nil
	}
	reason, errResult := inv.stringArg("reason")
	if errResult != nil {
		return errResult, nil
	}
	if denied := s.authorize(ctx, inv, "rollback_action", "execute", "strategy_action", actionID); denied != nil {
		return denied, nil
	}

	result, err := s.ledger.Rollback(ctx, actionID, reason, inv.actor())
	if err != nil {
		return s.failure(ctx, inv, "rollback_action", err), nil
	}
	return s.success(ctx, inv, "rollback_action", result), nil
}

// MountHTTPHandlers exposes the MCP server over SSE, matching the paths
// API clients expect.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

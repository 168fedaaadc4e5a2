package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"clientflow/backend/pkg/models"
)

func (s *Server) countTransition(c echo.Context, kind string) {
	s.transitions.Add(c.Request().Context(), 1, metric.WithAttributes(attribute.String("transition", kind)))
}

// StartWorkflow starts a new workflow instance from a template.
// (POST /api/v1/workflows)
func (s *Server) StartWorkflow(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	var body struct {
		ClientID   string `json:"client_id"`
		TemplateID string `json:"template_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	workflow, err := s.Lifecycle.StartWorkflow(c.Request().Context(), body.ClientID, body.TemplateID, actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "workflow_started")
	return c.JSON(http.StatusCreated, workflow)
}

// CompleteWorkflow completes a workflow instance, chaining to its
// template's successor when one is declared.
// (POST /api/v1/workflows/:id/complete)
func (s *Server) CompleteWorkflow(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	completion, err := s.Lifecycle.CompleteWorkflow(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "workflow_completed")
	return c.JSON(http.StatusOK, completion)
}

// CancelWorkflow runs the cancellation cascade.
// (POST /api/v1/workflows/:id/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	result, err := s.Lifecycle.CancelWorkflow(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "workflow_cancelled")
	return c.JSON(http.StatusOK, map[string]any{
		"workflow":      result.Workflow,
		"deleted_tasks": result.DeletedTasks,
	})
}

// DeleteWorkflow purges a workflow and all its descendants.
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}

	if err := s.Lifecycle.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CompleteStage completes a stage and returns the rolling summary. When
// this was the last open stage the response carries the workflow
// completion too.
// (POST /api/v1/stages/:id/complete)
func (s *Server) CompleteStage(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	completion, err := s.Lifecycle.CompleteStage(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "stage_completed")
	return c.JSON(http.StatusOK, map[string]any{
		"stage":              completion.Stage,
		"summary":            completion.Summary,
		"workflow_completed": completion.WorkflowCompleted,
		"workflow":           completion.Workflow,
		"chained_workflow":   completion.ChainedWorkflow,
	})
}

// CompleteDeliverable marks a deliverable completed.
// (POST /api/v1/deliverables/:id/complete)
func (s *Server) CompleteDeliverable(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	deliverable, err := s.Lifecycle.CompleteDeliverable(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "deliverable_completed")
	return c.JSON(http.StatusOK, deliverable)
}

// BlockDeliverable marks a deliverable blocked.
// (POST /api/v1/deliverables/:id/block)
func (s *Server) BlockDeliverable(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	deliverable, err := s.Lifecycle.BlockDeliverable(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, deliverable)
}

// UnblockDeliverable reverses a deliverable block.
// (POST /api/v1/deliverables/:id/unblock)
func (s *Server) UnblockDeliverable(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	deliverable, err := s.Lifecycle.UnblockDeliverable(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, deliverable)
}

// CreateAdHocTask inserts an ad-hoc task into a deliverable.
// (POST /api/v1/tasks)
func (s *Server) CreateAdHocTask(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	var body struct {
		DeliverableID string `json:"deliverable_id"`
		Title         string `json:"title"`
		AssignedUser  string `json:"assigned_user"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	task, err := s.Lifecycle.CreateAdHocTask(c.Request().Context(), body.DeliverableID, body.Title, body.AssignedUser, actor)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

// CompleteTask marks a task completed.
// (POST /api/v1/tasks/:id/complete)
func (s *Server) CompleteTask(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	task, err := s.Lifecycle.CompleteTask(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "task_completed")
	return c.JSON(http.StatusOK, task)
}

// BlockTask marks a task blocked with a reason.
// (POST /api/v1/tasks/:id/block)
func (s *Server) BlockTask(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	task, err := s.Lifecycle.BlockTask(c.Request().Context(), c.Param("id"), body.Reason, actor)
	if err != nil {
		return s.respondError(c, err)
	}
	s.countTransition(c, "task_blocked")
	return c.JSON(http.StatusOK, task)
}

// UnblockTask reverses a task block.
// (POST /api/v1/tasks/:id/unblock)
func (s *Server) UnblockTask(c echo.Context) error {
	actor, err := s.actor(c)
	if err != nil {
		return err
	}

	task, err := s.Lifecycle.UnblockTask(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// ListEvents queries the event log by source entity and event type.
// (GET /api/v1/events)
func (s *Server) ListEvents(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}

	events, err := s.Events.Query(c.Request().Context(),
		c.QueryParam("source_type"),
		c.QueryParam("source_id"),
		models.EventType(c.QueryParam("event_type")))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

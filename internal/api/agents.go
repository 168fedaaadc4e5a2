package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CheckPermission evaluates whether an agent may perform an action on a
// target object. A missing agent maps to 404 like any other absent entity;
// callers treat it as a denial.
// (POST /api/v1/agents/:id/check-permission)
func (s *Server) CheckPermission(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}

	var body struct {
		ActionType       string `json:"action_type"`
		TargetObjectType string `json:"target_object_type"`
		TargetObjectID   string `json:"target_object_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	decision, err := s.Authz.CheckPermission(c.Request().Context(), c.Param("id"), body.ActionType, body.TargetObjectType, body.TargetObjectID)
	if err != nil {
		return s.respondError(c, err)
	}

	outcome := "denied"
	if decision.Allowed {
		outcome = "allowed"
	}
	s.decisions.Add(c.Request().Context(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return c.JSON(http.StatusOK, decision)
}

// RollbackAction compensates an executed automated action.
// (POST /api/v1/actions/:id/rollback)
func (s *Server) RollbackAction(c echo.Context) error {
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

	result, err := s.Ledger.Rollback(c.Request().Context(), c.Param("id"), body.Reason, actor)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"action":      result.Action,
		"compensated": result.Compensated,
		"outcome":     result.Outcome,
	})
}

// SubmitFeedback attaches user feedback to an AI audit log entry.
// (POST /api/v1/audit/:id/feedback)
func (s *Server) SubmitFeedback(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}

	var body struct {
		Feedback string `json:"feedback"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	entry, err := s.Authz.SubmitFeedback(c.Request().Context(), c.Param("id"), body.Feedback)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

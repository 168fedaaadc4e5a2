// Package api contains the HTTP handlers for the clientflow service
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"clientflow/backend/internal/auth"
	"clientflow/backend/internal/authz"
	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/ledger"
	"clientflow/backend/internal/lifecycle"
	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the handlers depend on.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server holds the dependencies for the API server.
type Server struct {
	Lifecycle *lifecycle.Engine
	Authz     *authz.Engine
	Ledger    *ledger.Ledger
	Events    *eventlog.Log
	logger    Logger

	transitions metric.Int64Counter
	decisions   metric.Int64Counter
}

// NewServer creates a new Server.
func NewServer(lc *lifecycle.Engine, az *authz.Engine, ld *ledger.Ledger, events *eventlog.Log, logger Logger) *Server {
	meter := otel.Meter("clientflow/backend")
	transitions, _ := meter.Int64Counter("clientflow.lifecycle.transitions")
	decisions, _ := meter.Int64Counter("clientflow.authz.decisions")
	return &Server{
		Lifecycle:   lc,
		Authz:       az,
		Ledger:      ld,
		Events:      events,
		logger:      logger,
		transitions: transitions,
		decisions:   decisions,
	}
}

// Register mounts every handler on the authenticated API group.
func (s *Server) Register(g *echo.Group) {
	g.POST("/workflows", s.StartWorkflow)
	g.POST("/workflows/:id/complete", s.CompleteWorkflow)
	g.POST("/workflows/:id/cancel", s.CancelWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)

	g.POST("/stages/:id/complete", s.CompleteStage)

	g.POST("/deliverables/:id/complete", s.CompleteDeliverable)
	g.POST("/deliverables/:id/block", s.BlockDeliverable)
	g.POST("/deliverables/:id/unblock", s.UnblockDeliverable)

	g.POST("/tasks", s.CreateAdHocTask)
	g.POST("/tasks/:id/complete", s.CompleteTask)
	g.POST("/tasks/:id/block", s.BlockTask)
	g.POST("/tasks/:id/unblock", s.UnblockTask)

	g.GET("/events", s.ListEvents)

	g.POST("/agents/:id/check-permission", s.CheckPermission)
	g.POST("/actions/:id/rollback", s.RollbackAction)
	g.POST("/audit/:id/feedback", s.SubmitFeedback)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "clientflow",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// respondError maps the error taxonomy onto HTTP statuses and writes an
// RFC 7807 body.
func (s *Server) respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	title := "Unexpected Failure"
	switch models.KindOf(err) {
	case models.KindInvalidInput:
		status = http.StatusBadRequest
		title = "Invalid Input"
	case models.KindNotFound:
		status = http.StatusNotFound
		title = "Not Found"
	case models.KindInvalidState:
		status = http.StatusConflict
		title = "Invalid State"
	case models.KindAuthorizationDenied:
		status = http.StatusForbidden
		title = "Authorization Denied"
	default:
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: err.Error(),
	})
}

// actor pulls the explicit actor the auth middleware resolved. Requests
// that somehow bypassed the middleware are rejected.
func (s *Server) actor(c echo.Context) (models.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	return actor, nil
}

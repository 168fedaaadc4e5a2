package authz

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// RecordInvocation appends one AI audit log entry. Entries are written by
// the owning invocation and only touched again by a feedback submission.
func (e *Engine) RecordInvocation(ctx context.Context, entry *models.AIAuditLog) (*models.AIAuditLog, error) {
	if entry == nil || entry.AgentID == "" {
		return nil, models.NewInvalidInput("agent id is required")
	}
	if entry.Status != models.AuditSuccess && entry.Status != models.AuditError {
		return nil, models.NewInvalidInput("unknown audit status %q", entry.Status)
	}

	stored := *entry
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	fields, err := repository.Encode(&stored)
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to encode audit entry")
	}
	if _, err := e.store.Create(ctx, repository.EntityAuditLog, fields); err != nil {
		return nil, models.WrapUnexpected(err, "failed to record audit entry")
	}
	return &stored, nil
}

// SubmitFeedback attaches user feedback to an existing audit entry. Only
// the feedback field is touched.
func (e *Engine) SubmitFeedback(ctx context.Context, auditID, feedback string) (*models.AIAuditLog, error) {
	if feedback == "" {
		return nil, models.NewInvalidInput("feedback is required")
	}
	if _, err := e.store.Get(ctx, repository.EntityAuditLog, auditID); err != nil {
		return nil, err
	}

	updated, err := e.store.Update(ctx, repository.EntityAuditLog, auditID, map[string]any{
		"user_feedback": feedback,
	})
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to submit feedback")
	}

	var entry models.AIAuditLog
	if err := repository.Decode(updated, &entry); err != nil {
		return nil, models.WrapUnexpected(err, "failed to decode audit entry")
	}
	return &entry, nil
}

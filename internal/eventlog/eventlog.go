// Package eventlog is the append-only record of domain facts. There is no
// update or delete in its public contract; the one exception, the bulk
// purge during workflow deletion, is a maintenance operation exposed
// separately and used only by the lifecycle engine.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clientflow/backend/internal/repository"
	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the log depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Log is the single append point every component writes events through.
type Log struct {
	store  repository.Store
	logger Logger
	now    func() time.Time
}

// New creates an event log over the entity store.
func New(store repository.Store, logger Logger) *Log {
	return &Log{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Append validates and stores an event, returning it with its identifier.
// occurred_at is assigned when not supplied. The same fact may legitimately
// be appended more than once (repeated block/unblock cycles); the log makes
// no uniqueness guarantee per entity.
func (l *Log) Append(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event == nil {
		return nil, models.NewInvalidInput("event is required")
	}
	if !models.KnownEventTypes[event.Type] {
		return nil, models.NewInvalidInput("unknown event type %q", event.Type)
	}
	if event.SourceEntityType == "" || event.SourceEntityID == "" {
		return nil, models.NewInvalidInput("event source entity type and id are required")
	}
	switch event.ActorType {
	case models.ActorUser:
		if event.ActorID == nil || *event.ActorID == "" {
			return nil, models.NewInvalidInput("actor_id is required for user events")
		}
	case models.ActorAI, models.ActorSystem:
	default:
		return nil, models.NewInvalidInput("unknown actor type %q", event.ActorType)
	}

	stored := *event
	stored.ID = uuid.New().String()
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = l.now()
	}
	stored.CreatedAt = l.now()

	fields, err := repository.Encode(&stored)
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to encode event")
	}
	if _, err := l.store.Create(ctx, repository.EntityEvent, fields); err != nil {
		return nil, models.WrapUnexpected(err, "failed to append event")
	}

	l.logger.Debug("event appended", "type", stored.Type, "source", stored.SourceEntityID)
	return &stored, nil
}

// BySource returns every event recorded against one entity, oldest first.
func (l *Log) BySource(ctx context.Context, entityType, entityID string) ([]*models.Event, error) {
	return l.query(ctx, map[string]any{
		"source_entity_type": entityType,
		"source_entity_id":   entityID,
	})
}

// ByType returns every event of one type, oldest first.
func (l *Log) ByType(ctx context.Context, eventType models.EventType) ([]*models.Event, error) {
	return l.query(ctx, map[string]any{"event_type": string(eventType)})
}

// ByPayloadField returns events whose payload carries the given value,
// used for cascade cleanup and audit views.
func (l *Log) ByPayloadField(ctx context.Context, field string, value any) ([]*models.Event, error) {
	return l.query(ctx, map[string]any{"payload." + field: value})
}

// Query returns events matching an arbitrary combination of source and
// type filters. Empty filters are ignored.
func (l *Log) Query(ctx context.Context, sourceType, sourceID string, eventType models.EventType) ([]*models.Event, error) {
	predicate := map[string]any{}
	if sourceType != "" {
		predicate["source_entity_type"] = sourceType
	}
	if sourceID != "" {
		predicate["source_entity_id"] = sourceID
	}
	if eventType != "" {
		predicate["event_type"] = string(eventType)
	}
	return l.query(ctx, predicate)
}

func (l *Log) query(ctx context.Context, predicate map[string]any) ([]*models.Event, error) {
	entities, err := l.store.Filter(ctx, repository.EntityEvent, predicate,
		repository.WithSort("occurred_at", false))
	if err != nil {
		return nil, models.WrapUnexpected(err, "failed to query events")
	}
	events := make([]*models.Event, 0, len(entities))
	for _, e := range entities {
		var event models.Event
		if err := repository.Decode(e, &event); err != nil {
			return nil, models.WrapUnexpected(err, "failed to decode event")
		}
		events = append(events, &event)
	}
	return events, nil
}

// PurgeWorkflow deletes every event recorded against a workflow or whose
// payload references it. Maintenance only: this backs the hard workflow
// delete and bypasses the append-only contract deliberately.
func (l *Log) PurgeWorkflow(ctx context.Context, workflowID string) (int, error) {
	bySource, err := l.query(ctx, map[string]any{"source_entity_id": workflowID})
	if err != nil {
		return 0, err
	}
	byPayload, err := l.ByPayloadField(ctx, "workflow_id", workflowID)
	if err != nil {
		return 0, err
	}

	seen := map[string]bool{}
	deleted := 0
	for _, event := range append(bySource, byPayload...) {
		if seen[event.ID] {
			continue
		}
		seen[event.ID] = true
		if err := l.store.Delete(ctx, repository.EntityEvent, event.ID); err != nil {
			return deleted, models.WrapUnexpected(err, "failed to purge event %s", event.ID)
		}
		deleted++
	}
	return deleted, nil
}

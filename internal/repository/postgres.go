package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clientflow/backend/pkg/models"
)

// Logger is the logging interface the store depends on, compatible with
// the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Every entity lives in a single table with a JSONB document, so predicate
// matching is containment and sorting reads fields out of the document.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, logger Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// EnsureSchema creates the entities table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS entities (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		fields JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (type);
	CREATE INDEX IF NOT EXISTS idx_entities_fields ON entities USING GIN (fields);`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Filter returns entities of type t whose document contains the predicate.
func (s *PostgresStore) Filter(ctx context.Context, t EntityType, predicate map[string]any, opts ...FilterOption) ([]*Entity, error) {
	options := FilterOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	predJSON, err := json.Marshal(nestPredicate(predicate))
	if err != nil {
		return nil, models.NewInvalidInput("invalid filter predicate: %v", err)
	}

	query := "SELECT id, type, fields, created_at, updated_at FROM entities WHERE type = $1 AND fields @> $2"
	if options.SortBy != "" {
		dir := "ASC"
		if options.SortDesc {
			dir = "DESC"
		}
		// Tie-break on insertion order so equal sort keys stay stable.
		query += fmt.Sprintf(" ORDER BY fields->>'%s' %s, created_at ASC, id ASC", sanitizeSortField(options.SortBy), dir)
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}
	if options.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", options.Limit)
	}

	rows, err := s.db.Query(ctx, query, string(t), predJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s: %w", t, err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// Get retrieves one entity by id.
func (s *PostgresStore) Get(ctx context.Context, t EntityType, id string) (*Entity, error) {
	row := s.db.QueryRow(ctx, "SELECT id, type, fields, created_at, updated_at FROM entities WHERE type = $1 AND id = $2", string(t), id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewNotFound("%s %s not found", t, id)
		}
		return nil, err
	}
	return e, nil
}

// Create inserts a new entity, minting an id unless the fields carry one.
func (s *PostgresStore) Create(ctx context.Context, t EntityType, fields map[string]any) (*Entity, error) {
	if fields == nil {
		return nil, models.NewInvalidInput("entity fields are required")
	}

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}
	fields["id"] = id

	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, models.NewInvalidInput("invalid entity fields: %v", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(ctx,
		"INSERT INTO entities (id, type, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)",
		id, string(t), doc, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", t, err)
	}

	return s.Get(ctx, t, id)
}

// Update merges partial fields into the stored document.
func (s *PostgresStore) Update(ctx context.Context, t EntityType, id string, fields map[string]any) (*Entity, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, models.NewInvalidInput("invalid entity fields: %v", err)
	}

	tag, err := s.db.Exec(ctx,
		"UPDATE entities SET fields = fields || $3, updated_at = $4 WHERE type = $1 AND id = $2",
		string(t), id, doc, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", t, id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, models.NewNotFound("%s %s not found", t, id)
	}
	return s.Get(ctx, t, id)
}

// Delete removes an entity.
func (s *PostgresStore) Delete(ctx context.Context, t EntityType, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM entities WHERE type = $1 AND id = $2", string(t), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t, id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFound("%s %s not found", t, id)
	}
	return nil
}

// Ping verifies the pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var doc []byte
	if err := row.Scan(&e.ID, &e.Type, &doc, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Fields = map[string]any{}
	if err := json.Unmarshal(doc, &e.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode entity document %s: %w", e.ID, err)
	}
	return &e, nil
}

// nestPredicate expands dotted keys into nested documents so containment
// matching reaches into payloads ("payload.workflow_id" matches
// {"payload": {"workflow_id": ...}}).
func nestPredicate(predicate map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range predicate {
		parts := strings.Split(key, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = value
				break
			}
			next, ok := current[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[part] = next
			}
			current = next
		}
	}
	return out
}

// sanitizeSortField keeps sort expressions to plain identifier characters;
// the sort field is interpolated into the query text.
func sanitizeSortField(field string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, field)
}

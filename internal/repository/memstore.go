package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clientflow/backend/pkg/models"
)

// MemoryStore is an in-memory Store implementation used by tests and by
// dev mode. It preserves insertion order for unsorted filters.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[EntityType]map[string]*memEntity
	seq      int64
}

type memEntity struct {
	entity *Entity
	seq    int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[EntityType]map[string]*memEntity)}
}

// Filter returns matching entities, in insertion order unless sorted.
func (s *MemoryStore) Filter(ctx context.Context, t EntityType, predicate map[string]any, opts ...FilterOption) ([]*Entity, error) {
	options := FilterOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*memEntity
	for _, me := range s.entities[t] {
		if matchesPredicate(me.entity.Fields, predicate) {
			matched = append(matched, me)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if options.SortBy != "" {
			a := lookupField(matched[i].entity.Fields, options.SortBy)
			b := lookupField(matched[j].entity.Fields, options.SortBy)
			if cmp := compareValues(a, b); cmp != 0 {
				if options.SortDesc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return matched[i].seq < matched[j].seq
	})

	if options.Limit > 0 && len(matched) > options.Limit {
		matched = matched[:options.Limit]
	}

	result := make([]*Entity, 0, len(matched))
	for _, me := range matched {
		result = append(result, cloneEntity(me.entity))
	}
	return result, nil
}

// Get retrieves one entity by id.
func (s *MemoryStore) Get(ctx context.Context, t EntityType, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me, ok := s.entities[t][id]
	if !ok {
		return nil, models.NewNotFound("%s %s not found", t, id)
	}
	return cloneEntity(me.entity), nil
}

// Create inserts a new entity, minting an id unless the fields carry one.
func (s *MemoryStore) Create(ctx context.Context, t EntityType, fields map[string]any) (*Entity, error) {
	if fields == nil {
		return nil, models.NewInvalidInput("entity fields are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	e := &Entity{
		ID:        id,
		Type:      t,
		Fields:    cloneFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.Fields["id"] = id

	if s.entities[t] == nil {
		s.entities[t] = make(map[string]*memEntity)
	}
	s.seq++
	s.entities[t][id] = &memEntity{entity: e, seq: s.seq}
	return cloneEntity(e), nil
}

// Update merges partial fields into an existing entity.
func (s *MemoryStore) Update(ctx context.Context, t EntityType, id string, fields map[string]any) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.entities[t][id]
	if !ok {
		return nil, models.NewNotFound("%s %s not found", t, id)
	}
	for k, v := range cloneFields(fields) {
		me.entity.Fields[k] = v
	}
	me.entity.UpdatedAt = time.Now().UTC()
	return cloneEntity(me.entity), nil
}

// Delete removes an entity.
func (s *MemoryStore) Delete(ctx context.Context, t EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[t][id]; !ok {
		return models.NewNotFound("%s %s not found", t, id)
	}
	delete(s.entities[t], id)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// matchesPredicate checks equality on every predicate entry. Dotted keys
// address nested documents.
func matchesPredicate(fields map[string]any, predicate map[string]any) bool {
	for key, want := range predicate {
		got := lookupField(fields, key)
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func lookupField(fields map[string]any, key string) any {
	parts := strings.Split(key, ".")
	var current any = fields
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// valuesEqual compares through JSON so int/float64 and typed-string
// mismatches from document round-trips do not matter.
func valuesEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func cloneEntity(e *Entity) *Entity {
	clone := *e
	clone.Fields = cloneFields(e.Fields)
	return &clone
}

// cloneFields deep-copies via JSON so callers cannot mutate stored state.
func cloneFields(fields map[string]any) map[string]any {
	data, err := json.Marshal(fields)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

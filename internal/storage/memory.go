package storage

import (
	"context"
	"sync"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

type table struct {
	order []string
	rows  map[string]any
}

// Memory is a Store backed by process memory. It keeps insertion order
// and clones records on the way in and out.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: map[string]*table{}}
}

func (m *Memory) table(name string) *table {
	t, ok := m.tables[name]
	if !ok {
		t = &table{rows: map[string]any{}}
		m.tables[name] = t
	}
	return t
}

// Insert stores a copy of rec.
func (m *Memory) Insert(ctx context.Context, c Collection, rec any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := c.Shape.ID(rec)

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(c.Name)
	if _, ok := t.rows[id]; ok {
		return types.Errorf(types.ErrConflict, "%s %q already exists", c.Shape.Name(), id)
	}
	t.rows[id] = c.Shape.Clone(rec)
	t.order = append(t.order, id)
	return nil
}

// snapshot returns copies of every row in insertion order.
func (m *Memory) snapshot(c Collection) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[c.Name]
	if !ok {
		return nil
	}
	out := make([]any, len(t.order))
	for i, id := range t.order {
		out[i] = c.Shape.Clone(t.rows[id])
	}
	return out
}

// Find returns copies of the matching records.
func (m *Memory) Find(ctx context.Context, c Collection, q Query) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Apply(m.snapshot(c), q), nil
}

// Count counts the matching records.
func (m *Memory) Count(ctx context.Context, c Collection, where query.Predicate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return CountMatches(m.snapshot(c), where), nil
}

// Get returns a copy of the record with key id.
func (m *Memory) Get(ctx context.Context, c Collection, id string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := m.tables[c.Name]; ok {
		if rec, ok := t.rows[id]; ok {
			return c.Shape.Clone(rec), nil
		}
	}
	return nil, types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
}

// Replace overwrites the record with key id, keeping its position.
func (m *Memory) Replace(ctx context.Context, c Collection, id string, rec any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[c.Name]
	if !ok {
		return types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
	}
	if _, ok := t.rows[id]; !ok {
		return types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
	}
	t.rows[id] = c.Shape.Clone(rec)
	return nil
}

// Delete removes the record with key id.
func (m *Memory) Delete(ctx context.Context, c Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[c.Name]
	if !ok {
		return types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
	}
	if _, ok := t.rows[id]; !ok {
		return types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

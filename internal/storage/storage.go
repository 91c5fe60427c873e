// Package storage defines the record store the engine executes against and
// an in-memory implementation.
//
// Backends only persist and enumerate records. Filtering, ordering and
// paging run in-process over decoded records via Apply, so every backend
// honors the same compiled predicate and comparison.
package storage

import (
	"context"
	"slices"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
)

// Collection names where an entity's records live and how to read them.
type Collection struct {
	Name  string
	Shape entity.Shape
}

// Query selects records from a collection.
// Order nil keeps storage-native (insertion) order. Limit 0 means no limit.
type Query struct {
	Where  query.Predicate
	Order  func(a, b any) int
	Offset int
	Limit  int
}

// Store persists records. Records passed in and returned are *T values of
// the collection's shape; implementations never retain or share them.
//
// Insert fails with types.ErrConflict when the key is taken. Get, Replace
// and Delete fail with types.ErrNotFound for unknown keys.
type Store interface {
	Insert(ctx context.Context, c Collection, rec any) error
	Find(ctx context.Context, c Collection, q Query) ([]any, error)
	Count(ctx context.Context, c Collection, where query.Predicate) (int, error)
	Get(ctx context.Context, c Collection, id string) (any, error)
	Replace(ctx context.Context, c Collection, id string, rec any) error
	Delete(ctx context.Context, c Collection, id string) error
}

// Apply filters, orders and pages recs, which must be in insertion order.
// The input slice is not modified.
func Apply(recs []any, q Query) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		if q.Where.Match(r) {
			out = append(out, r)
		}
	}
	if q.Order != nil {
		slices.SortStableFunc(out, q.Order)
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return out[:0]
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

// CountMatches counts the records of recs matching where.
func CountMatches(recs []any, where query.Predicate) int {
	n := 0
	for _, r := range recs {
		if where.Match(r) {
			n++
		}
	}
	return n
}

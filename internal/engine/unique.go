package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// lockUnique holds the unique index lock of t until the returned func is
// called. Entities without unique indexes are not locked. The lock is
// process local: engines in other processes sharing a store are not
// serialized against this one.
func (e *Engine) lockUnique(t *target) func() {
	if t.reg.Indexes == nil || len(t.reg.Indexes.Unique) == 0 {
		return func() {}
	}
	mu, _ := e.unique.LoadOrStore(t.reg.Shape.Name(), &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// checkUnique verifies that recs violate no unique index, neither against
// stored live records nor among themselves. Stored copies of recs are
// ignored so an update does not collide with its own previous version.
// Tuples containing a null are never compared.
func (e *Engine) checkUnique(ctx context.Context, t *target, recs []any) error {
	if t.reg.Indexes == nil || len(t.reg.Indexes.Unique) == 0 {
		return nil
	}
	shape := t.reg.Shape

	own := make(map[string]bool, len(recs))
	for _, r := range recs {
		own[shape.ID(r)] = true
	}
	stored, err := e.store.Find(ctx, t.coll, storage.Query{Where: live(t.reg)})
	if err != nil {
		return err
	}

	for _, idx := range t.reg.Indexes.Unique {
		tuple := func(rec any) (string, bool) {
			parts := make([]string, len(idx.Fields))
			for i, f := range idx.Fields {
				v, err := shape.Get(rec, f)
				if err != nil || v == nil {
					return "", false
				}
				parts[i] = valueKey(v)
			}
			return strings.Join(parts, "\x1f"), true
		}

		taken := map[string]bool{}
		for _, s := range stored {
			if own[shape.ID(s)] {
				continue
			}
			if k, ok := tuple(s); ok {
				taken[k] = true
			}
		}
		for _, r := range recs {
			k, ok := tuple(r)
			if !ok {
				continue
			}
			if taken[k] {
				return types.FieldError(types.ErrConflict, "unique index "+idx.Name+" violated", idx.Fields...)
			}
			taken[k] = true
		}
	}
	return nil
}

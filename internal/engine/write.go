package engine

import (
	"context"
	"sort"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/validation"
)

// Update applies req.Update to the record with req.Key or to every record
// matching req.Condition. Soft-deleted records are never touched. All
// updated records are validated and checked against unique indexes before
// the first one is written.
func (e *Engine) Update(ctx context.Context, caller types.Caller, req UpdateRequest) (*UpdateResult, error) {
	const action = types.ActionUpdate

	t, err := e.resolve(req.Entity)
	if err != nil {
		return nil, err
	}
	if err := authorize(t.reg, caller, action); err != nil {
		return nil, err
	}
	decision := projection(t.reg, caller.Roles, action)
	row, err := rowFilter(t.reg, caller, action)
	if err != nil {
		return nil, e.fail(action, t.reg, err)
	}
	shape := t.reg.Shape

	byKey := req.Key != ""
	if byKey == (req.Condition != nil) {
		return nil, types.FieldError(types.ErrValidation, "update requires exactly one of key or condition", "key", "condition")
	}
	if len(req.Update) == 0 {
		return nil, types.FieldError(types.ErrValidation, "update requires at least one field", "update")
	}
	if err := checkWritable(shape, req.Update, true); err != nil {
		return nil, err
	}
	if err := writable(decision, req.Update); err != nil {
		return nil, err
	}
	if err := assign(shape, shape.New(), req.Update); err != nil {
		return nil, err
	}

	var targets []any
	if byKey {
		rec, err := e.findByKey(ctx, t, req.Key, query.AllPredicates(row, live(t.reg)))
		if err != nil {
			return nil, e.fail(action, t.reg, err)
		}
		targets = []any{rec}
	} else {
		cond, err := query.Compile(req.Condition, shape)
		if err != nil {
			return nil, err
		}
		targets, err = e.store.Find(ctx, t.coll, storage.Query{Where: query.AllPredicates(cond, row, live(t.reg))})
		if err != nil {
			return nil, e.fail(action, t.reg, err)
		}
	}

	updated := make([]any, len(targets))
	for i, rec := range targets {
		next := shape.Clone(rec)
		if err := assign(shape, next, req.Update); err != nil {
			return nil, err
		}
		if err := validation.Run(ctx, t.reg.Validators[action], shape, next, action); err != nil {
			return nil, err
		}
		updated[i] = next
	}
	defer e.lockUnique(t)()
	if err := e.checkUnique(ctx, t, updated); err != nil {
		return nil, e.fail(action, t.reg, err)
	}
	for _, rec := range updated {
		if err := e.store.Replace(ctx, t.coll, shape.ID(rec), rec); err != nil {
			return nil, e.fail(action, t.reg, err)
		}
	}

	if byKey && t.reg.Returning == registry.ReturnRecord {
		read := projection(t.reg, caller.Roles, types.ActionRead)
		return &UpdateResult{AffectedRows: 1, Data: read.Apply(shape.ToMap(updated[0]))}, nil
	}
	return &UpdateResult{AffectedRows: len(updated)}, nil
}

// Delete removes the record with req.Key. Entities with a soft delete rule
// are flagged instead, and flagging an already flagged record fails with
// ErrAlreadyDeleted.
func (e *Engine) Delete(ctx context.Context, caller types.Caller, req DeleteRequest) error {
	const action = types.ActionDelete

	t, err := e.resolve(req.Entity)
	if err != nil {
		return err
	}
	if err := authorize(t.reg, caller, action); err != nil {
		return err
	}
	row, err := rowFilter(t.reg, caller, action)
	if err != nil {
		return e.fail(action, t.reg, err)
	}
	if req.Key == "" {
		return types.FieldError(types.ErrValidation, "key.id is required", "id")
	}

	rec, err := e.findByKey(ctx, t, req.Key, row)
	if err != nil {
		return e.fail(action, t.reg, err)
	}

	rule := t.reg.SoftDelete
	if rule == nil {
		return e.fail(action, t.reg, e.store.Delete(ctx, t.coll, req.Key))
	}

	shape := t.reg.Shape
	if v, _ := shape.Get(rec, rule.FlagField); v == true {
		return &types.Error{Kind: types.ErrAlreadyDeleted, Message: types.ErrAlreadyDeleted.Error(), Fields: []string{shape.Key()}}
	}
	next := shape.Clone(rec)
	if err := shape.Set(next, rule.FlagField, true); err != nil {
		return e.fail(action, t.reg, err)
	}
	if rule.TimestampField != "" {
		now := e.now()
		if rule.UseUTC {
			now = now.UTC()
		} else {
			now = now.Local()
		}
		if err := shape.Set(next, rule.TimestampField, now); err != nil {
			return e.fail(action, t.reg, err)
		}
	}
	return e.fail(action, t.reg, e.store.Replace(ctx, t.coll, req.Key, next))
}

// findByKey loads one record and applies where to it. A record hidden by
// where is reported as missing.
func (e *Engine) findByKey(ctx context.Context, t *target, key string, where query.Predicate) (any, error) {
	rec, err := e.store.Get(ctx, t.coll, key)
	if err != nil {
		return nil, err
	}
	if !where.Match(rec) {
		return nil, types.Errorf(types.ErrNotFound, "%s %q not found", t.reg.Name, key)
	}
	return rec, nil
}

// writable rejects fields a restricted projection does not cover.
func writable(d policy.Decision, values map[string]any) error {
	if d.Kind != policy.Restricted {
		return nil
	}
	var denied []string
	for name := range values {
		if !d.Allows(name) {
			denied = append(denied, name)
		}
	}
	if len(denied) == 0 {
		return nil
	}
	sort.Strings(denied)
	return types.FieldError(types.ErrForbidden, "fields not writable for the caller's roles", denied...)
}

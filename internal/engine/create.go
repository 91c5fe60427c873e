package engine

import (
	"context"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/validation"
)

// Create validates and stores one record. A missing key is generated.
//
// A restricted create projection limits which fields the caller may supply
// and masks the response the same way.
func (e *Engine) Create(ctx context.Context, caller types.Caller, req CreateRequest) (*CreateResult, error) {
	const action = types.ActionCreate

	t, err := e.resolve(req.Entity)
	if err != nil {
		return nil, err
	}
	if err := authorize(t.reg, caller, action); err != nil {
		return nil, err
	}
	decision := projection(t.reg, caller.Roles, action)
	shape := t.reg.Shape

	if req.Input == nil {
		return nil, types.FieldError(types.ErrValidation, "input is required", "input")
	}
	if err := checkWritable(shape, req.Input, false); err != nil {
		return nil, err
	}
	if err := writable(decision, req.Input); err != nil {
		return nil, err
	}
	if bad := unknownFields(shape, req.Returning, ""); len(bad) > 0 {
		return nil, types.FieldError(types.ErrValidation, "unknown returning field", bad...)
	}

	rec := shape.New()
	if err := assign(shape, rec, req.Input); err != nil {
		return nil, err
	}
	if shape.ID(rec) == "" {
		if err := shape.Set(rec, shape.Key(), e.newID()); err != nil {
			return nil, e.fail(action, t.reg, err)
		}
	}

	if err := validation.Run(ctx, t.reg.Validators[action], shape, rec, action); err != nil {
		return nil, err
	}
	defer e.lockUnique(t)()
	if err := e.checkUnique(ctx, t, []any{rec}); err != nil {
		return nil, e.fail(action, t.reg, err)
	}
	if err := e.store.Insert(ctx, t.coll, rec); err != nil {
		return nil, e.fail(action, t.reg, err)
	}

	return &CreateResult{Data: decision.Apply(pick(shape.ToMap(rec), req.Returning))}, nil
}

// Package validation runs declarative checks against records before they
// are written. Validators are registered per entity and action; the engine
// runs every validator for the action and reports all violations together.
package validation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Violation is one failed check.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator checks a record for one action.
type Validator interface {
	// Name identifies the validator within an entity/action pair.
	Name() string
	Validate(ctx context.Context, shape entity.Shape, rec any, action types.Action) []Violation
}

// Run executes validators in order and converts any violations into a
// types.ErrValidation naming every offending field.
func Run(ctx context.Context, validators []Validator, shape entity.Shape, rec any, action types.Action) error {
	var all []Violation
	for _, v := range validators {
		if err := ctx.Err(); err != nil {
			return err
		}
		all = append(all, v.Validate(ctx, shape, rec, action)...)
	}
	if len(all) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(all))
	var fields []string
	for _, v := range all {
		msgs = append(msgs, v.Field+": "+v.Message)
		if !slices.Contains(fields, v.Field) {
			fields = append(fields, v.Field)
		}
	}
	sort.Strings(fields)
	return &types.Error{
		Kind:    types.ErrValidation,
		Message: "validation failed: " + strings.Join(msgs, "; "),
		Fields:  fields,
	}
}

type fieldCheck struct {
	name  string
	field string
	check func(v any) string
}

func (c fieldCheck) Name() string { return c.name }

func (c fieldCheck) Validate(_ context.Context, shape entity.Shape, rec any, _ types.Action) []Violation {
	v, err := shape.Get(rec, c.field)
	if err != nil {
		return []Violation{{Field: c.field, Message: "is not a declared field"}}
	}
	if msg := c.check(v); msg != "" {
		return []Violation{{Field: c.field, Message: msg}}
	}
	return nil
}

// Required rejects null, empty text and zero times.
func Required(field string) Validator {
	return fieldCheck{name: "required:" + field, field: field, check: func(v any) string {
		switch x := v.(type) {
		case nil:
			return "is required"
		case string:
			if strings.TrimSpace(x) == "" {
				return "is required"
			}
		case interface{ IsZero() bool }:
			if x.IsZero() {
				return "is required"
			}
		}
		return ""
	}}
}

// MaxLength limits text fields to n characters.
func MaxLength(field string, n int) Validator {
	return fieldCheck{name: fmt.Sprintf("maxLength:%s", field), field: field, check: func(v any) string {
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > n {
			return fmt.Sprintf("must be at most %d characters", n)
		}
		return ""
	}}
}

// Range bounds numeric fields to [lo, hi].
func Range(field string, lo, hi float64) Validator {
	return fieldCheck{name: fmt.Sprintf("range:%s", field), field: field, check: func(v any) string {
		var f float64
		switch x := v.(type) {
		case int64:
			f = float64(x)
		case float64:
			f = x
		default:
			return ""
		}
		if f < lo || f > hi {
			return fmt.Sprintf("must be between %v and %v", lo, hi)
		}
		return ""
	}}
}

// OneOf restricts text fields to a fixed set of values.
func OneOf(field string, allowed ...string) Validator {
	return fieldCheck{name: fmt.Sprintf("oneOf:%s", field), field: field, check: func(v any) string {
		s, ok := v.(string)
		if !ok || slices.Contains(allowed, s) {
			return ""
		}
		return "must be one of " + strings.Join(allowed, ", ")
	}}
}

// FuncValidator adapts a function to Validator.
type FuncValidator struct {
	ID string
	Fn func(ctx context.Context, shape entity.Shape, rec any, action types.Action) []Violation
}

func (f FuncValidator) Name() string { return f.ID }

func (f FuncValidator) Validate(ctx context.Context, shape entity.Shape, rec any, action types.Action) []Violation {
	return f.Fn(ctx, shape, rec, action)
}

// Func builds a named validator from fn.
func Func(name string, fn func(ctx context.Context, shape entity.Shape, rec any, action types.Action) []Violation) Validator {
	return FuncValidator{ID: name, Fn: fn}
}

// Fields reports the fields a validator inspects, when known. The registry
// uses it to reject validators bound to undeclared fields.
func Fields(v Validator) []string {
	if c, ok := v.(fieldCheck); ok {
		return []string{c.field}
	}
	return nil
}

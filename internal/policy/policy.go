// Package policy decides what a caller may do with an entity.
//
// A Policy is declared once at startup with the builder methods below and
// frozen when handed to the registry. Evaluation is read-only: Authorize
// answers allow/deny per action, ResolveProjection decides which fields a
// caller may see (read) or supply (create), and RowFilters yields the
// per-caller filter nodes ANDed into every query.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// DefaultSuppression replaces masked field values.
const DefaultSuppression = "***"

// RoleAssignment grants an action to roles. Fields == nil means every
// field; a non-nil slice (possibly empty) restricts the caller to it.
type RoleAssignment struct {
	Roles  types.RoleSet
	Fields []string
}

// ActionRule collects every assignment declared for one action.
type ActionRule struct {
	AllRoles    types.RoleSet
	Assignments []RoleAssignment
}

// RowFilterFunc builds a filter for the caller. Returning nil means the
// caller is not restricted by this filter.
type RowFilterFunc func(caller types.Caller) query.Node

type rowFilter struct {
	roles types.RoleSet // nil applies to every caller
	fn    RowFilterFunc
}

// Policy is the authorization declaration for one entity.
type Policy struct {
	rules       map[types.Action]*ActionRule
	rowFilters  map[types.Action][]rowFilter
	suppression any
	errs        []error
}

// New starts an empty policy. An empty policy denies every action.
func New() *Policy {
	return &Policy{
		rules:       make(map[types.Action]*ActionRule),
		rowFilters:  make(map[types.Action][]rowFilter),
		suppression: DefaultSuppression,
	}
}

// Allow grants action to roles with access to every field.
func (p *Policy) Allow(action types.Action, roles ...string) *Policy {
	return p.assign(action, nil, roles)
}

// AllowFields grants action to roles restricted to fields. Only create and
// read support field restrictions.
func (p *Policy) AllowFields(action types.Action, fields []string, roles ...string) *Policy {
	if action != types.ActionCreate && action != types.ActionRead {
		p.errs = append(p.errs, fmt.Errorf("field restriction declared for %s: only create and read support field restrictions", action))
		return p
	}
	set := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			set = append(set, f)
		}
	}
	sort.Strings(set)
	return p.assign(action, set, roles)
}

func (p *Policy) assign(action types.Action, fields []string, roles []string) *Policy {
	if action == types.ActionUnspecified {
		p.errs = append(p.errs, errors.New("policy action is unspecified"))
		return p
	}
	rs := types.NewRoleSet(roles...)
	if len(rs) == 0 {
		p.errs = append(p.errs, fmt.Errorf("%s assignment declares no roles", action))
		return p
	}
	rule, ok := p.rules[action]
	if !ok {
		rule = &ActionRule{AllRoles: types.NewRoleSet()}
		p.rules[action] = rule
	}
	rule.AllRoles = rule.AllRoles.Union(rs)
	rule.Assignments = append(rule.Assignments, RoleAssignment{Roles: rs, Fields: fields})
	return p
}

// RowFilter ANDs fn's node into every query for action issued by a caller
// holding one of roles. No roles means every caller.
func (p *Policy) RowFilter(action types.Action, fn RowFilterFunc, roles ...string) *Policy {
	if action == types.ActionCreate || action == types.ActionUnspecified {
		p.errs = append(p.errs, fmt.Errorf("row filter declared for %s: only read, update and delete support row filters", action))
		return p
	}
	if fn == nil {
		p.errs = append(p.errs, fmt.Errorf("row filter for %s is nil", action))
		return p
	}
	var rs types.RoleSet
	if len(roles) > 0 {
		rs = types.NewRoleSet(roles...)
	}
	p.rowFilters[action] = append(p.rowFilters[action], rowFilter{roles: rs, fn: fn})
	return p
}

// Suppression sets the placeholder substituted for masked fields.
func (p *Policy) Suppression(v any) *Policy {
	p.suppression = v
	return p
}

// Validate reports declaration errors and any field selector that is not a
// single, directly accessible field of shape.
func (p *Policy) Validate(shape entity.Shape) error {
	errs := append([]error(nil), p.errs...)

	var bad []string
	seen := map[string]bool{}
	for _, action := range types.Actions {
		rule, ok := p.rules[action]
		if !ok {
			continue
		}
		for _, a := range rule.Assignments {
			for _, f := range a.Fields {
				if seen[f] {
					continue
				}
				seen[f] = true
				if !selectable(shape, f) {
					bad = append(bad, f)
				}
			}
		}
	}
	if len(bad) > 0 {
		errs = append(errs, fmt.Errorf("field selectors must name a declared, non-computed field: %s", strings.Join(bad, ", ")))
	}

	if err := errors.Join(errs...); err != nil {
		return &types.Error{
			Kind:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("policy for %s: %v", shape.Name(), err),
			Fields:  bad,
		}
	}
	return nil
}

func selectable(shape entity.Shape, field string) bool {
	if strings.ContainsAny(field, ".()[] ") {
		return false
	}
	f, ok := shape.Field(field)
	return ok && !f.Computed
}

// Clone returns a deep copy so the registry can freeze it.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := &Policy{
		rules:       make(map[types.Action]*ActionRule, len(p.rules)),
		rowFilters:  make(map[types.Action][]rowFilter, len(p.rowFilters)),
		suppression: p.suppression,
		errs:        append([]error(nil), p.errs...),
	}
	for action, rule := range p.rules {
		r := &ActionRule{AllRoles: rule.AllRoles.Clone()}
		for _, a := range rule.Assignments {
			var fields []string
			if a.Fields != nil {
				fields = append([]string{}, a.Fields...)
			}
			r.Assignments = append(r.Assignments, RoleAssignment{Roles: a.Roles.Clone(), Fields: fields})
		}
		out.rules[action] = r
	}
	for action, filters := range p.rowFilters {
		out.rowFilters[action] = append([]rowFilter(nil), filters...)
	}
	return out
}

// Rule returns the rule declared for action.
func (p *Policy) Rule(action types.Action) (*ActionRule, bool) {
	r, ok := p.rules[action]
	return r, ok
}

// Package types provides domain values shared across crudql components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library so every layer (registry, policy, query, engine, transports) can
// import them without pulling in storage or transport dependencies. ID
// utilities in ids.go import uuid but are isolated.
package types

import (
	"sort"
	"strings"
)

// Action identifies one of the four generic operations.
type Action int

const (
	ActionUnspecified Action = iota
	ActionCreate
	ActionRead
	ActionUpdate
	ActionDelete
)

// Actions lists every dispatchable action in declaration order.
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unspecified"
	}
}

// ParseAction maps the wire name of an action to its enum value.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return ActionCreate, true
	case "read":
		return ActionRead, true
	case "update":
		return ActionUpdate, true
	case "delete":
		return ActionDelete, true
	default:
		return ActionUnspecified, false
	}
}

// RoleSet is a case-insensitive set of role names.
// Keys are stored lower-cased; a nil RoleSet and an empty RoleSet are
// distinct values and callers rely on that distinction.
type RoleSet map[string]struct{}

// NewRoleSet builds a non-nil set from roles, ignoring blank entries.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether role is in the set (case-insensitive).
func (s RoleSet) Has(role string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Intersects reports whether the two sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Union returns a new set holding the roles of both sets.
// Union of two nil sets is nil; otherwise the result is non-nil.
func (s RoleSet) Union(other RoleSet) RoleSet {
	if s == nil && other == nil {
		return nil
	}
	out := make(RoleSet, len(s)+len(other))
	for r := range s {
		out[r] = struct{}{}
	}
	for r := range other {
		out[r] = struct{}{}
	}
	return out
}

// Clone copies the set, preserving nil.
func (s RoleSet) Clone() RoleSet {
	if s == nil {
		return nil
	}
	out := make(RoleSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Sorted returns the roles in lexical order. Nil sets yield nil.
func (s RoleSet) Sorted() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Caller identifies who issued a request.
// Transports build it from authenticated credentials; the engine never
// mutates it.
type Caller struct {
	ID    string
	Roles RoleSet
}

// NewCaller builds a Caller from an identifier and raw role names.
func NewCaller(id string, roles ...string) Caller {
	return Caller{ID: id, Roles: NewRoleSet(roles...)}
}

// Anonymous reports whether the caller carries no identity and no roles.
func (c Caller) Anonymous() bool {
	return c.ID == "" && len(c.Roles) == 0
}

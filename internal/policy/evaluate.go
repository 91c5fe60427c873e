package policy

import (
	"slices"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// DecisionKind classifies a projection decision.
type DecisionKind int

const (
	// Denied means no assignment for the action matched the caller.
	Denied DecisionKind = iota
	Unrestricted
	Restricted
)

func (k DecisionKind) String() string {
	switch k {
	case Unrestricted:
		return "unrestricted"
	case Restricted:
		return "restricted"
	default:
		return "denied"
	}
}

// Decision is the field-level outcome for one caller and action.
type Decision struct {
	Kind        DecisionKind
	Fields      []string // only meaningful when Restricted
	Suppression any
}

// Allows reports whether field may be exposed or accepted.
// Denied decisions allow nothing.
func (d Decision) Allows(field string) bool {
	switch d.Kind {
	case Unrestricted:
		return true
	case Restricted:
		return slices.Contains(d.Fields, field)
	default:
		return false
	}
}

// Apply returns a copy of record with every present field outside the
// allowed set replaced by the suppression value. Allowed values are copied
// untouched. Only Restricted decisions mask.
func (d Decision) Apply(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		if d.Kind == Restricted && !d.Allows(k) {
			out[k] = d.Suppression
			continue
		}
		out[k] = v
	}
	return out
}

// Authorize reports whether roles intersect the roles declared for action.
// Role names compare case-insensitively.
func (p *Policy) Authorize(roles types.RoleSet, action types.Action) bool {
	rule, ok := p.rules[action]
	if !ok {
		return false
	}
	return roles.Intersects(rule.AllRoles)
}

// ResolveProjection walks the assignments for action in declaration order.
// Any matching unrestricted assignment wins; otherwise the first matching
// restricted assignment's field set is used as-is, without union.
func (p *Policy) ResolveProjection(roles types.RoleSet, action types.Action) Decision {
	rule, ok := p.rules[action]
	if !ok {
		return Decision{Kind: Denied}
	}

	var first *RoleAssignment
	for i := range rule.Assignments {
		a := &rule.Assignments[i]
		if !roles.Intersects(a.Roles) {
			continue
		}
		if a.Fields == nil {
			return Decision{Kind: Unrestricted}
		}
		if first == nil {
			first = a
		}
	}
	if first == nil {
		return Decision{Kind: Denied}
	}
	return Decision{
		Kind:        Restricted,
		Fields:      append([]string{}, first.Fields...),
		Suppression: p.suppression,
	}
}

// RowFilters returns the filter nodes that apply to caller for action.
func (p *Policy) RowFilters(caller types.Caller, action types.Action) []query.Node {
	var out []query.Node
	for _, f := range p.rowFilters[action] {
		if f.roles != nil && !caller.Roles.Intersects(f.roles) {
			continue
		}
		if n := f.fn(caller); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// SuppressionValue returns the configured placeholder.
func (p *Policy) SuppressionValue() any {
	return p.suppression
}

package policy

import (
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Summary is a comparable, JSON-friendly view of a policy.
type Summary struct {
	Suppression any                      `json:"suppression"`
	Actions     map[string]ActionSummary `json:"actions"`
	RowFilters  map[string]int           `json:"rowFilters,omitempty"`
}

// ActionSummary describes one action rule.
type ActionSummary struct {
	Roles       []string            `json:"roles"`
	Assignments []AssignmentSummary `json:"assignments"`
}

// AssignmentSummary describes one role assignment. Fields is omitted for
// unrestricted assignments.
type AssignmentSummary struct {
	Roles  []string `json:"roles"`
	Fields []string `json:"fields,omitempty"`
	All    bool     `json:"allFields"`
}

// Describe summarizes the policy in a canonical form.
func (p *Policy) Describe() *Summary {
	if p == nil {
		return nil
	}
	s := &Summary{
		Suppression: p.suppression,
		Actions:     make(map[string]ActionSummary, len(p.rules)),
	}
	for _, action := range types.Actions {
		rule, ok := p.rules[action]
		if !ok {
			continue
		}
		as := ActionSummary{Roles: rule.AllRoles.Sorted()}
		for _, a := range rule.Assignments {
			as.Assignments = append(as.Assignments, AssignmentSummary{
				Roles:  a.Roles.Sorted(),
				Fields: a.Fields,
				All:    a.Fields == nil,
			})
		}
		s.Actions[action.String()] = as
	}
	for action, filters := range p.rowFilters {
		if len(filters) == 0 {
			continue
		}
		if s.RowFilters == nil {
			s.RowFilters = make(map[string]int)
		}
		s.RowFilters[action.String()] = len(filters)
	}
	return s
}

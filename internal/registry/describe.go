package registry

import (
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
)

// Summary is a canonical, comparable description of one registration.
// Two stores that received the same set of configuration calls describe
// identically regardless of call order.
type Summary struct {
	Name       string                  `json:"name"`
	Type       string                  `json:"type"`
	Key        string                  `json:"key"`
	Collection string                  `json:"collection"`
	Fields     []FieldSummary          `json:"fields"`
	Relations  []RelationSummary       `json:"relations,omitempty"`
	Policy     *policy.Summary         `json:"policy,omitempty"`
	Validators map[string][]string     `json:"validators,omitempty"`
	Includes   []IncludeRule           `json:"includes,omitempty"`
	Pagination *query.PaginationConfig `json:"pagination,omitempty"`
	Ordering   *OrderingSummary        `json:"ordering,omitempty"`
	Indexes    *IndexConfig            `json:"indexes,omitempty"`
	SoftDelete *SoftDeleteRule         `json:"softDelete,omitempty"`
	Returning  string                  `json:"updateReturning"`
}

// FieldSummary describes one field.
type FieldSummary struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Nullable bool   `json:"nullable,omitempty"`
	Computed bool   `json:"computed,omitempty"`
}

// RelationSummary describes one relation.
type RelationSummary struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Many   bool   `json:"many"`
}

// OrderingSummary describes the ordering configuration.
type OrderingSummary struct {
	Allowed []string `json:"allowed,omitempty"`
	Default []string `json:"default,omitempty"`
}

// Describe summarizes every registration, sorted by name.
func (s *Store) Describe() []Summary {
	regs := s.All()
	out := make([]Summary, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.Describe())
	}
	return out
}

// Describe summarizes one registration.
func (r *Registration) Describe() Summary {
	sum := Summary{
		Name:       r.Name,
		Type:       r.TypeID.String(),
		Key:        r.Shape.Key(),
		Collection: r.Collection,
		Policy:     r.Policy.Describe(),
		Includes:   r.Includes.Flatten(),
		Pagination: r.Pagination,
		Indexes:    r.Indexes,
		SoftDelete: r.SoftDelete,
		Returning:  r.Returning.String(),
	}
	for _, f := range r.Shape.Fields() {
		sum.Fields = append(sum.Fields, FieldSummary{
			Name:     f.Name,
			Kind:     f.Kind.String(),
			Nullable: f.Nullable,
			Computed: f.Computed,
		})
	}
	for _, rel := range r.Shape.Relations() {
		sum.Relations = append(sum.Relations, RelationSummary{Name: rel.Name, Target: rel.Target, Many: rel.Many})
	}
	for action, vs := range r.Validators {
		if len(vs) == 0 {
			continue
		}
		if sum.Validators == nil {
			sum.Validators = map[string][]string{}
		}
		names := make([]string, len(vs))
		for i, v := range vs {
			names[i] = v.Name()
		}
		sum.Validators[action.String()] = names
	}
	if r.Ordering != nil {
		o := &OrderingSummary{Allowed: r.Ordering.Allowed}
		for _, t := range r.Ordering.Default {
			o.Default = append(o.Default, t.String())
		}
		sum.Ordering = o
	}
	return sum
}

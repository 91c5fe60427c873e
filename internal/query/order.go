package query

import (
	"fmt"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// OrderTerm is one field of an ordering clause.
type OrderTerm struct {
	Field     string
	Direction Direction
}

func (t OrderTerm) String() string {
	return t.Field + ":" + t.Direction.String()
}

// OrderingConfig restricts and defaults ordering for an entity.
// A nil Allowed list means every non-computed field is orderable.
type OrderingConfig struct {
	Allowed []string
	Default []OrderTerm
}

// Validate checks the configuration against shape at registration time.
func (c *OrderingConfig) Validate(shape entity.Shape) error {
	if c == nil {
		return nil
	}
	var bad []string
	for _, f := range c.Allowed {
		if !orderable(shape, f) {
			bad = append(bad, f)
		}
	}
	for _, t := range c.Default {
		if !orderable(shape, t.Field) || !c.allows(t.Field) {
			bad = append(bad, t.Field)
		}
	}
	if len(bad) > 0 {
		return types.FieldError(types.ErrInvalidConfig, "ordering references fields that cannot be ordered", bad...)
	}
	return nil
}

func (c *OrderingConfig) allows(field string) bool {
	if c == nil || c.Allowed == nil {
		return true
	}
	for _, f := range c.Allowed {
		if f == field {
			return true
		}
	}
	return false
}

func orderable(shape entity.Shape, field string) bool {
	f, ok := shape.Field(field)
	return ok && !f.Computed && f.Kind.Sortable()
}

// Order is a resolved ordering. Empty Terms means storage-native order.
type Order struct {
	Terms []OrderTerm
}

// Empty reports whether the order leaves records in storage order.
func (o Order) Empty() bool { return len(o.Terms) == 0 }

// Fields lists the ordered fields.
func (o Order) Fields() []string {
	out := make([]string, len(o.Terms))
	for i, t := range o.Terms {
		out[i] = t.Field
	}
	return out
}

// Compare returns a three-way comparator over records of shape, or nil when
// the order is empty.
func (o Order) Compare(shape entity.Shape) func(a, b any) int {
	if o.Empty() {
		return nil
	}
	terms := o.Terms
	return func(a, b any) int {
		for _, t := range terms {
			va, _ := shape.Get(a, t.Field)
			vb, _ := shape.Get(b, t.Field)
			c := CompareValues(va, vb)
			if t.Direction == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

// ResolveOrder parses a "field[:asc|desc], ..." clause against shape and cfg.
// Empty input falls back to the configured default.
func ResolveOrder(raw string, shape entity.Shape, cfg *OrderingConfig) (Order, error) {
	if strings.TrimSpace(raw) == "" {
		if cfg != nil {
			return Order{Terms: append([]OrderTerm(nil), cfg.Default...)}, nil
		}
		return Order{}, nil
	}

	var terms []OrderTerm
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Order{}, types.Errorf(types.ErrValidation, "invalid orderBy: empty term")
		}

		field, dirTok, hasDir := strings.Cut(part, ":")
		field = strings.TrimSpace(field)
		term := OrderTerm{Field: field, Direction: Asc}
		if hasDir {
			switch strings.ToLower(strings.TrimSpace(dirTok)) {
			case "asc":
			case "desc":
				term.Direction = Desc
			default:
				return Order{}, &types.Error{
					Kind:    types.ErrValidation,
					Message: fmt.Sprintf("invalid sort direction %q for field %s", strings.TrimSpace(dirTok), field),
					Fields:  []string{field},
				}
			}
		}

		if !orderable(shape, field) {
			return Order{}, types.FieldError(types.ErrValidation, "unknown order field", field)
		}
		if !cfg.allows(field) {
			return Order{}, types.FieldError(types.ErrValidation, "ordering not allowed on field", field)
		}
		if seen[field] {
			return Order{}, types.FieldError(types.ErrValidation, "duplicate order field", field)
		}
		seen[field] = true
		terms = append(terms, term)
	}
	return Order{Terms: terms}, nil
}

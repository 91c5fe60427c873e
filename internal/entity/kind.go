package entity

// Kind is the semantic type of an entity field.
type Kind int

const (
	KindUnspecified Kind = iota
	KindText
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unspecified"
	}
}

// Ordered reports whether values of the kind support gt/gte/lt/lte.
func (k Kind) Ordered() bool {
	return k == KindInt || k == KindFloat || k == KindTime
}

// Sortable reports whether the kind can appear in an ordering clause.
// Text sorts lexically even though it is not Ordered for comparisons.
func (k Kind) Sortable() bool {
	return k.Ordered() || k == KindText || k == KindBool
}

// FieldInfo describes one declared field of a shape.
type FieldInfo struct {
	Name     string
	Kind     Kind
	Nullable bool
	// Computed fields have a getter only and cannot be used as selectors
	// in policies, ordering or filters.
	Computed bool
}

// Relation links a shape to another registered entity.
// LocalField on this shape is matched against ForeignField on Target.
type Relation struct {
	Name         string
	Target       string
	LocalField   string
	ForeignField string
	Many         bool
}

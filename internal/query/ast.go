// Package query turns caller-supplied filter, ordering and paging input into
// validated instructions over an entity shape.
//
// Parsing (ParseFilter, DecodeFilter) produces a Node tree without looking at
// any shape. Compile then checks the tree against a shape and returns a
// Predicate closure. Keeping the two apart lets the grammar evolve under a
// version prefix without touching predicate semantics.
package query

import (
	"fmt"
	"strings"
)

// Operator identifies a comparison operator.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpNin
	OpContains
	OpStartsWith
	OpEndsWith
	OpIsNull
)

var operatorNames = map[Operator]string{
	OpEq:         "eq",
	OpNeq:        "neq",
	OpLt:         "lt",
	OpLte:        "lte",
	OpGt:         "gt",
	OpGte:        "gte",
	OpIn:         "in",
	OpNin:        "nin",
	OpContains:   "contains",
	OpStartsWith: "startsWith",
	OpEndsWith:   "endsWith",
	OpIsNull:     "isNull",
}

func (op Operator) String() string {
	if s, ok := operatorNames[op]; ok {
		return s
	}
	return "unspecified"
}

// ParseOperator maps an operator token to its value. Matching is
// case-insensitive so "startswith" and "startsWith" are the same operator.
func ParseOperator(s string) (Operator, bool) {
	for op, name := range operatorNames {
		if strings.EqualFold(name, s) {
			return op, true
		}
	}
	return OpUnspecified, false
}

// LogicalKind is the connective of a Logical node.
type LogicalKind int

const (
	And LogicalKind = iota + 1
	Or
)

func (k LogicalKind) String() string {
	if k == Or {
		return "or"
	}
	return "and"
}

// Node is a filter expression tree.
type Node interface {
	node()
	String() string
}

// Comparison tests one field against a literal. Value holds the decoded
// literal (string, float64, int64, bool, nil or []any) before coercion.
type Comparison struct {
	Field string
	Op    Operator
	Value any
}

// Logical combines operands with and/or.
type Logical struct {
	Kind     LogicalKind
	Operands []Node
}

// Not negates its operand.
type Not struct {
	Operand Node
}

func (Comparison) node() {}
func (Logical) node()    {}
func (Not) node()        {}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, formatLiteral(c.Value))
}

func (l Logical) String() string {
	parts := make([]string, len(l.Operands))
	for i, op := range l.Operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, " "+l.Kind.String()+" ") + ")"
}

func (n Not) String() string {
	return "not " + n.Operand.String()
}

// Eq is shorthand for an equality comparison, used by row filters.
func Eq(field string, value any) Node {
	return Comparison{Field: field, Op: OpEq, Value: value}
}

// AllOf joins nodes with and, skipping nils. Returns nil when nothing remains.
func AllOf(nodes ...Node) Node {
	var operands []Node
	for _, n := range nodes {
		if n != nil {
			operands = append(operands, n)
		}
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return Logical{Kind: And, Operands: operands}
	}
}

func formatLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}

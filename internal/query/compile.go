// internal/query/compile.go
package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

/*
 * Filter compilation.
 *
 * Compiles a Node tree against an entity shape into a Predicate closure.
 *
 * Compilation workflow:
 *   1. Collect every field the tree references and reject unknown or
 *      computed ones in a single error naming all of them
 *   2. Check operator/kind compatibility per comparison
 *   3. Coerce literals into the field kind (entity.Coerce)
 *   4. Order and/or operands by ascending cost (stable sort for determinism)
 *
 * Operator/kind matrix:
 *   - eq, neq, in, nin, isNull: any kind
 *   - gt, gte, lt, lte:         int, float, time
 *   - contains, startsWith, endsWith: text
 *
 * All failures are types.ErrValidation carrying the offending field names.
 * Nothing here touches storage, so a failed compile leaves no side effects.
 */

// MaxInValues bounds the literal list of in/nin.
const MaxInValues = 256

// Predicate reports whether a record matches. A nil Predicate matches
// every record.
type Predicate func(rec any) bool

// Match evaluates p, treating nil as match-all.
func (p Predicate) Match(rec any) bool {
	return p == nil || p(rec)
}

// compiledNode is an evaluable node with its estimated cost.
type compiledNode struct {
	cost int
	eval func(rec any) bool
}

// Compile validates node against shape and returns its predicate.
// A nil node compiles to a nil (match-all) predicate.
func Compile(node Node, shape entity.Shape) (Predicate, error) {
	if node == nil {
		return nil, nil
	}

	var bad []string
	seen := map[string]bool{}
	walkFields(node, func(field string) {
		if seen[field] {
			return
		}
		seen[field] = true
		if f, ok := shape.Field(field); !ok || f.Computed {
			bad = append(bad, field)
		}
	})
	if len(bad) > 0 {
		return nil, types.FieldError(types.ErrValidation, "unknown filter field", bad...)
	}

	c, err := compileNode(node, shape)
	if err != nil {
		return nil, err
	}
	return Predicate(c.eval), nil
}

// AllPredicates composes predicates with logical and, skipping nils.
func AllPredicates(preds ...Predicate) Predicate {
	var live []Predicate
	for _, p := range preds {
		if p != nil {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(rec any) bool {
		for _, p := range live {
			if !p(rec) {
				return false
			}
		}
		return true
	}
}

// Fields returns the distinct field names referenced by node, in first-seen order.
func Fields(node Node) []string {
	var out []string
	seen := map[string]bool{}
	walkFields(node, func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	})
	return out
}

func walkFields(node Node, fn func(string)) {
	switch n := node.(type) {
	case Comparison:
		fn(n.Field)
	case Logical:
		for _, op := range n.Operands {
			walkFields(op, fn)
		}
	case Not:
		walkFields(n.Operand, fn)
	}
}

func compileNode(node Node, shape entity.Shape) (compiledNode, error) {
	switch n := node.(type) {
	case Comparison:
		return compileComparison(n, shape)
	case Logical:
		return compileLogical(n, shape)
	case Not:
		if n.Operand == nil {
			return compiledNode{}, types.Errorf(types.ErrValidation, "invalid filter: not requires an operand")
		}
		inner, err := compileNode(n.Operand, shape)
		if err != nil {
			return compiledNode{}, err
		}
		return compiledNode{
			cost: inner.cost,
			eval: func(rec any) bool { return !inner.eval(rec) },
		}, nil
	default:
		return compiledNode{}, types.Errorf(types.ErrValidation, "invalid filter: unsupported node %T", node)
	}
}

func compileLogical(n Logical, shape entity.Shape) (compiledNode, error) {
	if len(n.Operands) == 0 {
		return compiledNode{}, types.Errorf(types.ErrValidation, "invalid filter: %s requires at least one operand", n.Kind)
	}

	operands := make([]compiledNode, 0, len(n.Operands))
	total := 0
	for _, op := range n.Operands {
		if op == nil {
			return compiledNode{}, types.Errorf(types.ErrValidation, "invalid filter: %s operand is empty", n.Kind)
		}
		c, err := compileNode(op, shape)
		if err != nil {
			return compiledNode{}, err
		}
		operands = append(operands, c)
		total += c.cost
	}

	// Stable sort: equal-cost operands keep their written order
	sort.SliceStable(operands, func(i, j int) bool {
		return operands[i].cost < operands[j].cost
	})

	if n.Kind == Or {
		return compiledNode{cost: total, eval: func(rec any) bool {
			for _, c := range operands {
				if c.eval(rec) {
					return true
				}
			}
			return false
		}}, nil
	}
	return compiledNode{cost: total, eval: func(rec any) bool {
		for _, c := range operands {
			if !c.eval(rec) {
				return false
			}
		}
		return true
	}}, nil
}

// compileComparison checks operator/kind compatibility and coerces the literal.
func compileComparison(c Comparison, shape entity.Shape) (compiledNode, error) {
	field, _ := shape.Field(c.Field)

	if err := checkOperator(c.Op, field); err != nil {
		return compiledNode{}, err
	}

	target, err := compileTarget(c, field)
	if err != nil {
		return compiledNode{}, err
	}

	name, op := c.Field, c.Op
	return compiledNode{
		cost: CalculateComparisonCost(op, field),
		eval: func(rec any) bool {
			v, err := shape.Get(rec, name)
			if err != nil {
				return false
			}
			return Compare(op, v, target)
		},
	}, nil
}

func checkOperator(op Operator, field entity.FieldInfo) error {
	switch op {
	case OpEq, OpNeq, OpIn, OpNin, OpIsNull:
		return nil
	case OpLt, OpLte, OpGt, OpGte:
		if field.Kind.Ordered() {
			return nil
		}
	case OpContains, OpStartsWith, OpEndsWith:
		if field.Kind == entity.KindText {
			return nil
		}
	default:
		return types.FieldError(types.ErrValidation, "invalid filter: missing operator on field", field.Name)
	}
	return &types.Error{
		Kind:    types.ErrValidation,
		Message: fmt.Sprintf("operator %s is not valid for %s field %s", op, field.Kind, field.Name),
		Fields:  []string{field.Name},
	}
}

// compileTarget coerces the comparison literal into the shape the operator
// compares against: bool for isNull, []any for in/nin, scalar otherwise.
func compileTarget(c Comparison, field entity.FieldInfo) (any, error) {
	invalid := func(reason string) error {
		return &types.Error{
			Kind:    types.ErrValidation,
			Message: fmt.Sprintf("invalid value for field %s: %s", field.Name, reason),
			Fields:  []string{field.Name},
		}
	}

	switch c.Op {
	case OpIsNull:
		switch v := c.Value.(type) {
		case nil:
			return true, nil
		case bool:
			return v, nil
		default:
			return nil, invalid("isNull expects true or false")
		}

	case OpIn, OpNin:
		list, ok := c.Value.([]any)
		if !ok {
			return nil, invalid(fmt.Sprintf("%s expects a list", c.Op))
		}
		if len(list) == 0 {
			return nil, invalid(fmt.Sprintf("%s expects at least one value", c.Op))
		}
		if len(list) > MaxInValues {
			return nil, invalid(fmt.Sprintf("%s accepts at most %d values", c.Op, MaxInValues))
		}
		out := make([]any, len(list))
		for i, v := range list {
			res, err := entity.Coerce(v, field.Kind)
			if err != nil {
				return nil, invalid(coercionReason(err, field.Kind))
			}
			out[i] = res.Value
		}
		return out, nil

	case OpEq, OpNeq:
		res, err := entity.Coerce(c.Value, field.Kind)
		if err != nil {
			return nil, invalid(coercionReason(err, field.Kind))
		}
		return res.Value, nil

	default:
		if c.Value == nil {
			return nil, invalid(fmt.Sprintf("%s requires a non-null value", c.Op))
		}
		if _, isList := c.Value.([]any); isList {
			return nil, invalid(fmt.Sprintf("%s does not accept a list", c.Op))
		}
		res, err := entity.Coerce(c.Value, field.Kind)
		if err != nil {
			return nil, invalid(coercionReason(err, field.Kind))
		}
		return res.Value, nil
	}
}

func coercionReason(err error, kind entity.Kind) string {
	if errors.Is(err, entity.ErrCoercionFailed) {
		return "expected " + kind.String()
	}
	return err.Error()
}

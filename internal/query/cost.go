// internal/query/cost.go
package query

import "github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"

/*
 * Cost model for predicate evaluation.
 *
 * Compiled and/or groups evaluate their operands in ascending cost order so
 * that cheap checks short-circuit expensive ones. Ordering never changes the
 * result of a group, only how much work a non-matching record costs.
 *
 * Cost formula: operator_cost * kind_multiplier, summed for nested groups.
 */

const (
	// Operator base costs
	CostIsNull   = 1
	CostEq       = 5
	CostNeq      = 5
	CostOrdered  = 7
	CostIn       = 8
	CostPrefix   = 10
	CostContains = 12

	// Kind multipliers
	MultiplierBool  = 1
	MultiplierInt   = 1
	MultiplierFloat = 4
	MultiplierTime  = 4
	MultiplierText  = 48
)

// CalculateComparisonCost computes the cost of one compiled comparison.
func CalculateComparisonCost(op Operator, field entity.FieldInfo) int {
	return operatorCost(op) * kindMultiplier(field.Kind)
}

func operatorCost(op Operator) int {
	switch op {
	case OpIsNull:
		return CostIsNull
	case OpEq, OpNeq:
		return CostEq
	case OpLt, OpLte, OpGt, OpGte:
		return CostOrdered
	case OpIn, OpNin:
		return CostIn
	case OpStartsWith, OpEndsWith:
		return CostPrefix
	case OpContains:
		return CostContains
	default:
		return CostEq
	}
}

func kindMultiplier(k entity.Kind) int {
	switch k {
	case entity.KindBool:
		return MultiplierBool
	case entity.KindInt:
		return MultiplierInt
	case entity.KindFloat:
		return MultiplierFloat
	case entity.KindTime:
		return MultiplierTime
	default:
		return MultiplierText
	}
}

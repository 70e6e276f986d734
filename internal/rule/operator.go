package rule

import "grimm.is/nymectl/internal/thing"

// compare evaluates lhs OP rhs. Each operator is implemented as its own
// literal, independent comparison — there is no shared aliasing between
// the four ordering operators.
func compare(lhs thing.Value, op Operator, rhs thing.Value) bool {
	switch op {
	case OpEqual:
		return lhs.Equal(rhs)
	case OpNotEqual:
		return !lhs.Equal(rhs)
	case OpLess:
		less, ok := lhs.Less(rhs)
		return ok && less
	case OpLessOrEqual:
		less, ok := lhs.Less(rhs)
		if !ok {
			return false
		}
		return less || lhs.Equal(rhs)
	case OpGreater:
		less, ok := rhs.Less(lhs)
		return ok && less
	case OpGreaterOrEqual:
		less, ok := rhs.Less(lhs)
		if !ok {
			return false
		}
		return less || lhs.Equal(rhs)
	default:
		return false
	}
}

func validOperator(op Operator) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		return true
	}
	return false
}

package queryir

import (
	"errors"
	"fmt"
)

// Comparison operators. Their operands follow the client's loose rules:
// = and <> treat null as equal only to null; ordering operators compare
// numbers with null read as 0, and strings otherwise.
var comparisonOps = map[string]bool{
	"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true,
}

var orderingOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true,
}

var arithmeticOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
}

// IsComparison reports whether op is a comparison operator.
func IsComparison(op string) bool { return comparisonOps[op] }

// IsOrdering reports whether op is <, <=, > or >=.
func IsOrdering(op string) bool { return orderingOps[op] }

// IsArithmetic reports whether op is an arithmetic operator.
func IsArithmetic(op string) bool { return arithmeticOps[op] }

// IsBoolean reports whether s always evaluates to true or false: a
// comparison, a null test or a logical combination of those.
func IsBoolean(s Scalar) bool {
	switch e := s.(type) {
	case Binary:
		return comparisonOps[e.Op] || e.Op == "AND" || e.Op == "OR"
	case Unary:
		return e.Op == OpNot
	case IsNull:
		return true
	default:
		return false
	}
}

// StringFuncs lists the functions that return strings.
var StringFuncs = map[string]bool{"lower": true, "upper": true}

// CheckPredicate reports whether s can be evaluated as a filter predicate
// with the client's semantics:
//
//   - boolean positions (the predicate, operands of AND, OR and NOT, and
//     CASE tests) hold comparisons, null tests or constants; a bare column
//     or arithmetic value would be tested for truthiness, which depends on
//     its runtime type;
//   - value positions never hold boolean operators;
//   - an ordering comparison has an operand of known type, so that null
//     handling follows the client (null reads as 0 against numbers).
func CheckPredicate(s Scalar) error {
	return checkBoolean(s)
}

func checkBoolean(s Scalar) error {
	switch e := s.(type) {
	case Literal, Param:
		return nil
	case Unary:
		if e.Op != OpNot {
			return errors.New("a number is used as a condition")
		}
		return checkBoolean(e.X)
	case Binary:
		switch {
		case e.Op == "AND" || e.Op == "OR":
			if err := checkBoolean(e.Left); err != nil {
				return err
			}
			return checkBoolean(e.Right)
		case comparisonOps[e.Op]:
			return checkComparison(e)
		default:
			return errors.New("a number is used as a condition")
		}
	case IsNull:
		return checkValue(e.X)
	case Case:
		if err := checkBoolean(e.Test); err != nil {
			return err
		}
		if err := checkBoolean(e.Then); err != nil {
			return err
		}
		return checkBoolean(e.Else)
	case Column:
		return fmt.Errorf("field %s is used as a condition; compare it explicitly", e.Field)
	case Func:
		return fmt.Errorf("%s() is used as a condition; compare it explicitly", e.Name)
	default:
		return fmt.Errorf("unsupported expression %T", s)
	}
}

func checkComparison(e Binary) error {
	if err := checkValue(e.Left); err != nil {
		return err
	}
	if err := checkValue(e.Right); err != nil {
		return err
	}
	if orderingOps[e.Op] && !typed(e.Left) && !typed(e.Right) {
		return fmt.Errorf("%s between two untyped values has no portable null handling", e.Op)
	}
	return nil
}

func checkValue(s Scalar) error {
	if IsBoolean(s) {
		return errors.New("a condition is used as a value")
	}
	switch e := s.(type) {
	case Unary:
		return checkValue(e.X)
	case Binary:
		if err := checkValue(e.Left); err != nil {
			return err
		}
		return checkValue(e.Right)
	case Func:
		for _, a := range e.Args {
			if err := checkValue(a); err != nil {
				return err
			}
		}
	case Case:
		if err := checkBoolean(e.Test); err != nil {
			return err
		}
		if err := checkValue(e.Then); err != nil {
			return err
		}
		return checkValue(e.Else)
	}
	return nil
}

// typed reports whether the runtime type of s is known from the
// expression alone: constants, arithmetic and function results.
func typed(s Scalar) bool {
	switch e := s.(type) {
	case Literal, Param, Func:
		return true
	case Unary:
		return e.Op == OpNeg
	case Binary:
		return arithmeticOps[e.Op]
	default:
		return false
	}
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package domain

// Normalize rewrites an expression into negation normal form: negations are
// pushed down to the leaves (flipping each operator to its complement),
// double negations cancel, and same-combinator chains flatten into one
// level. Normalize is idempotent.
func Normalize(expr Expression) Expression {
	switch t := expr.(type) {
	case Leaf:
		return t
	case And:
		operands := make([]Expression, 0, len(t.Operands))
		for _, operand := range t.Operands {
			operands = append(operands, Normalize(operand))
		}

		return NewAnd(operands...)
	case Or:
		operands := make([]Expression, 0, len(t.Operands))
		for _, operand := range t.Operands {
			operands = append(operands, Normalize(operand))
		}

		return NewOr(operands...)
	case Not:
		return normalizeNot(t.Operand)
	default:
		return expr
	}
}

// normalizeNot pushes one negation into operand.
func normalizeNot(operand Expression) Expression {
	switch t := operand.(type) {
	case Leaf:
		if complement, ok := negations[t.Op]; ok {
			return Leaf{Path: t.Path, Op: complement, Value: t.Value}
		}

		// child_of, overlap and count keep their negation wrapper.
		return Not{Operand: t}
	case Not:
		return Normalize(t.Operand)
	case And:
		operands := make([]Expression, 0, len(t.Operands))
		for _, inner := range t.Operands {
			operands = append(operands, normalizeNot(inner))
		}

		return NewOr(operands...)
	case Or:
		operands := make([]Expression, 0, len(t.Operands))
		for _, inner := range t.Operands {
			operands = append(operands, normalizeNot(inner))
		}

		return NewAnd(operands...)
	default:
		return Not{Operand: operand}
	}
}

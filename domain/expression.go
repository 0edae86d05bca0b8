// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package domain parses, normalizes and compiles the prefix-notated domain
// language into store-native filters and pipelines.
package domain

// Operator enumerates the leaf predicates.
type Operator string

const (
	OpEq        Operator = "="
	OpNe        Operator = "!="
	OpGt        Operator = ">"
	OpGte       Operator = ">="
	OpLt        Operator = "<"
	OpLte       Operator = "<="
	OpLike      Operator = "like"
	OpILike     Operator = "ilike"
	OpNotLike   Operator = "not like"
	OpNotILike  Operator = "not ilike"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not in"
	OpIsNull    Operator = "is null"
	OpIsNotNull Operator = "is not null"
	OpChildOf   Operator = "child_of"
	OpOverlap   Operator = "overlap"
	OpCount     Operator = "count"
)

// knownOperators gates the parser.
var knownOperators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpLike: {}, OpILike: {}, OpNotLike: {}, OpNotILike: {},
	OpIn: {}, OpNotIn: {}, OpIsNull: {}, OpIsNotNull: {},
	OpChildOf: {}, OpOverlap: {}, OpCount: {},
}

// negations maps each operator to its complement. Operators absent here
// cannot be pushed through a negation and keep their Not wrapper.
var negations = map[Operator]Operator{
	OpEq:        OpNe,
	OpNe:        OpEq,
	OpGt:        OpLte,
	OpGte:       OpLt,
	OpLt:        OpGte,
	OpLte:       OpGt,
	OpLike:      OpNotLike,
	OpNotLike:   OpLike,
	OpILike:     OpNotILike,
	OpNotILike:  OpILike,
	OpIn:        OpNotIn,
	OpNotIn:     OpIn,
	OpIsNull:    OpIsNotNull,
	OpIsNotNull: OpIsNull,
}

// Expression is a node of the domain tree: a Leaf or a combinator.
type Expression interface {
	isExpression()
}

// Leaf is one (field path, operator, value) predicate.
type Leaf struct {
	Path  string
	Op    Operator
	Value any
}

func (Leaf) isExpression() {}

// And matches when every operand matches. An empty And matches everything.
type And struct {
	Operands []Expression
}

func (And) isExpression() {}

// Or matches when at least one operand matches.
type Or struct {
	Operands []Expression
}

func (Or) isExpression() {}

// Not inverts its operand.
type Not struct {
	Operand Expression
}

func (Not) isExpression() {}

// NewAnd builds a conjunction, folding nested Ands into one level.
func NewAnd(operands ...Expression) Expression {
	flat := flatten(operands, func(e Expression) ([]Expression, bool) {
		if a, ok := e.(And); ok {
			return a.Operands, true
		}
		return nil, false
	})

	if len(flat) == 1 {
		return flat[0]
	}

	return And{Operands: flat}
}

// NewOr builds a disjunction, folding nested Ors into one level.
func NewOr(operands ...Expression) Expression {
	flat := flatten(operands, func(e Expression) ([]Expression, bool) {
		if o, ok := e.(Or); ok {
			return o.Operands, true
		}
		return nil, false
	})

	if len(flat) == 1 {
		return flat[0]
	}

	return Or{Operands: flat}
}

func flatten(operands []Expression, unwrap func(Expression) ([]Expression, bool)) []Expression {
	out := make([]Expression, 0, len(operands))

	for _, operand := range operands {
		if inner, ok := unwrap(operand); ok {
			out = append(out, inner...)

			continue
		}

		out = append(out, operand)
	}

	return out
}

// MatchAll is the empty domain: equivalent to no constraint.
func MatchAll() Expression {
	return And{}
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package domain

import (
	"fmt"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
)

// Combinator tokens in the prefix list form.
const (
	tokenAnd = "&"
	tokenOr  = "|"
	tokenNot = "!"
)

func syntaxError(detail string) error {
	return norm.ValidateBusinessError(cn.ErrDomainSyntax, "domain", detail)
}

// Parse reads a prefix-notated domain list into an expression tree. The
// combinator tokens "&" and "|" consume two operands, "!" consumes one;
// leaves are [path, op] or [path, op, value] triples. Successive terms
// without an explicit combinator join under an implicit AND. An empty list
// yields the match-all domain.
func Parse(terms []any) (Expression, error) {
	pos := 0

	var parseOne func() (Expression, error)

	parseOne = func() (Expression, error) {
		if pos >= len(terms) {
			return nil, syntaxError("operator is missing an operand")
		}

		term := terms[pos]
		pos++

		if token, ok := term.(string); ok {
			switch token {
			case tokenAnd, tokenOr:
				left, err := parseOne()
				if err != nil {
					return nil, err
				}

				right, err := parseOne()
				if err != nil {
					return nil, err
				}

				if token == tokenAnd {
					return NewAnd(left, right), nil
				}

				return NewOr(left, right), nil
			case tokenNot:
				operand, err := parseOne()
				if err != nil {
					return nil, err
				}

				return Not{Operand: operand}, nil
			default:
				return nil, syntaxError(fmt.Sprintf("unknown combinator %q", token))
			}
		}

		return parseLeaf(term)
	}

	var parsed []Expression

	for pos < len(terms) {
		expr, err := parseOne()
		if err != nil {
			return nil, err
		}

		parsed = append(parsed, expr)
	}

	if len(parsed) == 0 {
		return MatchAll(), nil
	}

	return NewAnd(parsed...), nil
}

func parseLeaf(term any) (Expression, error) {
	switch t := term.(type) {
	case Leaf:
		if _, ok := knownOperators[t.Op]; !ok {
			return nil, syntaxError(fmt.Sprintf("unknown operator %q", t.Op))
		}

		return t, nil
	case []any:
		if len(t) != 2 && len(t) != 3 {
			return nil, syntaxError(fmt.Sprintf("leaf must have 2 or 3 elements, got %d", len(t)))
		}

		path, ok := t[0].(string)
		if !ok {
			return nil, syntaxError("leaf field path must be a string")
		}

		opStr, ok := t[1].(string)
		if !ok {
			return nil, syntaxError("leaf operator must be a string")
		}

		op := Operator(opStr)
		if _, ok := knownOperators[op]; !ok {
			return nil, syntaxError(fmt.Sprintf("unknown operator %q", opStr))
		}

		var value any
		if len(t) == 3 {
			value = t[2]
		}

		return Leaf{Path: path, Op: op, Value: value}, nil
	default:
		return nil, syntaxError(fmt.Sprintf("unexpected term %T", term))
	}
}

// Serialize renders an expression back into its prefix list form, so that
// Parse(Serialize(e)) reproduces e for every parsed expression.
func Serialize(expr Expression) []any {
	switch t := expr.(type) {
	case Leaf:
		if t.Value == nil && (t.Op == OpIsNull || t.Op == OpIsNotNull) {
			return []any{[]any{t.Path, string(t.Op)}}
		}

		return []any{[]any{t.Path, string(t.Op), t.Value}}
	case And:
		return serializeChain(tokenAnd, t.Operands)
	case Or:
		return serializeChain(tokenOr, t.Operands)
	case Not:
		out := []any{tokenNot}
		return append(out, Serialize(t.Operand)...)
	default:
		return nil
	}
}

func serializeChain(token string, operands []Expression) []any {
	if len(operands) == 0 {
		return []any{}
	}

	var out []any

	for i := 0; i < len(operands)-1; i++ {
		out = append(out, token)
	}

	for _, operand := range operands {
		out = append(out, Serialize(operand)...)
	}

	return out
}

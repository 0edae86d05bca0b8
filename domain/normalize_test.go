package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Expression
		want Expression
	}{
		{
			name: "negated equality flips to inequality",
			in:   Not{Operand: Leaf{Path: "name", Op: OpEq, Value: "x"}},
			want: Leaf{Path: "name", Op: OpNe, Value: "x"},
		},
		{
			name: "double negation cancels",
			in:   Not{Operand: Not{Operand: Leaf{Path: "name", Op: OpEq, Value: "x"}}},
			want: Leaf{Path: "name", Op: OpEq, Value: "x"},
		},
		{
			name: "de morgan over and",
			in: Not{Operand: And{Operands: []Expression{
				Leaf{Path: "a", Op: OpEq, Value: 1},
				Leaf{Path: "b", Op: OpLt, Value: 2},
			}}},
			want: Or{Operands: []Expression{
				Leaf{Path: "a", Op: OpNe, Value: 1},
				Leaf{Path: "b", Op: OpGte, Value: 2},
			}},
		},
		{
			name: "nested and chains flatten",
			in: And{Operands: []Expression{
				And{Operands: []Expression{
					Leaf{Path: "a", Op: OpEq, Value: 1},
					Leaf{Path: "b", Op: OpEq, Value: 2},
				}},
				Leaf{Path: "c", Op: OpEq, Value: 3},
			}},
			want: And{Operands: []Expression{
				Leaf{Path: "a", Op: OpEq, Value: 1},
				Leaf{Path: "b", Op: OpEq, Value: 2},
				Leaf{Path: "c", Op: OpEq, Value: 3},
			}},
		},
		{
			name: "negated not like flips back",
			in:   Not{Operand: Leaf{Path: "name", Op: OpNotLike, Value: "%x%"}},
			want: Leaf{Path: "name", Op: OpLike, Value: "%x%"},
		},
		{
			name: "non-negatable operator keeps its wrapper",
			in:   Not{Operand: Leaf{Path: "parent", Op: OpChildOf, Value: "root"}},
			want: Not{Operand: Leaf{Path: "parent", Op: OpChildOf, Value: "root"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	domains := []Expression{
		Leaf{Path: "a", Op: OpEq, Value: 1},
		Not{Operand: Leaf{Path: "a", Op: OpEq, Value: 1}},
		Not{Operand: Or{Operands: []Expression{
			Leaf{Path: "a", Op: OpIn, Value: []any{1, 2}},
			Not{Operand: Leaf{Path: "b", Op: OpIsNull}},
		}}},
		And{Operands: []Expression{
			And{Operands: []Expression{Leaf{Path: "a", Op: OpEq, Value: 1}}},
			Not{Operand: Leaf{Path: "p", Op: OpChildOf, Value: "r"}},
		}},
		MatchAll(),
	}

	for _, d := range domains {
		once := Normalize(d)
		twice := Normalize(once)
		require.Equal(t, once, twice)
	}
}

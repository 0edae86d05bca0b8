// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package security

import (
	"sort"
	"strings"

	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/domain"
	"github.com/LerianStudio/lib-norm/model"
)

// RuleEngine resolves the record rules that additionally constrain a user's
// access to rows of a model. Rules are additive constraints: the result is
// the conjunction of every matching rule's domain, so they can only narrow
// what the caller's own domain selects.
type RuleEngine struct {
	Registry *model.Registry
}

// DomainFor returns the conjunction of every active rule domain matching
// (model, op) for the user, ordered by priority descending. Superusers
// bypass rules entirely; the empty conjunction matches all.
func (e *RuleEngine) DomainFor(user *User, modelName string, op cn.Operation) (domain.Expression, error) {
	if user != nil && user.Superuser {
		return domain.MatchAll(), nil
	}

	m, err := e.Registry.Model(modelName)
	if err != nil {
		return nil, err
	}

	member := map[string]struct{}{}
	if user != nil {
		member = user.memberships()
	}

	matching := make([]model.RuleSpec, 0, len(m.Rules))

	for _, rule := range m.Rules {
		if !rule.Active || rule.Operation != op {
			continue
		}

		if len(rule.Groups) > 0 {
			applies := false

			for _, g := range rule.Groups {
				if _, ok := member[g]; ok {
					applies = true
					break
				}
			}

			if !applies {
				continue
			}
		}

		matching = append(matching, rule)
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority > matching[j].Priority
	})

	operands := make([]domain.Expression, 0, len(matching))

	for _, rule := range matching {
		expr, err := domain.Parse(rule.Domain)
		if err != nil {
			return nil, err
		}

		operands = append(operands, substituteUser(expr, user))
	}

	if len(operands) == 0 {
		return domain.MatchAll(), nil
	}

	return domain.NewAnd(operands...), nil
}

// substituteUser resolves "user.<attribute>" leaf values against the current
// user identity.
func substituteUser(expr domain.Expression, user *User) domain.Expression {
	switch t := expr.(type) {
	case domain.Leaf:
		t.Value = substituteValue(t.Value, user)
		return t
	case domain.And:
		operands := make([]domain.Expression, len(t.Operands))
		for i, operand := range t.Operands {
			operands[i] = substituteUser(operand, user)
		}

		return domain.And{Operands: operands}
	case domain.Or:
		operands := make([]domain.Expression, len(t.Operands))
		for i, operand := range t.Operands {
			operands[i] = substituteUser(operand, user)
		}

		return domain.Or{Operands: operands}
	case domain.Not:
		return domain.Not{Operand: substituteUser(t.Operand, user)}
	default:
		return expr
	}
}

func substituteValue(value any, user *User) any {
	s, ok := value.(string)
	if !ok || user == nil || !strings.HasPrefix(s, "user.") {
		return value
	}

	attr := strings.TrimPrefix(s, "user.")
	if attr == "id" {
		return user.ID
	}

	if resolved, ok := user.Attributes[attr]; ok {
		return resolved
	}

	return value
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package model

import (
	"fmt"
	"strings"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
)

// RegistryError records a model declaration inconsistency found while
// freezing the registry.
type RegistryError struct {
	Model   string
	Field   string
	Message string
	Code    error
}

func (e RegistryError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("registry: model %s field %s: %s", e.Model, e.Field, e.Message)
	}

	return fmt.Sprintf("registry: model %s: %s", e.Model, e.Message)
}

func (e RegistryError) Unwrap() error { return e.Code }

// PathHop is one relational step in a resolved field path.
type PathHop struct {
	Model *Model
	Field *Field
}

// Registry is the frozen set of models ready for runtime use. It is
// read-only after BuildRegistry returns and safe to share across tasks.
type Registry struct {
	models     map[string]*Model
	modelOrder []string

	// dependents maps model → stored field → computed fields of the same
	// model that must be recomputed or invalidated when it changes.
	dependents map[string]map[string][]string
}

// BuildRegistry resolves the declarations into a frozen Registry.
func BuildRegistry(declarations []*Declaration) (*Registry, error) {
	byName := make(map[string]*Declaration, len(declarations))

	for _, decl := range declarations {
		if _, dup := byName[decl.Name]; dup {
			return nil, RegistryError{Model: decl.Name, Message: "declared twice", Code: cn.ErrRegistryFrozen}
		}

		byName[decl.Name] = decl
	}

	order, err := topoOrder(byName)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		models:     make(map[string]*Model, len(order)),
		modelOrder: order,
		dependents: map[string]map[string][]string{},
	}

	for _, name := range order {
		m, err := r.resolve(byName[name])
		if err != nil {
			return nil, err
		}

		r.models[name] = m
	}

	if err := r.checkRelations(); err != nil {
		return nil, err
	}

	if err := r.buildComputeGraph(); err != nil {
		return nil, err
	}

	return r, nil
}

// topoOrder sorts declarations parents-first along inheritance and
// delegation edges.
func topoOrder(byName map[string]*Declaration) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := map[string]int{}

	var order []string

	var visit func(name string) error

	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return RegistryError{Model: name, Message: "inheritance cycle", Code: cn.ErrRegistryDependencyCycle}
		}

		state[name] = visiting

		decl := byName[name]

		parents := append([]string{}, decl.InheritsFrom...)
		for parent := range decl.DelegatesTo {
			parents = append(parents, parent)
		}

		for _, parent := range parents {
			if _, ok := byName[parent]; !ok {
				return RegistryError{Model: name, Message: fmt.Sprintf("unresolved parent %s", parent), Code: cn.ErrRegistryUnresolvedParent}
			}

			if err := visit(parent); err != nil {
				return err
			}
		}

		state[name] = done
		order = append(order, name)

		return nil
	}

	// Deterministic outer iteration keeps error attribution stable.
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	sortStrings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// resolve merges parent fields, applies local overrides and generates the
// delegation-related fields for one declaration. Parents are already frozen.
func (r *Registry) resolve(decl *Declaration) (*Model, error) {
	m := &Model{
		Name:            decl.Name,
		Collection:      decl.Collection,
		fields:          map[string]*Field{},
		Indexes:         append([]IndexSpec{}, decl.Indexes...),
		InheritsFrom:    append([]string{}, decl.InheritsFrom...),
		DelegatesTo:     decl.DelegatesTo,
		ACL:             decl.ACL,
		Rules:           append([]RuleSpec{}, decl.Rules...),
		AuditSpec:       decl.AuditSpec,
		SoftDelete:      decl.SoftDelete,
		CrossValidators: append([]ModelValidator{}, decl.CrossValidators...),
	}

	if m.Collection == "" {
		m.Collection = strings.ReplaceAll(decl.Name, ".", "_")
	}

	add := func(f *Field) error {
		if existing, ok := m.fields[f.Name]; ok {
			if !existing.compatibleWith(f) {
				return RegistryError{
					Model:   decl.Name,
					Field:   f.Name,
					Message: fmt.Sprintf("override changes kind %s to %s without an override marker", existing.Kind, f.Kind),
					Code:    cn.ErrRegistryIncompatibleOverride,
				}
			}

			m.fields[f.Name] = f

			return nil
		}

		m.fieldOrder = append(m.fieldOrder, f.Name)
		m.fields[f.Name] = f

		return nil
	}

	// Extension parents first, in declaration order; later parents override
	// earlier ones under the same compatibility rule.
	for _, parent := range decl.InheritsFrom {
		pm := r.models[parent]
		for _, name := range pm.fieldOrder {
			if err := add(pm.fields[name]); err != nil {
				return nil, err
			}
		}
	}

	for _, f := range decl.Fields {
		if err := add(f); err != nil {
			return nil, err
		}
	}

	if _, ok := m.fields["id"]; !ok {
		idField := &Field{Name: "id", Kind: KindObjectID, ReadOnly: true}
		m.fieldOrder = append([]string{"id"}, m.fieldOrder...)
		m.fields["id"] = idField
	}

	// Delegation: every parent field surfaces as a virtual related field
	// resolved through the delegate relation.
	for parent, relField := range decl.DelegatesTo {
		rel, ok := m.fields[relField]
		if !ok {
			return nil, RegistryError{
				Model:   decl.Name,
				Field:   relField,
				Message: fmt.Sprintf("delegation to %s references an undeclared relation field", parent),
				Code:    cn.ErrRegistryUnresolvedParent,
			}
		}

		if !rel.Kind.IsRelational() || rel.Relation == nil || rel.Relation.Model != parent {
			return nil, RegistryError{
				Model:   decl.Name,
				Field:   relField,
				Message: fmt.Sprintf("delegation field must be a relation to %s", parent),
				Code:    cn.ErrRegistryUnresolvedParent,
			}
		}

		pm := r.models[parent]
		for _, name := range pm.fieldOrder {
			if name == "id" {
				continue
			}

			if _, taken := m.fields[name]; taken {
				continue
			}

			pf := pm.fields[name]
			virtual := &Field{
				Name:        name,
				Kind:        pf.Kind,
				Relation:    pf.Relation,
				Choices:     pf.Choices,
				Elem:        pf.Elem,
				RelatedPath: relField + "." + name,
			}

			m.fieldOrder = append(m.fieldOrder, name)
			m.fields[name] = virtual
		}
	}

	return m, nil
}

// checkRelations verifies relation targets exist and one2many inverses
// resolve to a many2one on the target model.
func (r *Registry) checkRelations() error {
	for _, name := range r.modelOrder {
		m := r.models[name]

		for _, fieldName := range m.fieldOrder {
			f := m.fields[fieldName]
			if !f.Kind.IsRelational() {
				continue
			}

			if f.Relation == nil {
				return RegistryError{Model: name, Field: fieldName, Message: "relational field without a relation spec", Code: cn.ErrRegistryMissingInverse}
			}

			target, ok := r.models[f.Relation.Model]
			if !ok {
				return RegistryError{Model: name, Field: fieldName, Message: fmt.Sprintf("relation target %s is not registered", f.Relation.Model), Code: cn.ErrRegistryUnresolvedParent}
			}

			if f.Kind == KindOne2Many {
				if f.Relation.Inverse == "" {
					return RegistryError{Model: name, Field: fieldName, Message: "one2many requires an inverse field", Code: cn.ErrRegistryMissingInverse}
				}

				inv, ok := target.fields[f.Relation.Inverse]
				if !ok || inv.Kind != KindMany2One {
					return RegistryError{Model: name, Field: fieldName, Message: fmt.Sprintf("inverse %s is not a many2one on %s", f.Relation.Inverse, target.Name), Code: cn.ErrRegistryMissingInverse}
				}
			}
		}
	}

	return nil
}

// buildComputeGraph validates compute dependencies and records the reverse
// edges used for invalidation. The graph must be acyclic.
func (r *Registry) buildComputeGraph() error {
	type node struct{ model, field string }

	edges := map[node][]node{}

	for _, name := range r.modelOrder {
		m := r.models[name]

		for _, fieldName := range m.fieldOrder {
			f := m.fields[fieldName]
			if !f.IsComputed() {
				continue
			}

			for _, dep := range f.Compute.DependsOn {
				head := dep
				if i := strings.Index(dep, "."); i >= 0 {
					head = dep[:i]
				}

				depField, ok := m.fields[head]
				if !ok {
					return RegistryError{Model: name, Field: fieldName, Message: fmt.Sprintf("compute dependency %s is not a registered field", dep), Code: cn.ErrRegistryAmbiguousFieldPath}
				}

				if strings.Contains(dep, ".") && !depField.Kind.IsRelational() && depField.Kind != KindEmbedded {
					return RegistryError{Model: name, Field: fieldName, Message: fmt.Sprintf("compute dependency %s traverses a non-relational field", dep), Code: cn.ErrRegistryAmbiguousFieldPath}
				}

				from := node{model: name, field: head}
				edges[from] = append(edges[from], node{model: name, field: fieldName})

				if _, ok := r.dependents[name]; !ok {
					r.dependents[name] = map[string][]string{}
				}

				r.dependents[name][head] = append(r.dependents[name][head], fieldName)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := map[node]int{}

	var visit func(n node) error

	visit = func(n node) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			return RegistryError{Model: n.model, Field: n.field, Message: "compute dependency cycle", Code: cn.ErrRegistryDependencyCycle}
		}

		state[n] = visiting

		for _, next := range edges[n] {
			if err := visit(next); err != nil {
				return err
			}
		}

		state[n] = done

		return nil
	}

	for from := range edges {
		if err := visit(from); err != nil {
			return err
		}
	}

	return nil
}

// Model returns the named frozen model.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, norm.ValidateBusinessError(cn.ErrModelNotFound, name, name)
	}

	return m, nil
}

// ModelNames returns every registered model name in freeze order.
func (r *Registry) ModelNames() []string {
	return append([]string{}, r.modelOrder...)
}

// DependentsOf returns the computed fields of model that depend on field.
func (r *Registry) DependentsOf(model, field string) []string {
	if byField, ok := r.dependents[model]; ok {
		return byField[field]
	}

	return nil
}

// ResolvePath walks a dotted field path from model, returning the relational
// hops crossed and the terminal field.
func (r *Registry) ResolvePath(modelName, path string) ([]PathHop, *Field, error) {
	m, err := r.Model(modelName)
	if err != nil {
		return nil, nil, err
	}

	segments := strings.Split(path, ".")

	var hops []PathHop

	for i, segment := range segments {
		f, ok := m.Field(segment)
		if !ok {
			return nil, nil, norm.ValidateBusinessError(cn.ErrFieldNotFound, m.Name, path)
		}

		if i == len(segments)-1 {
			return hops, f, nil
		}

		if !f.Kind.IsRelational() {
			return nil, nil, norm.ValidateBusinessError(cn.ErrFieldNotFound, m.Name, path)
		}

		hops = append(hops, PathHop{Model: m, Field: f})

		m, err = r.Model(f.Relation.Model)
		if err != nil {
			return nil, nil, err
		}
	}

	return nil, nil, norm.ValidateBusinessError(cn.ErrFieldNotFound, modelName, path)
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package model

import (
	cn "github.com/LerianStudio/lib-norm/constant"
)

// IndexSpec declares one index over the model's collection.
type IndexSpec struct {
	Fields []string
	Unique bool
}

// RuleSpec declares one record rule: a domain that additionally constrains
// what records the members of Groups may touch. The domain is kept in its
// raw prefix-list form and parsed by the security layer.
type RuleSpec struct {
	Operation cn.Operation
	Groups    []string
	Domain    []any
	Priority  int
	Active    bool
}

// Declaration is the raw, pre-freeze description of one model.
type Declaration struct {
	Name       string
	Collection string
	// Fields preserves declaration order; order carries no semantics beyond
	// deterministic iteration.
	Fields  []*Field
	Indexes []IndexSpec
	// InheritsFrom extends parent models: their fields merge into this one.
	InheritsFrom []string
	// DelegatesTo maps a parent model name to the local relation field that
	// embeds it; the parent's fields surface here as related fields.
	DelegatesTo map[string]string
	// ACL maps an operation to the group codes allowed to perform it.
	ACL map[cn.Operation][]string
	// Rules lists the record rules scoped to this model.
	Rules []RuleSpec
	// AuditSpec maps an operation to the fields tracked in the audit log.
	AuditSpec map[cn.Operation][]string
	// SoftDelete switches Delete to setting deleted_at instead of removing
	// the document.
	SoftDelete bool
	// CrossValidators run after per-field validation with the full value map.
	CrossValidators []ModelValidator
}

// Model is the frozen, runtime-ready form of a declaration with inherited
// and delegated fields resolved.
type Model struct {
	Name       string
	Collection string

	fieldOrder []string
	fields     map[string]*Field

	Indexes      []IndexSpec
	InheritsFrom []string
	DelegatesTo  map[string]string
	ACL          map[cn.Operation][]string
	Rules        []RuleSpec
	AuditSpec    map[cn.Operation][]string
	SoftDelete   bool

	CrossValidators []ModelValidator
}

// Field returns the named field descriptor.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// FieldNames returns every field name in declaration order.
func (m *Model) FieldNames() []string {
	return append([]string{}, m.fieldOrder...)
}

// StoredFieldNames returns the fields that occupy document keys.
func (m *Model) StoredFieldNames() []string {
	names := make([]string, 0, len(m.fieldOrder))

	for _, name := range m.fieldOrder {
		if m.fields[name].IsStored() {
			names = append(names, name)
		}
	}

	return names
}

// PrefetchFieldNames returns the fields marked as prefetch companions.
func (m *Model) PrefetchFieldNames() []string {
	var names []string

	for _, name := range m.fieldOrder {
		if m.fields[name].Prefetch {
			names = append(names, name)
		}
	}

	return names
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package model

// FieldKind enumerates the typed kinds a field descriptor can declare.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindInteger  FieldKind = "integer"
	KindFloat    FieldKind = "float"
	KindDecimal  FieldKind = "decimal"
	KindBoolean  FieldKind = "boolean"
	KindDatetime FieldKind = "datetime"
	KindDate     FieldKind = "date"
	KindTime     FieldKind = "time"
	KindUUID     FieldKind = "uuid"
	KindObjectID FieldKind = "objectid"
	KindEnum     FieldKind = "enum"
	KindJSON     FieldKind = "json"
	KindFile     FieldKind = "file"
	KindList     FieldKind = "list"
	KindSet      FieldKind = "set"
	KindTuple    FieldKind = "tuple"
	KindDict     FieldKind = "dict"
	KindEmbedded FieldKind = "embedded"

	KindMany2One  FieldKind = "many2one"
	KindOne2Many  FieldKind = "one2many"
	KindMany2Many FieldKind = "many2many"
	KindOne2One   FieldKind = "one2one"
)

// IsRelational reports whether the kind references another model.
func (k FieldKind) IsRelational() bool {
	switch k {
	case KindMany2One, KindOne2Many, KindMany2Many, KindOne2One:
		return true
	default:
		return false
	}
}

// IsToMany reports whether the kind resolves to a set of records.
func (k FieldKind) IsToMany() bool {
	return k == KindOne2Many || k == KindMany2Many
}

// IsComposite reports whether the kind wraps element kinds.
func (k FieldKind) IsComposite() bool {
	switch k {
	case KindList, KindSet, KindTuple, KindDict, KindEmbedded:
		return true
	default:
		return false
	}
}

// IsComparable reports whether ordering operators apply to the kind.
func (k FieldKind) IsComparable() bool {
	switch k {
	case KindInteger, KindFloat, KindDecimal, KindDatetime, KindDate, KindTime, KindString:
		return true
	default:
		return false
	}
}

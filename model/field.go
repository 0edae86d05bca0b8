// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package model

import "context"

// RecordBatch is the view of a recordset a compute handler works against.
// It is defined here so field declarations stay decoupled from the
// recordset implementation.
type RecordBatch interface {
	ModelName() string
	IDs() []string
	GetAt(ctx context.Context, id, field string) (any, error)
	Set(ctx context.Context, id, field string, value any) error
}

// ComputeHandler fills one computed field for every record in the batch.
type ComputeHandler func(ctx context.Context, recs RecordBatch) error

// InverseHandler pushes a computed field's assigned value back onto its
// dependencies.
type InverseHandler func(ctx context.Context, recs RecordBatch) error

// ComputeSpec declares how a computed field is produced.
type ComputeSpec struct {
	Handler   ComputeHandler
	Inverse   InverseHandler
	DependsOn []string
	// Store materializes the computed value in the document and keeps it in
	// sync when a dependency changes inside the same write.
	Store bool
}

// RelationSpec binds a relational field to its target model.
type RelationSpec struct {
	Model string
	// Inverse names the field on the target model that points back, required
	// for one2many.
	Inverse string
}

// FileSpec constrains a file field.
type FileSpec struct {
	AllowedTypes []string
	MaxSize      int64
}

// Field is a typed descriptor for one record attribute.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	Unique   bool
	Indexed  bool
	ReadOnly bool
	// Default is either a literal value or a func() any evaluated per record.
	Default any

	Validators []Validator

	Relation *RelationSpec
	Compute  *ComputeSpec
	// RelatedPath resolves the field through a dotted relation chain instead
	// of a document key.
	RelatedPath string
	// RelatedStore materializes a related field in the owning document.
	RelatedStore bool

	// Elem types the elements of list/set/tuple kinds.
	Elem *Field
	// Key and Value type dict kinds.
	Key   *Field
	Value *Field
	// Embedded names the model whose document shape an embedded kind carries.
	Embedded string
	// Choices restricts an enum kind.
	Choices []string
	File    *FileSpec

	// Prefetch marks the field as a companion loaded alongside any other
	// field of its model.
	Prefetch bool
	// Override acknowledges an intentional kind change when shadowing an
	// inherited field.
	Override bool
}

// IsComputed reports whether the field carries a compute spec.
func (f *Field) IsComputed() bool {
	return f.Compute != nil
}

// IsRelated reports whether the field resolves through a relation path.
func (f *Field) IsRelated() bool {
	return f.RelatedPath != ""
}

// IsStored reports whether the field occupies a document key of its own.
func (f *Field) IsStored() bool {
	if f.IsComputed() {
		return f.Compute.Store
	}

	if f.IsRelated() {
		return f.RelatedStore
	}

	return !f.Kind.IsToMany()
}

// compatibleWith reports whether an overriding declaration may shadow f.
func (f *Field) compatibleWith(override *Field) bool {
	return f.Kind == override.Kind || override.Override
}

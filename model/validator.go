// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package model

import (
	"context"
	"fmt"
	"regexp"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
)

// Validator checks one already-coerced value. Implementations may suspend on
// ctx (e.g. a uniqueness probe); CPU-only validators ignore it.
type Validator interface {
	Name() string
	Validate(ctx context.Context, value any) error
}

// LengthValidator bounds the length of strings, lists and sets.
type LengthValidator struct {
	Min int
	Max int
}

func (v LengthValidator) Name() string { return "length" }

func (v LengthValidator) Validate(ctx context.Context, value any) error {
	var n int

	switch t := value.(type) {
	case string:
		n = len(t)
	case []any:
		n = len(t)
	case map[string]any:
		n = len(t)
	default:
		return fmt.Errorf("length validator cannot measure %T", value)
	}

	if n < v.Min {
		return fmt.Errorf("length %d is below the minimum of %d", n, v.Min)
	}

	if v.Max > 0 && n > v.Max {
		return fmt.Errorf("length %d exceeds the maximum of %d", n, v.Max)
	}

	return nil
}

// RangeValidator bounds numeric values.
type RangeValidator struct {
	Min float64
	Max float64
}

func (v RangeValidator) Name() string { return "range" }

func (v RangeValidator) Validate(ctx context.Context, value any) error {
	var n float64

	switch t := value.(type) {
	case int64:
		n = float64(t)
	case float64:
		n = t
	default:
		return fmt.Errorf("range validator cannot measure %T", value)
	}

	if n < v.Min || n > v.Max {
		return fmt.Errorf("value %v is outside the range [%v, %v]", n, v.Min, v.Max)
	}

	return nil
}

// RegexValidator matches string values against a compiled pattern.
type RegexValidator struct {
	Pattern *regexp.Regexp
}

func (v RegexValidator) Name() string { return "regex" }

func (v RegexValidator) Validate(ctx context.Context, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("regex validator cannot match %T", value)
	}

	if !v.Pattern.MatchString(s) {
		return fmt.Errorf("value does not match the pattern %s", v.Pattern.String())
	}

	return nil
}

// ChoicesValidator restricts a value to an allowed set.
type ChoicesValidator struct {
	Choices []string
}

func (v ChoicesValidator) Name() string { return "choices" }

func (v ChoicesValidator) Validate(ctx context.Context, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("choices validator cannot match %T", value)
	}

	for _, choice := range v.Choices {
		if s == choice {
			return nil
		}
	}

	return fmt.Errorf("value %q is not one of the allowed choices", s)
}

// FuncValidator adapts a plain function into a named Validator.
type FuncValidator struct {
	Label string
	Fn    func(ctx context.Context, value any) error
}

func (v FuncValidator) Name() string { return v.Label }

func (v FuncValidator) Validate(ctx context.Context, value any) error {
	return v.Fn(ctx, value)
}

// ModelValidator checks cross-field invariants over one record's values.
type ModelValidator struct {
	Label string
	Fn    func(ctx context.Context, values map[string]any) error
}

// validateFile enforces the declared content-type and size constraints.
func (f *Field) validateFile(fv FileValue) error {
	if f.File.MaxSize > 0 && fv.Size > f.File.MaxSize {
		return norm.ValidationError{
			EntityType: f.Name,
			FieldPath:  f.Name,
			Code:       cn.ErrBadRequest.Error(),
			Title:      "File Too Large",
			Message:    fmt.Sprintf("The file %s exceeds the maximum size of %d bytes.", fv.Filename, f.File.MaxSize),
		}
	}

	if len(f.File.AllowedTypes) > 0 {
		for _, allowed := range f.File.AllowedTypes {
			if fv.ContentType == allowed {
				return nil
			}
		}

		return norm.ValidationError{
			EntityType: f.Name,
			FieldPath:  f.Name,
			Code:       cn.ErrBadRequest.Error(),
			Title:      "File Type Not Allowed",
			Message:    fmt.Sprintf("The content type %s is not allowed for field %s.", fv.ContentType, f.Name),
		}
	}

	return nil
}

// ValidateValue runs the field's validation chain over a raw value: required
// check, kind coercion, then every declared validator in order. The first
// failure short-circuits. The coerced value is returned for the cache.
func (f *Field) ValidateValue(ctx context.Context, value any) (any, error) {
	if value == nil {
		if f.Required {
			return nil, norm.ValidationError{
				EntityType: f.Name,
				FieldPath:  f.Name,
				Code:       cn.ErrRequiredField.Error(),
				Title:      "Missing Required Field",
				Message:    fmt.Sprintf("The field %s is required. Please provide a value and try again.", f.Name),
			}
		}

		return nil, nil
	}

	coerced, err := f.ConvertToCache(value)
	if err != nil {
		return nil, err
	}

	if f.Kind == KindFile && f.File != nil {
		if err := f.validateFile(coerced.(FileValue)); err != nil {
			return nil, err
		}
	}

	for _, v := range f.Validators {
		if err := v.Validate(ctx, coerced); err != nil {
			return nil, norm.ValidationError{
				EntityType: f.Name,
				FieldPath:  f.Name,
				Code:       cn.ErrBadRequest.Error(),
				Title:      "Field Validation Failed",
				Message:    fmt.Sprintf("Validation %s failed on field %s: %v.", v.Name(), f.Name, err),
				Err:        err,
			}
		}
	}

	return coerced, nil
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package model

import (
	"fmt"
	"time"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileValue is the in-document shape of a file field; content lives
// out-of-band under StorageRef.
type FileValue struct {
	Filename    string `bson:"filename" json:"filename"`
	ContentType string `bson:"content_type" json:"contentType"`
	Size        int64  `bson:"size" json:"size"`
	StorageRef  string `bson:"storage_ref" json:"storageRef"`
}

func (f *Field) coercionError(value any, err error) error {
	return norm.ValidationError{
		EntityType: f.Name,
		FieldPath:  f.Name,
		Code:       cn.ErrValueCoercion.Error(),
		Title:      "Value Coercion Error",
		Message:    fmt.Sprintf("The value %v cannot be converted to kind %s for field %s.", value, f.Kind, f.Name),
		Err:        err,
	}
}

// ConvertToCache coerces a caller-supplied value into the canonical cache
// representation of the field kind.
//
//nolint:gocyclo
func (f *Field) ConvertToCache(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch f.Kind {
	case KindString, KindEnum, KindTime:
		s, ok := value.(string)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		return s, nil
	case KindInteger:
		switch t := value.(type) {
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case int64:
			return t, nil
		case float64:
			if t == float64(int64(t)) {
				return int64(t), nil
			}
		}

		return nil, f.coercionError(value, nil)
	case KindFloat:
		switch t := value.(type) {
		case float32:
			return float64(t), nil
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		}

		return nil, f.coercionError(value, nil)
	case KindDecimal:
		switch t := value.(type) {
		case decimal.Decimal:
			return t, nil
		case string:
			d, err := decimal.NewFromString(t)
			if err != nil {
				return nil, f.coercionError(value, err)
			}

			return d, nil
		case float64:
			return decimal.NewFromFloat(t), nil
		case int64:
			return decimal.NewFromInt(t), nil
		case int:
			return decimal.NewFromInt(int64(t)), nil
		}

		return nil, f.coercionError(value, nil)
	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		return b, nil
	case KindDatetime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		return t.UTC(), nil
	case KindDate:
		t, ok := value.(time.Time)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		t = t.UTC()

		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case KindUUID:
		switch t := value.(type) {
		case uuid.UUID:
			return t, nil
		case string:
			u, err := uuid.Parse(t)
			if err != nil {
				return nil, f.coercionError(value, err)
			}

			return u, nil
		}

		return nil, f.coercionError(value, nil)
	case KindObjectID:
		switch t := value.(type) {
		case primitive.ObjectID:
			return t.Hex(), nil
		case string:
			if _, err := primitive.ObjectIDFromHex(t); err != nil {
				return nil, f.coercionError(value, err)
			}

			return t, nil
		}

		return nil, f.coercionError(value, nil)
	case KindJSON, KindEmbedded, KindDict:
		return value, nil
	case KindFile:
		switch t := value.(type) {
		case FileValue:
			return t, nil
		case *FileValue:
			return *t, nil
		}

		return nil, f.coercionError(value, nil)
	case KindList, KindSet, KindTuple:
		items, ok := value.([]any)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		out := make([]any, 0, len(items))
		seen := map[any]struct{}{}

		for _, item := range items {
			coerced := item

			if f.Elem != nil {
				var err error

				coerced, err = f.Elem.ConvertToCache(item)
				if err != nil {
					return nil, err
				}
			}

			if f.Kind == KindSet {
				if _, dup := seen[coerced]; dup {
					continue
				}

				seen[coerced] = struct{}{}
			}

			out = append(out, coerced)
		}

		return out, nil
	case KindMany2One, KindOne2One:
		s, ok := value.(string)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		return s, nil
	case KindOne2Many, KindMany2Many:
		switch t := value.(type) {
		case []string:
			return t, nil
		case []any:
			ids := make([]string, 0, len(t))
			for _, item := range t {
				s, ok := item.(string)
				if !ok {
					return nil, f.coercionError(value, nil)
				}

				ids = append(ids, s)
			}

			return ids, nil
		}

		return nil, f.coercionError(value, nil)
	default:
		return nil, f.coercionError(value, nil)
	}
}

// ConvertToStore turns a cache value into its BSON-ready shape.
func (f *Field) ConvertToStore(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch f.Kind {
	case KindDecimal:
		d, ok := value.(decimal.Decimal)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		d128, err := primitive.ParseDecimal128(d.String())
		if err != nil {
			return nil, f.coercionError(value, err)
		}

		return d128, nil
	case KindUUID:
		u, ok := value.(uuid.UUID)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		return primitive.Binary{Subtype: 0x04, Data: u[:]}, nil
	case KindObjectID:
		s, ok := value.(string)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		oid, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return nil, f.coercionError(value, err)
		}

		return oid, nil
	case KindMany2One, KindOne2One:
		s, ok := value.(string)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		oid, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return nil, f.coercionError(value, err)
		}

		return oid, nil
	case KindOne2Many, KindMany2Many:
		ids, ok := value.([]string)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		out := make([]any, 0, len(ids))

		for _, id := range ids {
			oid, err := primitive.ObjectIDFromHex(id)
			if err != nil {
				return nil, f.coercionError(value, err)
			}

			out = append(out, oid)
		}

		return out, nil
	case KindFile:
		fv, ok := value.(FileValue)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		return fv, nil
	case KindList, KindSet, KindTuple:
		items, ok := value.([]any)
		if !ok {
			return nil, f.coercionError(value, nil)
		}

		if f.Elem == nil {
			return items, nil
		}

		out := make([]any, 0, len(items))

		for _, item := range items {
			converted, err := f.Elem.ConvertToStore(item)
			if err != nil {
				return nil, err
			}

			out = append(out, converted)
		}

		return out, nil
	default:
		return value, nil
	}
}

// ConvertFromStore turns a BSON-decoded value back into the cache shape.
func (f *Field) ConvertFromStore(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch f.Kind {
	case KindInteger:
		switch t := value.(type) {
		case int32:
			return int64(t), nil
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		}

		return nil, f.coercionError(value, nil)
	case KindDecimal:
		d128, ok := value.(primitive.Decimal128)
		if !ok {
			return f.ConvertToCache(value)
		}

		d, err := decimal.NewFromString(d128.String())
		if err != nil {
			return nil, f.coercionError(value, err)
		}

		return d, nil
	case KindUUID:
		switch t := value.(type) {
		case primitive.Binary:
			u, err := uuid.FromBytes(t.Data)
			if err != nil {
				return nil, f.coercionError(value, err)
			}

			return u, nil
		default:
			return f.ConvertToCache(value)
		}
	case KindObjectID:
		switch t := value.(type) {
		case primitive.ObjectID:
			return t.Hex(), nil
		default:
			return f.ConvertToCache(value)
		}
	case KindDatetime:
		switch t := value.(type) {
		case primitive.DateTime:
			return t.Time().UTC(), nil
		case time.Time:
			return t.UTC(), nil
		}

		return nil, f.coercionError(value, nil)
	case KindDate:
		switch t := value.(type) {
		case primitive.DateTime:
			return f.ConvertToCache(t.Time())
		case time.Time:
			return f.ConvertToCache(t)
		}

		return nil, f.coercionError(value, nil)
	case KindMany2One, KindOne2One:
		switch t := value.(type) {
		case primitive.ObjectID:
			return t.Hex(), nil
		case string:
			return t, nil
		}

		return nil, f.coercionError(value, nil)
	case KindOne2Many, KindMany2Many:
		items, ok := value.(primitive.A)
		if !ok {
			if anyItems, ok := value.([]any); ok {
				items = primitive.A(anyItems)
			} else {
				return nil, f.coercionError(value, nil)
			}
		}

		ids := make([]string, 0, len(items))

		for _, item := range items {
			switch t := item.(type) {
			case primitive.ObjectID:
				ids = append(ids, t.Hex())
			case string:
				ids = append(ids, t)
			default:
				return nil, f.coercionError(value, nil)
			}
		}

		return ids, nil
	case KindFile:
		switch t := value.(type) {
		case FileValue:
			return t, nil
		case map[string]any:
			fv := FileValue{}
			if s, ok := t["filename"].(string); ok {
				fv.Filename = s
			}

			if s, ok := t["content_type"].(string); ok {
				fv.ContentType = s
			}

			if n, ok := t["size"].(int64); ok {
				fv.Size = n
			} else if n, ok := t["size"].(int32); ok {
				fv.Size = int64(n)
			}

			if s, ok := t["storage_ref"].(string); ok {
				fv.StorageRef = s
			}

			return fv, nil
		}

		return nil, f.coercionError(value, nil)
	case KindList, KindSet, KindTuple:
		items, ok := value.([]any)
		if !ok {
			if prims, ok := value.(primitive.A); ok {
				items = []any(prims)
			} else {
				return nil, f.coercionError(value, nil)
			}
		}

		if f.Elem == nil {
			return items, nil
		}

		out := make([]any, 0, len(items))

		for _, item := range items {
			converted, err := f.Elem.ConvertFromStore(item)
			if err != nil {
				return nil, err
			}

			out = append(out, converted)
		}

		return out, nil
	default:
		return value, nil
	}
}

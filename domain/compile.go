// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package domain

import (
	"context"
	"fmt"
	"strings"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChildResolver expands the id-closure of a parent relation for the child_of
// operator. Implementations query the store.
type ChildResolver interface {
	ChildrenOf(ctx context.Context, modelName string, roots []string) ([]string, error)
}

// Compiled is the store-native output of a compilation pass. When Stages is
// empty, Filter alone can drive a find; otherwise the caller must aggregate
// with Stages followed by a $match on Filter.
type Compiled struct {
	Filter bson.M
	Stages []bson.M
}

// RequiresPipeline reports whether the compilation crossed collections.
func (c *Compiled) RequiresPipeline() bool {
	return len(c.Stages) > 0
}

// Compiler turns normalized expressions into Compiled filters for one
// registry.
type Compiler struct {
	Registry *model.Registry
	Children ChildResolver
}

// Compile lowers expr against modelName. The expression is normalized first,
// so callers may pass raw parsed trees.
func (c *Compiler) Compile(ctx context.Context, modelName string, expr Expression) (*Compiled, error) {
	m, err := c.Registry.Model(modelName)
	if err != nil {
		return nil, err
	}

	out := &Compiled{}

	filter, err := c.compileNode(ctx, m, Normalize(expr), out)
	if err != nil {
		return nil, err
	}

	out.Filter = filter

	return out, nil
}

func (c *Compiler) compileNode(ctx context.Context, m *model.Model, expr Expression, out *Compiled) (bson.M, error) {
	switch t := expr.(type) {
	case And:
		if len(t.Operands) == 0 {
			return bson.M{}, nil
		}

		parts := make([]bson.M, 0, len(t.Operands))

		for _, operand := range t.Operands {
			part, err := c.compileNode(ctx, m, operand, out)
			if err != nil {
				return nil, err
			}

			parts = append(parts, part)
		}

		return bson.M{"$and": parts}, nil
	case Or:
		parts := make([]bson.M, 0, len(t.Operands))

		for _, operand := range t.Operands {
			part, err := c.compileNode(ctx, m, operand, out)
			if err != nil {
				return nil, err
			}

			parts = append(parts, part)
		}

		return bson.M{"$or": parts}, nil
	case Not:
		inner, err := c.compileNode(ctx, m, t.Operand, out)
		if err != nil {
			return nil, err
		}

		return bson.M{"$nor": []bson.M{inner}}, nil
	case Leaf:
		return c.compileLeaf(ctx, m, t, out)
	default:
		return nil, syntaxError(fmt.Sprintf("unsupported expression node %T", expr))
	}
}

// resolveLeafPath resolves a leaf path, expanding read-through related
// fields into their underlying relation chain.
func (c *Compiler) resolveLeafPath(m *model.Model, path string) ([]model.PathHop, *model.Field, error) {
	for depth := 0; depth < 8; depth++ {
		hops, terminal, err := c.Registry.ResolvePath(m.Name, path)
		if err != nil {
			return nil, nil, err
		}

		if !terminal.IsRelated() || terminal.RelatedStore {
			return hops, terminal, nil
		}

		segments := strings.Split(path, ".")
		prefix := segments[:len(segments)-1]
		path = strings.Join(append(prefix, terminal.RelatedPath), ".")
	}

	return nil, nil, norm.ValidateBusinessError(cn.ErrFieldNotFound, m.Name, path)
}

// storedKey maps a field to its document key.
func storedKey(f *model.Field) string {
	if f.Name == "id" {
		return "_id"
	}

	return f.Name
}

// lookupStage emits the $lookup for one relational hop and returns the alias
// the joined documents land under.
func (c *Compiler) lookupStage(parentAlias string, hop model.PathHop, out *Compiled) (string, error) {
	target, err := c.Registry.Model(hop.Field.Relation.Model)
	if err != nil {
		return "", err
	}

	alias := "__" + strings.ReplaceAll(hop.Field.Name, ".", "_")
	if parentAlias != "" {
		alias = parentAlias + "_" + hop.Field.Name
	}

	for _, stage := range out.Stages {
		if lookup, ok := stage["$lookup"].(bson.M); ok && lookup["as"] == alias {
			return alias, nil
		}
	}

	localField := storedKey(hop.Field)
	foreignField := "_id"

	switch hop.Field.Kind {
	case model.KindOne2Many:
		localField = "_id"
		foreignField = hop.Field.Relation.Inverse
	case model.KindMany2Many, model.KindMany2One, model.KindOne2One:
	default:
		return "", norm.ValidateBusinessError(cn.ErrOperatorNotSupported, m2oName(hop), string(hop.Field.Kind), hop.Field.Name)
	}

	if parentAlias != "" {
		localField = parentAlias + "." + localField
	}

	out.Stages = append(out.Stages, bson.M{"$lookup": bson.M{
		"from":         target.Collection,
		"localField":   localField,
		"foreignField": foreignField,
		"as":           alias,
	}})

	return alias, nil
}

func m2oName(hop model.PathHop) string {
	return hop.Model.Name + "." + hop.Field.Name
}

//nolint:gocyclo
func (c *Compiler) compileLeaf(ctx context.Context, m *model.Model, leaf Leaf, out *Compiled) (bson.M, error) {
	hops, terminal, err := c.resolveLeafPath(m, leaf.Path)
	if err != nil {
		return nil, err
	}

	key := storedKey(terminal)

	alias := ""
	for _, hop := range hops {
		alias, err = c.lookupStage(alias, hop, out)
		if err != nil {
			return nil, err
		}
	}

	if alias != "" {
		key = alias + "." + key
	}

	switch leaf.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if (leaf.Op != OpEq && leaf.Op != OpNe) && !terminal.Kind.IsComparable() {
			return nil, norm.ValidateBusinessError(cn.ErrOperatorNotSupported, m.Name, string(leaf.Op), leaf.Path)
		}

		value, err := coerce(terminal, leaf.Value)
		if err != nil {
			return nil, err
		}

		switch leaf.Op {
		case OpEq:
			return bson.M{key: value}, nil
		case OpNe:
			return bson.M{key: bson.M{"$ne": value}}, nil
		case OpGt:
			return bson.M{key: bson.M{"$gt": value}}, nil
		case OpGte:
			return bson.M{key: bson.M{"$gte": value}}, nil
		case OpLt:
			return bson.M{key: bson.M{"$lt": value}}, nil
		default:
			return bson.M{key: bson.M{"$lte": value}}, nil
		}
	case OpLike, OpILike, OpNotLike, OpNotILike:
		if terminal.Kind != model.KindString && terminal.Kind != model.KindEnum {
			return nil, norm.ValidateBusinessError(cn.ErrOperatorNotSupported, m.Name, string(leaf.Op), leaf.Path)
		}

		pattern, ok := leaf.Value.(string)
		if !ok {
			return nil, coercionError(terminal, leaf.Value)
		}

		regex := primitive.Regex{Pattern: translateWildcards(pattern)}
		if leaf.Op == OpILike || leaf.Op == OpNotILike {
			regex.Options = "i"
		}

		if leaf.Op == OpNotLike || leaf.Op == OpNotILike {
			return bson.M{key: bson.M{"$not": regex}}, nil
		}

		return bson.M{key: regex}, nil
	case OpIn, OpNotIn, OpOverlap:
		values, err := coerceList(terminal, leaf.Value)
		if err != nil {
			return nil, err
		}

		if leaf.Op == OpNotIn {
			return bson.M{key: bson.M{"$nin": values}}, nil
		}

		return bson.M{key: bson.M{"$in": values}}, nil
	case OpIsNull:
		return bson.M{key: nil}, nil
	case OpIsNotNull:
		return bson.M{key: bson.M{"$ne": nil}}, nil
	case OpChildOf:
		return c.compileChildOf(ctx, m, leaf, terminal, key)
	case OpCount:
		return c.compileCount(m, leaf, terminal, out)
	default:
		return nil, norm.ValidateBusinessError(cn.ErrOperatorNotSupported, m.Name, string(leaf.Op), leaf.Path)
	}
}

// compileChildOf expands the id closure of the parent relation on the leaf's
// target model and constrains the leaf field to it.
func (c *Compiler) compileChildOf(ctx context.Context, m *model.Model, leaf Leaf, terminal *model.Field, key string) (bson.M, error) {
	targetName := m.Name

	if terminal.Kind.IsRelational() {
		targetName = terminal.Relation.Model
	} else if terminal.Name != "id" {
		return nil, norm.ValidateBusinessError(cn.ErrFieldNotFound, m.Name, leaf.Path)
	}

	target, err := c.Registry.Model(targetName)
	if err != nil {
		return nil, err
	}

	parent, ok := target.Field("parent")
	if !ok || parent.Kind != model.KindMany2One || parent.Relation == nil || parent.Relation.Model != target.Name {
		return nil, norm.ValidateBusinessError(cn.ErrFieldNotFound, m.Name, leaf.Path)
	}

	roots, err := stringList(leaf.Value)
	if err != nil {
		return nil, coercionError(terminal, leaf.Value)
	}

	if c.Children == nil {
		return nil, norm.ValidateBusinessError(cn.ErrOperatorNotSupported, m.Name, string(OpChildOf), leaf.Path)
	}

	closure, err := c.Children.ChildrenOf(ctx, target.Name, roots)
	if err != nil {
		return nil, err
	}

	ids := make([]any, 0, len(closure))

	for _, id := range closure {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, coercionError(terminal, id)
		}

		ids = append(ids, oid)
	}

	return bson.M{key: bson.M{"$in": ids}}, nil
}

// compileCount constrains the cardinality of a to-many relation. It always
// requires a pipeline.
func (c *Compiler) compileCount(m *model.Model, leaf Leaf, terminal *model.Field, out *Compiled) (bson.M, error) {
	if !terminal.Kind.IsToMany() {
		return nil, norm.ValidateBusinessError(cn.ErrOperatorNotSupported, m.Name, string(OpCount), leaf.Path)
	}

	target, err := c.Registry.Model(terminal.Relation.Model)
	if err != nil {
		return nil, err
	}

	alias := "__count_" + terminal.Name

	lookup := bson.M{
		"from": target.Collection,
		"as":   alias,
	}

	if terminal.Kind == model.KindOne2Many {
		lookup["localField"] = "_id"
		lookup["foreignField"] = terminal.Relation.Inverse
	} else {
		lookup["localField"] = storedKey(terminal)
		lookup["foreignField"] = "_id"
	}

	out.Stages = append(out.Stages, bson.M{"$lookup": lookup})

	n, ok := toInt64(leaf.Value)
	if !ok {
		return nil, coercionError(terminal, leaf.Value)
	}

	return bson.M{"$expr": bson.M{"$eq": []any{bson.M{"$size": "$" + alias}, n}}}, nil
}

// translateWildcards converts a %-wildcard pattern into an anchored regex.
func translateWildcards(pattern string) string {
	var b strings.Builder

	b.WriteString("^")

	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString("\\")
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteString("$")

	return b.String()
}

func coerce(f *model.Field, value any) (any, error) {
	cached, err := f.ConvertToCache(value)
	if err != nil {
		return nil, err
	}

	return f.ConvertToStore(cached)
}

func coerceList(f *model.Field, value any) ([]any, error) {
	var raw []any

	switch t := value.(type) {
	case []any:
		raw = t
	case []string:
		raw = make([]any, 0, len(t))
		for _, s := range t {
			raw = append(raw, s)
		}
	default:
		return nil, coercionError(f, value)
	}

	elem := f
	if f.Elem != nil {
		elem = f.Elem
	}

	out := make([]any, 0, len(raw))

	for _, item := range raw {
		converted, err := coerce(elem, item)
		if err != nil {
			return nil, err
		}

		out = append(out, converted)
	}

	return out, nil
}

func coercionError(f *model.Field, value any) error {
	return norm.ValidateBusinessError(cn.ErrValueCoercion, f.Name, f.Name, value)
}

func stringList(value any) ([]string, error) {
	switch t := value.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}

			out = append(out, s)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", value)
	}
}

func toInt64(value any) (int64, bool) {
	switch t := value.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

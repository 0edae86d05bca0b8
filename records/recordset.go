// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package records

import (
	"context"
	"sort"

	norm "github.com/LerianStudio/lib-norm"
	"github.com/LerianStudio/lib-norm/adapter"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/domain"
	"github.com/LerianStudio/lib-norm/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordSet is an ordered, possibly empty sequence of record ids of one
// model, tied to one environment. Construction is cheap: fields materialize
// lazily through the environment cache.
type RecordSet struct {
	env   *Environment
	model *model.Model
	ids   []string

	// prefetchIDs is the superset of ids whose fields load together in one
	// batch when any of them is accessed.
	prefetchIDs []string
}

// Browse returns an empty-shell recordset over the given ids.
func Browse(env *Environment, modelName string, ids []string) (*RecordSet, error) {
	m, err := env.Registry.Model(modelName)
	if err != nil {
		return nil, err
	}

	copied := append([]string{}, ids...)

	return &RecordSet{
		env:         env,
		model:       m,
		ids:         copied,
		prefetchIDs: copied,
	}, nil
}

// SortSpec orders a search.
type SortSpec struct {
	Field string
	Desc  bool
}

// SearchOptions tune a Search call.
type SearchOptions struct {
	Sort   []SortSpec
	Limit  int64
	Offset int64
}

// Search materializes the ids matching domainTerms, with the current user's
// record rules AND-combined in. Soft-deleted records stay hidden unless the
// environment context carries include_deleted.
func Search(ctx context.Context, env *Environment, modelName string, domainTerms []any, opts *SearchOptions) (*RecordSet, error) {
	m, err := env.Registry.Model(modelName)
	if err != nil {
		return nil, err
	}

	user, err := env.user(ctx)
	if err != nil {
		return nil, err
	}

	if env.Security != nil && env.Security.ACL != nil {
		if err := env.Security.ACL.Check(user, modelName, cn.OperationRead); err != nil {
			return nil, err
		}
	}

	caller, err := domain.Parse(domainTerms)
	if err != nil {
		return nil, err
	}

	expr := caller

	if env.Security != nil && env.Security.Rules != nil {
		ruleDomain, err := env.Security.Rules.DomainFor(user, modelName, cn.OperationRead)
		if err != nil {
			return nil, err
		}

		expr = domain.NewAnd(ruleDomain, caller)
	}

	compiled, err := env.compiler.Compile(ctx, modelName, expr)
	if err != nil {
		return nil, err
	}

	filter := compiled.Filter
	if m.SoftDelete && !env.includeDeleted() {
		filter = bson.M{"$and": []bson.M{filter, {"deleted_at": nil}}}
	}

	ids, err := env.searchIDs(ctx, m, compiled.Stages, filter, opts)
	if err != nil {
		return nil, err
	}

	return &RecordSet{
		env:         env,
		model:       m,
		ids:         ids,
		prefetchIDs: ids,
	}, nil
}

// searchIDs runs the compiled query, via find when no pipeline stages are
// required and via aggregate otherwise, and decodes the matching ids.
func (e *Environment) searchIDs(ctx context.Context, m *model.Model, stages []bson.M, filter bson.M, opts *SearchOptions) ([]string, error) {
	ctx = e.opCtx(ctx)

	var (
		cursor adapter.Cursor
		err    error
	)

	if len(stages) == 0 {
		findOpts := adapter.FindOptions{Projection: []string{"_id"}}

		if opts != nil {
			for _, s := range opts.Sort {
				direction := 1
				if s.Desc {
					direction = -1
				}

				findOpts.Sort = append(findOpts.Sort, bson.E{Key: s.Field, Value: direction})
			}

			findOpts.Skip = opts.Offset
			findOpts.Limit = opts.Limit
		}

		cursor, err = e.Store.Find(ctx, m.Collection, filter, findOpts)
	} else {
		pipeline := append([]bson.M{}, stages...)
		pipeline = append(pipeline, bson.M{"$match": filter})

		if opts != nil && len(opts.Sort) > 0 {
			sortDoc := bson.D{}
			for _, s := range opts.Sort {
				direction := 1
				if s.Desc {
					direction = -1
				}

				sortDoc = append(sortDoc, bson.E{Key: s.Field, Value: direction})
			}

			pipeline = append(pipeline, bson.M{"$sort": sortDoc})
		}

		if opts != nil && opts.Offset > 0 {
			pipeline = append(pipeline, bson.M{"$skip": opts.Offset})
		}

		if opts != nil && opts.Limit > 0 {
			pipeline = append(pipeline, bson.M{"$limit": opts.Limit})
		}

		pipeline = append(pipeline, bson.M{"$project": bson.M{"_id": 1}})

		cursor, err = e.Store.Aggregate(ctx, m.Collection, pipeline)
	}

	if err != nil {
		return nil, err
	}

	ids := []string{}

	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}

		if err := cursor.Decode(&doc); err != nil {
			_ = cursor.Close(ctx)

			return nil, err
		}

		ids = append(ids, doc.ID.Hex())
	}

	if err := cursor.Err(); err != nil {
		_ = cursor.Close(ctx)

		return nil, err
	}

	if err := cursor.Close(ctx); err != nil {
		return nil, err
	}

	return ids, nil
}

// Env returns the environment the recordset is bound to.
func (rs *RecordSet) Env() *Environment {
	return rs.env
}

// ModelName implements model.RecordBatch.
func (rs *RecordSet) ModelName() string {
	return rs.model.Name
}

// IDs returns an immutable view of the record ids.
func (rs *RecordSet) IDs() []string {
	return append([]string{}, rs.ids...)
}

// Len returns the number of records.
func (rs *RecordSet) Len() int {
	return len(rs.ids)
}

// IsEmpty reports whether the recordset holds no ids.
func (rs *RecordSet) IsEmpty() bool {
	return len(rs.ids) == 0
}

// EnsureOne fails with a singleton error unless the recordset holds exactly
// one record.
func (rs *RecordSet) EnsureOne() error {
	if len(rs.ids) == 1 {
		return nil
	}

	return norm.ValidateBusinessError(cn.ErrSingletonExpected, rs.model.Name, len(rs.ids))
}

// Records splits the recordset into singletons sharing one prefetch set, so
// iterating them keeps batch loading intact.
func (rs *RecordSet) Records() []*RecordSet {
	out := make([]*RecordSet, len(rs.ids))

	for i, id := range rs.ids {
		out[i] = &RecordSet{
			env:         rs.env,
			model:       rs.model,
			ids:         []string{id},
			prefetchIDs: rs.prefetchIDs,
		}
	}

	return out
}

func (rs *RecordSet) withIDs(ids []string) *RecordSet {
	return &RecordSet{
		env:         rs.env,
		model:       rs.model,
		ids:         ids,
		prefetchIDs: rs.prefetchIDs,
	}
}

// Filtered keeps the records the predicate accepts, preserving order. The
// predicate receives singletons.
func (rs *RecordSet) Filtered(ctx context.Context, pred func(ctx context.Context, rec *RecordSet) (bool, error)) (*RecordSet, error) {
	var kept []string

	for _, rec := range rs.Records() {
		ok, err := pred(ctx, rec)
		if err != nil {
			return nil, err
		}

		if ok {
			kept = append(kept, rec.ids[0])
		}
	}

	return rs.withIDs(kept), nil
}

// Sorted orders the recordset in memory by a field value.
func (rs *RecordSet) Sorted(ctx context.Context, field string, desc bool) (*RecordSet, error) {
	type keyed struct {
		id  string
		key any
	}

	keys := make([]keyed, 0, len(rs.ids))

	for _, id := range rs.ids {
		value, err := rs.fieldValue(ctx, id, field)
		if err != nil {
			return nil, err
		}

		keys = append(keys, keyed{id: id, key: value})
	}

	sort.SliceStable(keys, func(i, j int) bool {
		less := lessValues(keys[i].key, keys[j].key)
		if desc {
			return lessValues(keys[j].key, keys[i].key)
		}

		return less
	})

	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.id
	}

	return rs.withIDs(ids), nil
}

func lessValues(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	default:
		return false
	}
}

// Union merges two recordsets preserving left-first ordering and dropping
// duplicates.
func (rs *RecordSet) Union(other *RecordSet) *RecordSet {
	seen := make(map[string]struct{}, len(rs.ids)+other.Len())

	var ids []string

	for _, id := range append(append([]string{}, rs.ids...), other.ids...) {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return rs.withIDs(ids)
}

// Intersection keeps the ids present in both sets, in the receiver's order.
func (rs *RecordSet) Intersection(other *RecordSet) *RecordSet {
	inOther := make(map[string]struct{}, other.Len())
	for _, id := range other.ids {
		inOther[id] = struct{}{}
	}

	var ids []string

	for _, id := range rs.ids {
		if _, ok := inOther[id]; ok {
			ids = append(ids, id)
		}
	}

	return rs.withIDs(ids)
}

// Difference removes the other set's ids from the receiver.
func (rs *RecordSet) Difference(other *RecordSet) *RecordSet {
	inOther := make(map[string]struct{}, other.Len())
	for _, id := range other.ids {
		inOther[id] = struct{}{}
	}

	var ids []string

	for _, id := range rs.ids {
		if _, ok := inOther[id]; !ok {
			ids = append(ids, id)
		}
	}

	return rs.withIDs(ids)
}

// Concat appends the other set's ids, keeping duplicates.
func (rs *RecordSet) Concat(other *RecordSet) *RecordSet {
	return rs.withIDs(append(append([]string{}, rs.ids...), other.ids...))
}

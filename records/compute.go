// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package records

import (
	"context"

	"github.com/LerianStudio/lib-norm/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// computeField runs a non-stored compute handler for every id in the batch
// still missing the field. Handlers write through Set; ids the handler
// skipped are marked loaded as nil.
func (rs *RecordSet) computeField(ctx context.Context, f *model.Field) error {
	missing := rs.env.cache.MissingIDs(rs.model.Name, f.Name, rs.batchIDs())
	if len(missing) == 0 {
		return nil
	}

	batch := rs.withIDs(missing)

	if err := f.Compute.Handler(ctx, batch); err != nil {
		return err
	}

	for _, id := range missing {
		if _, hit := rs.env.cache.Get(rs.model.Name, f.Name, id); !hit {
			rs.env.cache.Set(rs.model.Name, f.Name, id, nil)
		}
	}

	return nil
}

// recomputeDependents reacts to a change of the touched fields: stored
// dependents recompute eagerly and persist, non-stored dependents are marked
// dirty by dropping their cache entries.
func (rs *RecordSet) recomputeDependents(ctx context.Context, touched []string) error {
	recomputed := map[string]struct{}{}

	for _, source := range touched {
		for _, dependent := range rs.env.Registry.DependentsOf(rs.model.Name, source) {
			if _, done := recomputed[dependent]; done {
				continue
			}

			recomputed[dependent] = struct{}{}

			f, ok := rs.model.Field(dependent)
			if !ok || !f.IsComputed() {
				continue
			}

			if !f.Compute.Store {
				rs.env.cache.Invalidate(rs.model.Name, rs.ids, []string{dependent})

				continue
			}

			if err := rs.recomputeStored(ctx, f); err != nil {
				return err
			}
		}
	}

	return nil
}

// recomputeStored reruns a stored compute for the recordset and persists the
// produced values.
func (rs *RecordSet) recomputeStored(ctx context.Context, f *model.Field) error {
	rs.env.cache.Invalidate(rs.model.Name, rs.ids, []string{f.Name})

	if err := f.Compute.Handler(ctx, rs); err != nil {
		return err
	}

	ctx = rs.env.opCtx(ctx)

	for _, id := range rs.ids {
		value, hit := rs.env.cache.Get(rs.model.Name, f.Name, id)
		if !hit {
			continue
		}

		stored, err := f.ConvertToStore(value)
		if err != nil {
			return err
		}

		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return err
		}

		if _, err := rs.env.Store.Update(ctx, rs.model.Collection, bson.M{"_id": oid}, bson.M{"$set": bson.M{f.Name: stored}}, false); err != nil {
			return err
		}
	}

	return nil
}

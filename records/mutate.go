// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package records

import (
	"context"
	"fmt"
	"time"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/domain"
	"github.com/LerianStudio/lib-norm/events"
	"github.com/LerianStudio/lib-norm/security"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// validateValues runs the per-field validation chain over the provided
// values, accumulating failures so one pass reports every offending field,
// then runs the model-level cross validators.
func (rs *RecordSet) validateValues(ctx context.Context, values map[string]any, creating bool) (map[string]any, error) {
	coerced := make(map[string]any, len(values))
	failures := map[string]string{}

	var firstErr error

	for name, value := range values {
		f, ok := rs.model.Field(name)
		if !ok {
			return nil, fieldNotFound(rs.model, name)
		}

		if f.ReadOnly && !creating {
			failures[name] = "field is read-only"

			continue
		}

		out, err := f.ValidateValue(ctx, value)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}

			failures[name] = err.Error()

			continue
		}

		coerced[name] = out
	}

	if creating {
		// Required fields with defaults fill in; bare required fields fail.
		for _, name := range rs.model.FieldNames() {
			f, _ := rs.model.Field(name)

			if _, given := values[name]; given || name == "id" {
				continue
			}

			if f.Default != nil {
				coerced[name] = resolveDefault(f.Default)

				continue
			}

			if f.Required {
				err := norm.ValidationError{
					EntityType: rs.model.Name,
					FieldPath:  name,
					Code:       cn.ErrRequiredField.Error(),
					Title:      "Missing Required Field",
					Message:    fmt.Sprintf("The field %s is required. Please provide a value and try again.", name),
				}

				if firstErr == nil {
					firstErr = err
				}

				failures[name] = err.Error()
			}
		}
	}

	if len(failures) == 1 {
		return nil, firstErr
	}

	if len(failures) > 1 {
		return nil, norm.ValidateBadRequestFieldsError(failures, rs.model.Name)
	}

	for _, cross := range rs.model.CrossValidators {
		if err := cross.Fn(ctx, coerced); err != nil {
			return nil, norm.ValidationError{
				EntityType: rs.model.Name,
				Code:       cn.ErrBadRequest.Error(),
				Title:      "Cross-Field Validation Failed",
				Message:    err.Error(),
				Err:        err,
			}
		}
	}

	return coerced, nil
}

func resolveDefault(def any) any {
	if fn, ok := def.(func() any); ok {
		return fn()
	}

	return def
}

// checkACL consults the security bundle, when present.
func (rs *RecordSet) checkACL(ctx context.Context, op cn.Operation) (*security.User, error) {
	user, err := rs.env.user(ctx)
	if err != nil {
		return nil, err
	}

	if rs.env.Security != nil && rs.env.Security.ACL != nil {
		if err := rs.env.Security.ACL.Check(user, rs.model.Name, op); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// ruleFilter compiles the user's record-rule domain for op, AND-combined
// with an _id constraint over the recordset.
func (rs *RecordSet) ruleFilter(ctx context.Context, user *security.User, op cn.Operation) (bson.M, error) {
	oids := make([]any, 0, len(rs.ids))

	for _, id := range rs.ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, err
		}

		oids = append(oids, oid)
	}

	idFilter := bson.M{"_id": bson.M{"$in": oids}}

	if rs.env.Security == nil || rs.env.Security.Rules == nil {
		return idFilter, nil
	}

	ruleDomain, err := rs.env.Security.Rules.DomainFor(user, rs.model.Name, op)
	if err != nil {
		return nil, err
	}

	compiled, err := rs.env.compiler.Compile(ctx, rs.model.Name, ruleDomain)
	if err != nil {
		return nil, err
	}

	if compiled.RequiresPipeline() {
		return nil, norm.ValidateBusinessError(cn.ErrOperatorNotSupported, rs.model.Name, "record rule", "write path")
	}

	if len(compiled.Filter) == 0 {
		return idFilter, nil
	}

	return bson.M{"$and": []bson.M{idFilter, compiled.Filter}}, nil
}

// Create validates and inserts one record per values map, populates the
// cache, recomputes stored dependents and publishes the after_create
// lifecycle event.
func Create(ctx context.Context, env *Environment, modelName string, valuesList []map[string]any) (*RecordSet, error) {
	rs, err := Browse(env, modelName, nil)
	if err != nil {
		return nil, err
	}

	user, err := rs.checkACL(ctx, cn.OperationCreate)
	if err != nil {
		return nil, err
	}

	docs := make([]bson.M, 0, len(valuesList))
	cachedList := make([]map[string]any, 0, len(valuesList))
	now := time.Now().UTC()

	var touched []string

	for _, values := range valuesList {
		cached, err := rs.validateValues(ctx, values, true)
		if err != nil {
			return nil, err
		}

		doc := bson.M{"created_at": now, "updated_at": now}

		for name, value := range cached {
			f, _ := rs.model.Field(name)
			if !f.IsStored() || name == "id" {
				continue
			}

			stored, err := f.ConvertToStore(value)
			if err != nil {
				return nil, err
			}

			doc[name] = stored
			touched = append(touched, name)
		}

		if rs.model.SoftDelete {
			doc["deleted_at"] = nil
		}

		docs = append(docs, doc)
		cachedList = append(cachedList, cached)
	}

	ids, err := env.Store.Insert(env.opCtx(ctx), rs.model.Collection, docs)
	if err != nil {
		return nil, err
	}

	rs.ids = ids
	rs.prefetchIDs = ids

	after := make(map[string]map[string]any, len(ids))

	for i, id := range ids {
		env.setCache(rs.model.Name, "id", id, id)

		for name, value := range cachedList[i] {
			env.setCache(rs.model.Name, name, id, value)
		}

		after[id] = cachedList[i]
	}

	if err := rs.recomputeDependents(ctx, touched); err != nil {
		return nil, err
	}

	if err := rs.audit(ctx, user, cn.OperationCreate, nil, after, now); err != nil {
		return nil, err
	}

	rs.publishLifecycle(ctx, "after_create")

	return rs, nil
}

// Write validates values, updates the store with the recordset's rule-scoped
// filter, refreshes the cache, recomputes dependents and publishes
// after_write.
func (rs *RecordSet) Write(ctx context.Context, values map[string]any) error {
	if len(rs.ids) == 0 {
		return nil
	}

	user, err := rs.checkACL(ctx, cn.OperationWrite)
	if err != nil {
		return err
	}

	cached, err := rs.validateValues(ctx, values, false)
	if err != nil {
		return err
	}

	tracked := []string{}
	if rs.env.Security != nil && rs.env.Security.Auditor != nil {
		tracked = rs.env.Security.Auditor.TrackedFields(rs.model, cn.OperationWrite)
	}

	before, err := rs.snapshot(ctx, tracked)
	if err != nil {
		return err
	}

	filter, err := rs.ruleFilter(ctx, user, cn.OperationWrite)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	set := bson.M{"updated_at": now}

	touched := make([]string, 0, len(cached))

	for name, value := range cached {
		f, _ := rs.model.Field(name)
		if !f.IsStored() {
			continue
		}

		stored, err := f.ConvertToStore(value)
		if err != nil {
			return err
		}

		set[name] = stored
		touched = append(touched, name)
	}

	if _, err := rs.env.Store.Update(rs.env.opCtx(ctx), rs.model.Collection, filter, bson.M{"$set": set}, true); err != nil {
		return err
	}

	after := make(map[string]map[string]any, len(rs.ids))

	for _, id := range rs.ids {
		for name, value := range cached {
			rs.env.setCache(rs.model.Name, name, id, value)
		}

		after[id] = cached
	}

	// Assigning a computed field with an inverse pushes the value back onto
	// its dependencies.
	for name := range cached {
		f, _ := rs.model.Field(name)
		if f.IsComputed() && f.Compute.Inverse != nil {
			if err := f.Compute.Inverse(ctx, rs); err != nil {
				return err
			}
		}
	}

	if err := rs.recomputeDependents(ctx, touched); err != nil {
		return err
	}

	if err := rs.audit(ctx, user, cn.OperationWrite, before, after, now); err != nil {
		return err
	}

	rs.publishLifecycle(ctx, "after_write")

	return nil
}

// Delete removes the records (soft delete when the model declares it),
// invalidates their cache entries and publishes after_delete.
func (rs *RecordSet) Delete(ctx context.Context) error {
	if len(rs.ids) == 0 {
		return nil
	}

	user, err := rs.checkACL(ctx, cn.OperationDelete)
	if err != nil {
		return err
	}

	tracked := []string{}
	if rs.env.Security != nil && rs.env.Security.Auditor != nil {
		tracked = rs.env.Security.Auditor.TrackedFields(rs.model, cn.OperationDelete)
	}

	before, err := rs.snapshot(ctx, tracked)
	if err != nil {
		return err
	}

	filter, err := rs.ruleFilter(ctx, user, cn.OperationDelete)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ctx2 := rs.env.opCtx(ctx)

	if rs.model.SoftDelete {
		_, err = rs.env.Store.Update(ctx2, rs.model.Collection, filter, bson.M{"$set": bson.M{"deleted_at": now}}, true)
	} else {
		_, err = rs.env.Store.Delete(ctx2, rs.model.Collection, filter, true)
	}

	if err != nil {
		return err
	}

	rs.env.cache.Invalidate(rs.model.Name, rs.ids, nil)

	if err := rs.audit(ctx, user, cn.OperationDelete, before, nil, now); err != nil {
		return err
	}

	rs.publishLifecycle(ctx, "after_delete")

	return nil
}

// snapshot captures current values of the tracked fields for audit.
func (rs *RecordSet) snapshot(ctx context.Context, fields []string) (map[string]map[string]any, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	out := make(map[string]map[string]any, len(rs.ids))

	for _, id := range rs.ids {
		values := map[string]any{}

		for _, name := range fields {
			value, err := rs.fieldValue(ctx, id, name)
			if err != nil {
				return nil, err
			}

			values[name] = value
		}

		out[id] = values
	}

	return out, nil
}

// audit buffers entries inside a transaction and flushes them immediately in
// autocommit, always after the adapter call and before the lifecycle event.
func (rs *RecordSet) audit(ctx context.Context, user *security.User, op cn.Operation, before, after map[string]map[string]any, at time.Time) error {
	if rs.env.Security == nil || rs.env.Security.Auditor == nil {
		return nil
	}

	entries := rs.env.Security.Auditor.Entries(rs.model, op, user.ID, before, after, at)
	if len(entries) == 0 {
		return nil
	}

	if rs.env.txn != nil && !rs.env.txn.done {
		rs.env.txn.audits = append(rs.env.txn.audits, entries...)

		return nil
	}

	return rs.env.Security.Auditor.Flush(ctx, entries)
}

func (rs *RecordSet) publishLifecycle(ctx context.Context, suffix string) {
	event := events.New(rs.model.Name+"."+suffix, map[string]any{
		"model": rs.model.Name,
		"ids":   rs.IDs(),
	})

	rs.env.publish(ctx, event)
}

// SearchCount returns how many records match domainTerms for the current
// user.
func SearchCount(ctx context.Context, env *Environment, modelName string, domainTerms []any) (int, error) {
	rs, err := Search(ctx, env, modelName, domainTerms, nil)
	if err != nil {
		return 0, err
	}

	return rs.Len(), nil
}

// NameSearchDomain is a convenience for building an ilike domain on a field.
func NameSearchDomain(field, needle string) []any {
	return []any{[]any{field, string(domain.OpILike), "%" + needle + "%"}}
}

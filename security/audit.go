// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package security

import (
	"context"
	"time"

	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/adapter"
	"github.com/LerianStudio/lib-norm/model"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultAuditCollection is where audit entries persist unless overridden.
const DefaultAuditCollection = "audit_logs"

// AuditEntry records the before/after values of one audited operation.
type AuditEntry struct {
	UserID    string         `bson:"user_id"`
	Operation string         `bson:"operation"`
	Model     string         `bson:"model"`
	RecordID  string         `bson:"record_id"`
	Before    map[string]any `bson:"before,omitempty"`
	After     map[string]any `bson:"after,omitempty"`
	At        time.Time      `bson:"at"`
}

// Auditor builds and persists audit entries for operations declared in a
// model's audit spec.
type Auditor struct {
	Store      adapter.Store
	Collection string
}

// TrackedFields returns the audited fields of (model, op), nil when the
// operation is not audited.
func (a *Auditor) TrackedFields(m *model.Model, op cn.Operation) []string {
	if m.AuditSpec == nil {
		return nil
	}

	return m.AuditSpec[op]
}

// Entries builds one entry per record id, keeping only the tracked fields of
// the before/after snapshots.
func (a *Auditor) Entries(m *model.Model, op cn.Operation, userID string, before, after map[string]map[string]any, at time.Time) []AuditEntry {
	tracked := a.TrackedFields(m, op)
	if len(tracked) == 0 {
		return nil
	}

	ids := make(map[string]struct{}, len(before)+len(after))
	for id := range before {
		ids[id] = struct{}{}
	}

	for id := range after {
		ids[id] = struct{}{}
	}

	entries := make([]AuditEntry, 0, len(ids))

	for id := range ids {
		entry := AuditEntry{
			UserID:    userID,
			Operation: string(op),
			Model:     m.Name,
			RecordID:  id,
			At:        at,
		}

		entry.Before = pickTracked(before[id], tracked)
		entry.After = pickTracked(after[id], tracked)

		entries = append(entries, entry)
	}

	return entries
}

func pickTracked(values map[string]any, tracked []string) map[string]any {
	if values == nil {
		return nil
	}

	out := map[string]any{}

	for _, field := range tracked {
		if v, ok := values[field]; ok {
			out[field] = v
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

// Flush persists the entries through the adapter.
func (a *Auditor) Flush(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	collection := a.Collection
	if collection == "" {
		collection = DefaultAuditCollection
	}

	docs := make([]bson.M, 0, len(entries))

	for _, entry := range entries {
		docs = append(docs, bson.M{
			"user_id":   entry.UserID,
			"operation": entry.Operation,
			"model":     entry.Model,
			"record_id": entry.RecordID,
			"before":    entry.Before,
			"after":     entry.After,
			"at":        entry.At,
		})
	}

	_, err := a.Store.Insert(ctx, collection, docs)

	return err
}

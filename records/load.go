// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package records

import (
	"context"
	"sync"

	norm "github.com/LerianStudio/lib-norm"
	"github.com/LerianStudio/lib-norm/adapter"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// recentAccessWindow bounds how many distinct recently-accessed fields per
// model feed companion prefetch.
const recentAccessWindow = 32

// prefetchRegistry remembers which fields were recently accessed per model;
// those become prefetch companions alongside fields explicitly marked
// prefetch=true.
type prefetchRegistry struct {
	mu     sync.Mutex
	recent map[string][]string
}

func newPrefetchRegistry() *prefetchRegistry {
	return &prefetchRegistry{recent: map[string][]string{}}
}

func (p *prefetchRegistry) recordAccess(modelName, field string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fields := p.recent[modelName]

	for _, existing := range fields {
		if existing == field {
			return
		}
	}

	fields = append(fields, field)
	if len(fields) > recentAccessWindow {
		fields = fields[1:]
	}

	p.recent[modelName] = fields
}

func (p *prefetchRegistry) commonFields(modelName string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string{}, p.recent[modelName]...)
}

// Get returns the value of field on the single record of the set, loading it
// (and its prefetch companions, for every id in the prefetch set) on a cache
// miss.
func (rs *RecordSet) Get(ctx context.Context, field string) (any, error) {
	if err := rs.EnsureOne(); err != nil {
		return nil, err
	}

	return rs.fieldValue(ctx, rs.ids[0], field)
}

// Set implements model.RecordBatch: it coerces value and caches it for the
// record id.
func (rs *RecordSet) Set(ctx context.Context, id, field string, value any) error {
	f, ok := rs.model.Field(field)
	if !ok {
		return fieldNotFound(rs.model, field)
	}

	coerced, err := f.ConvertToCache(value)
	if err != nil {
		return err
	}

	rs.env.setCache(rs.model.Name, field, id, coerced)

	return nil
}

// GetAt implements model.RecordBatch.
func (rs *RecordSet) GetAt(ctx context.Context, id, field string) (any, error) {
	return rs.fieldValue(ctx, id, field)
}

func fieldNotFound(m *model.Model, field string) error {
	return norm.ValidateBusinessError(cn.ErrFieldNotFound, m.Name, field)
}

// fieldValue resolves one field of one record, batching the load across the
// prefetch set on a miss.
func (rs *RecordSet) fieldValue(ctx context.Context, id, field string) (any, error) {
	f, ok := rs.model.Field(field)
	if !ok {
		return nil, fieldNotFound(rs.model, field)
	}

	if value, hit := rs.env.cache.Get(rs.model.Name, field, id); hit {
		return value, nil
	}

	rs.env.prefetch.recordAccess(rs.model.Name, field)

	switch {
	case f.IsComputed() && !f.Compute.Store:
		if err := rs.computeField(ctx, f); err != nil {
			return nil, err
		}
	case f.IsRelated() && !f.RelatedStore:
		if err := rs.loadRelated(ctx, f); err != nil {
			return nil, err
		}
	case f.Kind == model.KindOne2Many:
		if err := rs.loadOne2Many(ctx, f); err != nil {
			return nil, err
		}
	default:
		if err := rs.loadStored(ctx, f, cn.DefaultPrefetchDepth); err != nil {
			return nil, err
		}
	}

	value, _ := rs.env.cache.Get(rs.model.Name, field, id)

	return value, nil
}

// batchIDs is the prefetch set plus the recordset's own ids.
func (rs *RecordSet) batchIDs() []string {
	seen := make(map[string]struct{}, len(rs.prefetchIDs)+len(rs.ids))

	var out []string

	for _, id := range append(append([]string{}, rs.prefetchIDs...), rs.ids...) {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

// loadStored fetches field plus its prefetch companions for every id in the
// batch still missing from the cache, in one store call per chunk. Loaded
// relational values chain into a bounded companion prefetch of the target
// model.
func (rs *RecordSet) loadStored(ctx context.Context, f *model.Field, depth int) error {
	missing := rs.env.cache.MissingIDs(rs.model.Name, f.Name, rs.batchIDs())
	if len(missing) == 0 {
		return nil
	}

	companions := rs.companionFields(f)

	projection := make([]string, 0, len(companions)+1)
	projection = append(projection, "_id")

	for _, name := range companions {
		if name != "id" {
			projection = append(projection, name)
		}
	}

	for start := 0; start < len(missing); start += cn.DefaultPrefetchLimit {
		end := start + cn.DefaultPrefetchLimit
		if end > len(missing) {
			end = len(missing)
		}

		if err := rs.loadChunk(ctx, missing[start:end], companions, projection); err != nil {
			return err
		}
	}

	// Chained prefetch: pull the target model's companions for the ids the
	// relational field just produced.
	if f.Kind == model.KindMany2One || f.Kind == model.KindOne2One {
		if depth > 0 {
			if err := rs.chainPrefetch(ctx, f, missing, depth-1); err != nil {
				return err
			}
		}
	}

	return nil
}

// companionFields returns the stored fields loaded together with f: f
// itself, declared prefetch fields and recently-accessed fields.
func (rs *RecordSet) companionFields(f *model.Field) []string {
	seen := map[string]struct{}{f.Name: {}}
	companions := []string{f.Name}

	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}

		companion, ok := rs.model.Field(name)
		if !ok || !companion.IsStored() || name == "id" {
			return
		}

		seen[name] = struct{}{}
		companions = append(companions, name)
	}

	for _, name := range rs.model.PrefetchFieldNames() {
		add(name)
	}

	for _, name := range rs.env.prefetch.commonFields(rs.model.Name) {
		add(name)
	}

	return companions
}

func (rs *RecordSet) loadChunk(ctx context.Context, ids, companions, projection []string) error {
	oids := make([]any, 0, len(ids))

	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return err
		}

		oids = append(oids, oid)
	}

	ctx = rs.env.opCtx(ctx)

	cursor, err := rs.env.Store.Find(ctx, rs.model.Collection, bson.M{"_id": bson.M{"$in": oids}}, adapter.FindOptions{Projection: projection})
	if err != nil {
		return err
	}

	found := make(map[string]struct{}, len(ids))

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			_ = cursor.Close(ctx)

			return err
		}

		oid, ok := doc["_id"].(primitive.ObjectID)
		if !ok {
			continue
		}

		id := oid.Hex()
		found[id] = struct{}{}

		for _, name := range companions {
			f, _ := rs.model.Field(name)

			value, err := f.ConvertFromStore(doc[name])
			if err != nil {
				_ = cursor.Close(ctx)

				return err
			}

			rs.env.cache.Set(rs.model.Name, name, id, value)
		}

		rs.env.cache.Set(rs.model.Name, "id", id, id)
	}

	if err := cursor.Err(); err != nil {
		_ = cursor.Close(ctx)

		return err
	}

	if err := cursor.Close(ctx); err != nil {
		return err
	}

	// Ids absent from the store still count as loaded so they are not
	// refetched on every access.
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			for _, name := range companions {
				rs.env.cache.Set(rs.model.Name, name, id, nil)
			}
		}
	}

	return nil
}

// chainPrefetch warms the cache of the relation target with its own
// companion fields for every id the loaded field references.
func (rs *RecordSet) chainPrefetch(ctx context.Context, f *model.Field, loadedIDs []string, depth int) error {
	var targetIDs []string

	seen := map[string]struct{}{}

	for _, id := range loadedIDs {
		value, hit := rs.env.cache.Get(rs.model.Name, f.Name, id)
		if !hit || value == nil {
			continue
		}

		ref, ok := value.(string)
		if !ok {
			continue
		}

		if _, dup := seen[ref]; dup {
			continue
		}

		seen[ref] = struct{}{}
		targetIDs = append(targetIDs, ref)
	}

	if len(targetIDs) == 0 {
		return nil
	}

	target, err := Browse(rs.env, f.Relation.Model, targetIDs)
	if err != nil {
		return err
	}

	common := target.model.PrefetchFieldNames()
	if len(common) == 0 {
		common = rs.env.prefetch.commonFields(target.model.Name)
	}

	for _, name := range common {
		companion, ok := target.model.Field(name)
		if !ok || !companion.IsStored() {
			continue
		}

		if err := target.loadStored(ctx, companion, depth); err != nil {
			return err
		}
	}

	return nil
}

// loadRelated resolves a read-through related field by traversing its
// relation path for every id in the batch.
func (rs *RecordSet) loadRelated(ctx context.Context, f *model.Field) error {
	for _, id := range rs.env.cache.MissingIDs(rs.model.Name, f.Name, rs.batchIDs()) {
		value, err := rs.traverse(ctx, id, f.RelatedPath)
		if err != nil {
			return err
		}

		rs.env.cache.Set(rs.model.Name, f.Name, id, value)
	}

	return nil
}

// traverse walks a dotted path from one record, following relation ids
// through the cache-backed loader.
func (rs *RecordSet) traverse(ctx context.Context, id, path string) (any, error) {
	current := rs
	currentID := id

	segments := splitPath(path)

	for i, segment := range segments {
		value, err := current.withIDs([]string{currentID}).fieldValue(ctx, currentID, segment)
		if err != nil {
			return nil, err
		}

		if i == len(segments)-1 {
			return value, nil
		}

		f, ok := current.model.Field(segment)
		if !ok || !f.Kind.IsRelational() {
			return nil, fieldNotFound(current.model, path)
		}

		ref, ok := value.(string)
		if !ok || ref == "" {
			return nil, nil
		}

		next, err := Browse(current.env, f.Relation.Model, []string{ref})
		if err != nil {
			return nil, err
		}

		current = next
		currentID = ref
	}

	return nil, nil
}

// loadOne2Many materializes an inverse relation by one search on the target
// collection grouped by the inverse key.
func (rs *RecordSet) loadOne2Many(ctx context.Context, f *model.Field) error {
	missing := rs.env.cache.MissingIDs(rs.model.Name, f.Name, rs.batchIDs())
	if len(missing) == 0 {
		return nil
	}

	target, err := rs.env.Registry.Model(f.Relation.Model)
	if err != nil {
		return err
	}

	oids := make([]any, 0, len(missing))

	for _, id := range missing {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return err
		}

		oids = append(oids, oid)
	}

	ctx = rs.env.opCtx(ctx)

	inverse := f.Relation.Inverse

	cursor, err := rs.env.Store.Find(ctx, target.Collection, bson.M{inverse: bson.M{"$in": oids}}, adapter.FindOptions{Projection: []string{"_id", inverse}})
	if err != nil {
		return err
	}

	grouped := make(map[string][]string, len(missing))

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			_ = cursor.Close(ctx)

			return err
		}

		oid, ok := doc["_id"].(primitive.ObjectID)
		if !ok {
			continue
		}

		owner, ok := doc[inverse].(primitive.ObjectID)
		if !ok {
			continue
		}

		grouped[owner.Hex()] = append(grouped[owner.Hex()], oid.Hex())
	}

	if err := cursor.Err(); err != nil {
		_ = cursor.Close(ctx)

		return err
	}

	if err := cursor.Close(ctx); err != nil {
		return err
	}

	for _, id := range missing {
		rs.env.cache.Set(rs.model.Name, f.Name, id, grouped[id])
	}

	return nil
}

func splitPath(path string) []string {
	var (
		segments []string
		start    int
	)

	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}

	return append(segments, path[start:])
}

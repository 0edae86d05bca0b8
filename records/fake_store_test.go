package records

import (
	"context"
	"regexp"
	"sync"

	"github.com/LerianStudio/lib-norm/adapter"
	"github.com/LerianStudio/lib-norm/events"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeStore is an in-memory adapter.Store covering the filter surface the
// runtime emits. Documents keep insertion order, matching store-natural
// ordering.
type fakeStore struct {
	mu          sync.Mutex
	collections map[string][]bson.M
	snapshot    map[string][]bson.M

	finds      int
	inserts    int
	updates    int
	deletes    int
	aggregates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: map[string][]bson.M{}}
}

func (s *fakeStore) FindCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.finds
}

func (s *fakeStore) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finds, s.inserts, s.updates, s.deletes, s.aggregates = 0, 0, 0, 0, 0
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	return out
}

func (s *fakeStore) Insert(ctx context.Context, collection string, docs []bson.M) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts++

	ids := make([]string, len(docs))

	for i, doc := range docs {
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = primitive.NewObjectID()
		}

		ids[i] = doc["_id"].(primitive.ObjectID).Hex()
		s.collections[collection] = append(s.collections[collection], copyDoc(doc))
	}

	return ids, nil
}

func matchCondition(docValue any, cond any) bool {
	condDoc, ok := cond.(bson.M)
	if !ok {
		if regex, isRegex := cond.(primitive.Regex); isRegex {
			str, isStr := docValue.(string)
			if !isStr {
				return false
			}

			pattern := regex.Pattern
			if regex.Options == "i" {
				pattern = "(?i)" + pattern
			}

			matched, err := regexp.MatchString(pattern, str)

			return err == nil && matched
		}

		return equalValues(docValue, cond)
	}

	for op, operand := range condDoc {
		switch op {
		case "$in":
			if !containsValue(operand, docValue) {
				return false
			}
		case "$nin":
			if containsValue(operand, docValue) {
				return false
			}
		case "$ne":
			if equalValues(docValue, operand) {
				return false
			}
		case "$gt":
			if compareValues(docValue, operand) <= 0 {
				return false
			}
		case "$gte":
			if compareValues(docValue, operand) < 0 {
				return false
			}
		case "$lt":
			if compareValues(docValue, operand) >= 0 {
				return false
			}
		case "$lte":
			if compareValues(docValue, operand) > 0 {
				return false
			}
		case "$not":
			if matchCondition(docValue, operand) {
				return false
			}
		default:
			return false
		}
	}

	return true
}

func containsValue(operand, docValue any) bool {
	items, ok := operand.([]any)
	if !ok {
		return false
	}

	// Array-valued document fields overlap-match.
	if docItems, isArray := docValue.([]any); isArray {
		for _, item := range items {
			for _, dv := range docItems {
				if equalValues(dv, item) {
					return true
				}
			}
		}

		return false
	}

	for _, item := range items {
		if equalValues(docValue, item) {
			return true
		}
	}

	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ao, ok := a.(primitive.ObjectID); ok {
		if bo, ok := b.(primitive.ObjectID); ok {
			return ao == bo
		}

		return false
	}

	return a == b
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok2 := a.(string)
	bs, bok2 := b.(string)

	if aok2 && bok2 {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	return 0
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func matchFilter(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range asFilterList(cond) {
				if !matchFilter(doc, sub) {
					return false
				}
			}
		case "$or":
			subs := asFilterList(cond)
			matched := false

			for _, sub := range subs {
				if matchFilter(doc, sub) {
					matched = true
					break
				}
			}

			if len(subs) > 0 && !matched {
				return false
			}
		case "$nor":
			for _, sub := range asFilterList(cond) {
				if matchFilter(doc, sub) {
					return false
				}
			}
		default:
			if !matchCondition(doc[key], cond) {
				return false
			}
		}
	}

	return true
}

func asFilterList(cond any) []bson.M {
	switch t := cond.(type) {
	case []bson.M:
		return t
	case []any:
		out := make([]bson.M, 0, len(t))
		for _, item := range t {
			if m, ok := item.(bson.M); ok {
				out = append(out, m)
			}
		}

		return out
	default:
		return nil
	}
}

type fakeCursor struct {
	docs []bson.M
	pos  int
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}

	c.pos++

	return true
}

func (c *fakeCursor) Decode(v any) error {
	doc := c.docs[c.pos-1]

	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}

	return bson.Unmarshal(raw, v)
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Close(ctx context.Context) error { return nil }

func (s *fakeStore) Find(ctx context.Context, collection string, filter bson.M, opts adapter.FindOptions) (adapter.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finds++

	var matched []bson.M

	for _, doc := range s.collections[collection] {
		if filter == nil || matchFilter(doc, filter) {
			matched = append(matched, projectDoc(doc, opts.Projection))
		}
	}

	if opts.Skip > 0 && int(opts.Skip) < len(matched) {
		matched = matched[opts.Skip:]
	} else if opts.Skip > 0 {
		matched = nil
	}

	if opts.Limit > 0 && int(opts.Limit) < len(matched) {
		matched = matched[:opts.Limit]
	}

	return &fakeCursor{docs: matched}, nil
}

func projectDoc(doc bson.M, projection []string) bson.M {
	if len(projection) == 0 {
		return copyDoc(doc)
	}

	out := bson.M{"_id": doc["_id"]}

	for _, field := range projection {
		if value, ok := doc[field]; ok {
			out[field] = value
		}
	}

	return out
}

func (s *fakeStore) Update(ctx context.Context, collection string, filter bson.M, patch bson.M, multi bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates++

	var modified int64

	for i, doc := range s.collections[collection] {
		if !matchFilter(doc, filter) {
			continue
		}

		if set, ok := patch["$set"].(bson.M); ok {
			for k, v := range set {
				doc[k] = v
			}
		}

		if unset, ok := patch["$unset"].(bson.M); ok {
			for k := range unset {
				delete(doc, k)
			}
		}

		s.collections[collection][i] = doc
		modified++

		if !multi {
			break
		}
	}

	return modified, nil
}

func (s *fakeStore) Delete(ctx context.Context, collection string, filter bson.M, multi bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes++

	var (
		kept    []bson.M
		deleted int64
	)

	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) && (multi || deleted == 0) {
			deleted++

			continue
		}

		kept = append(kept, doc)
	}

	s.collections[collection] = kept

	return deleted, nil
}

func (s *fakeStore) Aggregate(ctx context.Context, collection string, pipeline []bson.M) (adapter.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregates++

	// The runtime only aggregates when lookups are required; the fake keeps
	// to $match-only pipelines.
	var matched []bson.M

	for _, doc := range s.collections[collection] {
		ok := true

		for _, stage := range pipeline {
			if filter, isMatch := stage["$match"].(bson.M); isMatch && !matchFilter(doc, filter) {
				ok = false
				break
			}
		}

		if ok {
			matched = append(matched, copyDoc(doc))
		}
	}

	return &fakeCursor{docs: matched}, nil
}

// fakeTxn snapshots the whole store on begin and restores it on rollback.
type fakeTxn struct {
	store *fakeStore
	done  bool
}

func (s *fakeStore) Begin(ctx context.Context) (adapter.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = map[string][]bson.M{}

	for name, docs := range s.collections {
		copied := make([]bson.M, len(docs))
		for i, doc := range docs {
			copied[i] = copyDoc(doc)
		}

		s.snapshot[name] = copied
	}

	return &fakeTxn{store: s}, nil
}

func (t *fakeTxn) Context(ctx context.Context) context.Context { return ctx }

func (t *fakeTxn) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.store.snapshot = nil
	t.done = true

	return nil
}

func (t *fakeTxn) Rollback(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.snapshot != nil {
		t.store.collections = t.store.snapshot
		t.store.snapshot = nil
	}

	t.done = true

	return nil
}

// fakeBus records published events.
type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBus) Publish(ctx context.Context, event events.Event, opts *events.PublishOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event.Name)

	return nil
}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string{}, b.events...)
}

package records

import (
	"context"
	"fmt"
	"testing"

	norm "github.com/LerianStudio/lib-norm"
	"github.com/LerianStudio/lib-norm/adapter"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/model"
	"github.com/LerianStudio/lib-norm/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testDeclarations() []*model.Declaration {
	partner := &model.Declaration{
		Name:       "res.partner",
		Collection: "partners",
		Fields: []*model.Field{
			{Name: "name", Kind: model.KindString, Required: true, Prefetch: true},
			{Name: "region", Kind: model.KindString},
		},
		ACL: map[cn.Operation][]string{
			cn.OperationRead:   {"sales"},
			cn.OperationCreate: {"sales"},
			cn.OperationWrite:  {"sales"},
			cn.OperationDelete: {"sales"},
		},
	}

	order := &model.Declaration{
		Name:       "sale.order",
		Collection: "orders",
		Fields: []*model.Field{
			{Name: "reference", Kind: model.KindString},
			{Name: "region", Kind: model.KindString},
			{Name: "amount", Kind: model.KindFloat},
			{Name: "customer", Kind: model.KindMany2One, Relation: &model.RelationSpec{Model: "res.partner"}, Prefetch: true},
			{Name: "customer_name", Kind: model.KindString, RelatedPath: "customer.name"},
		},
		ACL: map[cn.Operation][]string{
			cn.OperationRead:   {"sales"},
			cn.OperationCreate: {"sales"},
			cn.OperationWrite:  {"sales"},
			cn.OperationDelete: {"sales"},
		},
		Rules: []model.RuleSpec{
			{
				Operation: cn.OperationRead,
				Groups:    []string{"sales"},
				Domain:    []any{[]any{"region", "=", "user.region"}},
				Priority:  10,
				Active:    true,
			},
		},
		AuditSpec: map[cn.Operation][]string{
			cn.OperationWrite: {"region", "amount"},
		},
	}

	return []*model.Declaration{partner, order}
}

func testEnv(t *testing.T) (*Environment, *fakeStore, *fakeBus) {
	t.Helper()

	registry, err := model.BuildRegistry(testDeclarations())
	require.NoError(t, err)

	store := newFakeStore()
	bus := &fakeBus{}

	directory := security.StaticDirectory{
		"u1": &security.User{
			ID:         "u1",
			Groups:     []string{"sales"},
			Attributes: map[string]any{"region": "EU"},
		},
		"su": &security.User{ID: "su", Superuser: true},
	}

	sec := &Security{
		ACL:     &security.AccessControl{Registry: registry},
		Rules:   &security.RuleEngine{Registry: registry},
		Users:   directory,
		Auditor: &security.Auditor{Store: store},
	}

	env := NewEnvironment(store, registry, "su", sec, bus, nil)

	return env, store, bus
}

func seedOrders(t *testing.T, store *fakeStore, regions []string) []string {
	t.Helper()

	docs := make([]bson.M, len(regions))
	for i, region := range regions {
		docs[i] = bson.M{"reference": fmt.Sprintf("SO-%03d", i), "region": region, "amount": float64(i * 10)}
	}

	ids, err := store.Insert(context.Background(), "orders", docs)
	require.NoError(t, err)

	return ids
}

func TestSearch_RecordRulesNarrowResults(t *testing.T) {
	t.Parallel()

	env, store, _ := testEnv(t)
	ctx := context.Background()

	ids := seedOrders(t, store, []string{"EU", "US", "EU", "APAC"})

	asSales := env.WithUser("u1")

	narrowed, err := Search(ctx, asSales, "sale.order", []any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, narrowed.IDs())

	all, err := Search(ctx, env, "sale.order", []any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, all.IDs())

	// Rules only narrow: the constrained result is a subset of the
	// superuser's.
	inAll := map[string]struct{}{}
	for _, id := range all.IDs() {
		inAll[id] = struct{}{}
	}

	for _, id := range narrowed.IDs() {
		_, ok := inAll[id]
		assert.True(t, ok)
	}
}

func TestSearch_DeniedWithoutACL(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv(t)

	stranger := env.WithUser("u1")
	stranger.Security.Users.(security.StaticDirectory)["u2"] = &security.User{ID: "u2", Groups: []string{"hr"}}

	_, err := Search(context.Background(), env.WithUser("u2"), "sale.order", []any{}, nil)
	require.Error(t, err)

	var forbidden norm.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestCreate_CacheCoherence(t *testing.T) {
	t.Parallel()

	env, store, bus := testEnv(t)
	ctx := context.Background()

	rs, err := Create(ctx, env, "res.partner", []map[string]any{
		{"name": "Acme", "region": "EU"},
	})
	require.NoError(t, err)
	require.Len(t, rs.IDs(), 1)

	store.ResetCounters()

	// A read after a write in the same environment observes the written
	// value straight from the cache.
	name, err := rs.Get(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)
	assert.Equal(t, 0, store.FindCalls())

	assert.Contains(t, bus.names(), "res.partner.after_create")
}

func TestCreate_ValidationFailures(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv(t)
	ctx := context.Background()

	t.Run("missing required field", func(t *testing.T) {
		t.Parallel()

		_, err := Create(ctx, env, "res.partner", []map[string]any{{"region": "EU"}})
		require.Error(t, err)

		var verr norm.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "name", verr.FieldPath)
		assert.Equal(t, cn.ErrRequiredField.Error(), verr.Code)
	})

	t.Run("multiple failures accumulate", func(t *testing.T) {
		t.Parallel()

		_, err := Create(ctx, env, "res.partner", []map[string]any{{"region": 42}})
		require.Error(t, err)

		var kerr norm.ValidationKnownFieldsError
		require.ErrorAs(t, err, &kerr)
		assert.Len(t, kerr.Fields, 2)
	})
}

func TestWrite_UpdatesStoreAndCache(t *testing.T) {
	t.Parallel()

	env, store, bus := testEnv(t)
	ctx := context.Background()

	ids := seedOrders(t, store, []string{"EU"})

	rs, err := Browse(env, "sale.order", ids)
	require.NoError(t, err)

	require.NoError(t, rs.Write(ctx, map[string]any{"region": "US"}))

	region, err := rs.Get(ctx, "region")
	require.NoError(t, err)
	assert.Equal(t, "US", region)

	// The store document changed too.
	found, err := Search(ctx, env, "sale.order", []any{[]any{"region", "=", "US"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, found.IDs())

	assert.Contains(t, bus.names(), "sale.order.after_write")
}

func TestWrite_AuditTrail(t *testing.T) {
	t.Parallel()

	env, store, _ := testEnv(t)
	ctx := context.Background()

	ids := seedOrders(t, store, []string{"EU"})

	rs, err := Browse(env, "sale.order", ids)
	require.NoError(t, err)

	require.NoError(t, rs.Write(ctx, map[string]any{"region": "US"}))

	cursor, err := store.Find(ctx, security.DefaultAuditCollection, bson.M{}, adapter.FindOptions{})
	require.NoError(t, err)

	var entries []bson.M

	for cursor.Next(ctx) {
		var doc bson.M
		require.NoError(t, cursor.Decode(&doc))
		entries = append(entries, doc)
	}

	require.Len(t, entries, 1)
	assert.Equal(t, "write", entries[0]["operation"])
	assert.Equal(t, "sale.order", entries[0]["model"])
	assert.Equal(t, "su", entries[0]["user_id"])
}

func TestDelete_InvalidatesCache(t *testing.T) {
	t.Parallel()

	env, store, bus := testEnv(t)
	ctx := context.Background()

	ids := seedOrders(t, store, []string{"EU", "US"})

	rs, err := Browse(env, "sale.order", ids[:1])
	require.NoError(t, err)

	_, err = rs.Get(ctx, "region")
	require.NoError(t, err)

	require.NoError(t, rs.Delete(ctx))

	remaining, err := Search(ctx, env, "sale.order", []any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ids[1:], remaining.IDs())

	assert.Contains(t, bus.names(), "sale.order.after_delete")

	_, hit := env.Cache().Get("sale.order", "region", ids[0])
	assert.False(t, hit)
}

func TestEnsureOne(t *testing.T) {
	t.Parallel()

	env, store, _ := testEnv(t)

	ids := seedOrders(t, store, []string{"EU", "US"})

	rs, err := Browse(env, "sale.order", ids)
	require.NoError(t, err)

	err = rs.EnsureOne()
	require.Error(t, err)

	var verr norm.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, cn.ErrSingletonExpected.Error(), verr.Code)

	single := rs.Records()[0]
	assert.NoError(t, single.EnsureOne())
}

func TestRecordSetAlgebra(t *testing.T) {
	t.Parallel()

	env, store, _ := testEnv(t)

	ids := seedOrders(t, store, []string{"EU", "US", "APAC"})

	rs, err := Browse(env, "sale.order", ids)
	require.NoError(t, err)

	left, err := Browse(env, "sale.order", ids[:2])
	require.NoError(t, err)

	right, err := Browse(env, "sale.order", ids[1:])
	require.NoError(t, err)

	assert.Equal(t, ids, left.Union(right).IDs())
	assert.Equal(t, ids[1:2], left.Intersection(right).IDs())
	assert.Equal(t, ids[:1], left.Difference(right).IDs())
	assert.Equal(t, append(append([]string{}, ids[:2]...), ids[1:]...), left.Concat(right).IDs())

	filtered, err := rs.Filtered(context.Background(), func(ctx context.Context, rec *RecordSet) (bool, error) {
		region, err := rec.Get(ctx, "region")
		if err != nil {
			return false, err
		}

		return region == "EU", nil
	})
	require.NoError(t, err)
	assert.Equal(t, ids[:1], filtered.IDs())

	sorted, err := rs.Sorted(context.Background(), "region", false)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, sorted.IDs())
}

func TestPrefetch_BatchesStoreCalls(t *testing.T) {
	t.Parallel()

	env, store, _ := testEnv(t)
	ctx := context.Background()

	const n = 100

	partnerDocs := make([]bson.M, n)
	for i := range partnerDocs {
		partnerDocs[i] = bson.M{"name": fmt.Sprintf("Customer %d", i), "region": "EU"}
	}

	partnerIDs, err := store.Insert(ctx, "partners", partnerDocs)
	require.NoError(t, err)

	orderDocs := make([]bson.M, n)
	for i := range orderDocs {
		oid, err := primitive.ObjectIDFromHex(partnerIDs[i])
		require.NoError(t, err)

		orderDocs[i] = bson.M{"reference": fmt.Sprintf("SO-%03d", i), "region": "EU", "customer": oid}
	}

	orderIDs, err := store.Insert(ctx, "orders", orderDocs)
	require.NoError(t, err)

	rs, err := Browse(env, "sale.order", orderIDs)
	require.NoError(t, err)

	store.ResetCounters()

	// Reading customer.name across 100 records costs one find on orders and
	// one find on partners, not 101.
	for i, rec := range rs.Records() {
		name, err := rec.Get(ctx, "customer_name")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("Customer %d", i), name)
	}

	assert.Equal(t, 2, store.FindCalls())
}

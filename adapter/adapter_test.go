package adapter

import (
	"context"
	"errors"
	"testing"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestMapStoreError(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, mapStoreError("insert", "orders", nil))
	})

	t.Run("duplicate key becomes conflict", func(t *testing.T) {
		t.Parallel()

		dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}

		err := mapStoreError("insert", "orders", dup)

		var conflict norm.EntityConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, cn.ErrDuplicateKey.Error(), conflict.Code)
	})

	t.Run("network timeout becomes transient", func(t *testing.T) {
		t.Parallel()

		err := mapStoreError("find", "orders", context.DeadlineExceeded)

		var transient TransientStoreError
		require.ErrorAs(t, err, &transient)
		assert.True(t, IsTransient(err))
	})

	t.Run("unknown errors are fatal", func(t *testing.T) {
		t.Parallel()

		err := mapStoreError("find", "orders", errors.New("boom"))

		var fatal FatalStoreError
		require.ErrorAs(t, err, &fatal)
		assert.False(t, IsTransient(err))
	})
}

// treeStore serves a fixed parent tree through the Store Find surface.
type treeStore struct {
	Store
	// children maps a parent hex id to its direct child ids.
	children map[string][]primitive.ObjectID
}

type sliceCursor struct {
	docs []bson.M
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}

	c.pos++

	return true
}

func (c *sliceCursor) Decode(v any) error {
	raw, err := bson.Marshal(c.docs[c.pos-1])
	if err != nil {
		return err
	}

	return bson.Unmarshal(raw, v)
}

func (c *sliceCursor) Err() error                     { return nil }
func (c *sliceCursor) Close(ctx context.Context) error { return nil }

func (s *treeStore) Find(ctx context.Context, collection string, filter bson.M, opts FindOptions) (Cursor, error) {
	parents := filter["parent"].(bson.M)["$in"].([]any)

	var docs []bson.M

	for _, parent := range parents {
		oid := parent.(primitive.ObjectID)
		for _, child := range s.children[oid.Hex()] {
			docs = append(docs, bson.M{"_id": child})
		}
	}

	return &sliceCursor{docs: docs}, nil
}

func TestParentClosureResolver(t *testing.T) {
	t.Parallel()

	registry, err := model.BuildRegistry([]*model.Declaration{{
		Name:       "res.partner",
		Collection: "partners",
		Fields: []*model.Field{
			{Name: "name", Kind: model.KindString},
			{Name: "parent", Kind: model.KindMany2One, Relation: &model.RelationSpec{Model: "res.partner"}},
		},
	}})
	require.NoError(t, err)

	root := primitive.NewObjectID()
	childA := primitive.NewObjectID()
	childB := primitive.NewObjectID()
	grandchild := primitive.NewObjectID()

	store := &treeStore{children: map[string][]primitive.ObjectID{
		root.Hex():   {childA, childB},
		childA.Hex(): {grandchild},
	}}

	resolver := &ParentClosureResolver{Store: store, Registry: registry}

	closure, err := resolver.ChildrenOf(context.Background(), "res.partner", []string{root.Hex()})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{root.Hex(), childA.Hex(), childB.Hex(), grandchild.Hex()}, closure)
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package adapter

import (
	"context"
	"strings"

	norm "github.com/LerianStudio/lib-norm"
	"github.com/LerianStudio/lib-norm/mpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the MongoDB implementation of Store over a session pool.
type MongoStore struct {
	Pool     *mpool.Pool
	Database string
}

// NewMongoStore returns a Store backed by pool.
func NewMongoStore(pool *mpool.Pool, database string) *MongoStore {
	return &MongoStore{
		Pool:     pool,
		Database: database,
	}
}

func (s *MongoStore) collection(session mpool.Session, name string) (*mongo.Collection, error) {
	ms, ok := session.(*mpool.MongoSession)
	if !ok {
		return nil, FatalStoreError{Op: "collection", Err: mongo.ErrClientDisconnected}
	}

	return ms.Client().Database(strings.ToLower(s.Database)).Collection(strings.ToLower(name)), nil
}

// Insert implements Store. Missing _id keys are assigned fresh ObjectIDs so
// the generated ids can be returned in input order.
func (s *MongoStore) Insert(ctx context.Context, collection string, docs []bson.M) ([]string, error) {
	tracer := norm.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "adapter.insert")
	defer span.End()

	ids := make([]string, len(docs))

	for i, doc := range docs {
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = primitive.NewObjectID()
		}

		oid, ok := doc["_id"].(primitive.ObjectID)
		if !ok {
			return nil, FatalStoreError{Op: "insert", Err: mongo.ErrNilDocument}
		}

		ids[i] = oid.Hex()
	}

	err := s.Pool.Execute(ctx, func(ctx context.Context, session mpool.Session) error {
		coll, err := s.collection(session, collection)
		if err != nil {
			return err
		}

		payload := make([]any, len(docs))
		for i, doc := range docs {
			payload[i] = doc
		}

		_, err = coll.InsertMany(ctx, payload)

		return err
	})
	if err != nil {
		norm.HandleSpanError(&span, "Failed to insert documents", err)

		return nil, mapStoreError("insert", collection, err)
	}

	return ids, nil
}

// Find implements Store. The returned cursor keeps a borrowed session until
// Close.
func (s *MongoStore) Find(ctx context.Context, collection string, filter bson.M, opts FindOptions) (Cursor, error) {
	tracer := norm.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "adapter.find")
	defer span.End()

	session, err := s.Pool.Acquire(ctx)
	if err != nil {
		norm.HandleSpanError(&span, "Failed to acquire session", err)

		return nil, err
	}

	coll, err := s.collection(session, collection)
	if err != nil {
		s.Pool.Release(session, false)

		return nil, err
	}

	findOpts := options.Find()

	if len(opts.Projection) > 0 {
		projection := bson.M{}
		for _, field := range opts.Projection {
			projection[field] = 1
		}

		findOpts.SetProjection(projection)
	}

	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}

	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	if opts.BatchSize > 0 {
		findOpts.SetBatchSize(opts.BatchSize)
	}

	if filter == nil {
		filter = bson.M{}
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		s.Pool.Release(session, IsTransient(err))
		norm.HandleSpanError(&span, "Failed to run find", err)

		return nil, mapStoreError("find", collection, err)
	}

	return &borrowedCursor{cursor: cursor, pool: s.Pool, session: session}, nil
}

// Update implements Store.
func (s *MongoStore) Update(ctx context.Context, collection string, filter bson.M, patch bson.M, multi bool) (int64, error) {
	tracer := norm.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "adapter.update")
	defer span.End()

	var modified int64

	err := s.Pool.Execute(ctx, func(ctx context.Context, session mpool.Session) error {
		coll, err := s.collection(session, collection)
		if err != nil {
			return err
		}

		var result *mongo.UpdateResult

		if multi {
			result, err = coll.UpdateMany(ctx, filter, patch)
		} else {
			result, err = coll.UpdateOne(ctx, filter, patch)
		}

		if err != nil {
			return err
		}

		modified = result.ModifiedCount

		return nil
	})
	if err != nil {
		norm.HandleSpanError(&span, "Failed to update documents", err)

		return 0, mapStoreError("update", collection, err)
	}

	return modified, nil
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context, collection string, filter bson.M, multi bool) (int64, error) {
	tracer := norm.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "adapter.delete")
	defer span.End()

	var deleted int64

	err := s.Pool.Execute(ctx, func(ctx context.Context, session mpool.Session) error {
		coll, err := s.collection(session, collection)
		if err != nil {
			return err
		}

		var result *mongo.DeleteResult

		if multi {
			result, err = coll.DeleteMany(ctx, filter)
		} else {
			result, err = coll.DeleteOne(ctx, filter)
		}

		if err != nil {
			return err
		}

		deleted = result.DeletedCount

		return nil
	})
	if err != nil {
		norm.HandleSpanError(&span, "Failed to delete documents", err)

		return 0, mapStoreError("delete", collection, err)
	}

	return deleted, nil
}

// Aggregate implements Store. The returned cursor keeps a borrowed session
// until Close.
func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline []bson.M) (Cursor, error) {
	tracer := norm.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "adapter.aggregate")
	defer span.End()

	session, err := s.Pool.Acquire(ctx)
	if err != nil {
		norm.HandleSpanError(&span, "Failed to acquire session", err)

		return nil, err
	}

	coll, err := s.collection(session, collection)
	if err != nil {
		s.Pool.Release(session, false)

		return nil, err
	}

	stages := make(mongo.Pipeline, 0, len(pipeline))

	for _, stage := range pipeline {
		doc := bson.D{}
		for key, value := range stage {
			doc = append(doc, bson.E{Key: key, Value: value})
		}

		stages = append(stages, doc)
	}

	cursor, err := coll.Aggregate(ctx, stages)
	if err != nil {
		s.Pool.Release(session, IsTransient(err))
		norm.HandleSpanError(&span, "Failed to run aggregate", err)

		return nil, mapStoreError("aggregate", collection, err)
	}

	return &borrowedCursor{cursor: cursor, pool: s.Pool, session: session}, nil
}

// Begin implements Store using a driver session transaction.
func (s *MongoStore) Begin(ctx context.Context) (Txn, error) {
	session, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	ms, ok := session.(*mpool.MongoSession)
	if !ok {
		s.Pool.Release(session, false)

		return nil, FatalStoreError{Op: "begin", Err: mongo.ErrClientDisconnected}
	}

	driverSession, err := ms.Client().StartSession()
	if err != nil {
		s.Pool.Release(session, IsTransient(err))

		return nil, mapStoreError("begin", "transaction", err)
	}

	if err := driverSession.StartTransaction(); err != nil {
		driverSession.EndSession(ctx)
		s.Pool.Release(session, false)

		return nil, mapStoreError("begin", "transaction", err)
	}

	return &mongoTxn{
		session:       session,
		driverSession: driverSession,
		pool:          s.Pool,
	}, nil
}

// borrowedCursor wraps a driver cursor and the pooled session backing it.
type borrowedCursor struct {
	cursor   *mongo.Cursor
	pool     *mpool.Pool
	session  mpool.Session
	released bool
}

func (c *borrowedCursor) Next(ctx context.Context) bool {
	return c.cursor.Next(ctx)
}

func (c *borrowedCursor) Decode(v any) error {
	return c.cursor.Decode(v)
}

func (c *borrowedCursor) Err() error {
	return c.cursor.Err()
}

func (c *borrowedCursor) Close(ctx context.Context) error {
	err := c.cursor.Close(ctx)

	if !c.released {
		c.released = true
		c.pool.Release(c.session, IsTransient(err))
	}

	return err
}

// mongoTxn scopes a driver transaction plus the pooled session it rides on.
type mongoTxn struct {
	session       mpool.Session
	driverSession mongo.Session
	pool          *mpool.Pool
	done          bool
}

func (t *mongoTxn) Context(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.driverSession)
}

func (t *mongoTxn) finish(ctx context.Context, err error) error {
	t.driverSession.EndSession(ctx)
	t.pool.Release(t.session, IsTransient(err))
	t.done = true

	return err
}

func (t *mongoTxn) Commit(ctx context.Context) error {
	if t.done {
		return FatalStoreError{Op: "commit", Err: mongo.ErrClientDisconnected}
	}

	return t.finish(ctx, mapStoreError("commit", "transaction", t.driverSession.CommitTransaction(ctx)))
}

func (t *mongoTxn) Rollback(ctx context.Context) error {
	if t.done {
		return FatalStoreError{Op: "rollback", Err: mongo.ErrClientDisconnected}
	}

	return t.finish(ctx, mapStoreError("rollback", "transaction", t.driverSession.AbortTransaction(ctx)))
}

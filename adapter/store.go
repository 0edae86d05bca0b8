// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package adapter abstracts store operations behind a stable interface.
// Every call runs through the session pool's circuit breaker and retry
// policy; cursors borrow their session until closed.
package adapter

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// FindOptions tunes a Find call.
type FindOptions struct {
	Projection []string
	Sort       bson.D
	Skip       int64
	Limit      int64
	BatchSize  int32
}

// Cursor is a lazy, forward-only, finite, non-restartable sequence of
// documents. Closing the cursor releases its borrowed session.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// Txn is a scoped store transaction.
type Txn interface {
	// Context returns a derived context that routes operations through the
	// transaction.
	Context(ctx context.Context) context.Context
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the store-agnostic operation surface the runtime builds on.
//
//go:generate mockgen --destination=store_mock.go --package=adapter . Store
type Store interface {
	// Insert is atomic per document and returns generated ids in input order.
	Insert(ctx context.Context, collection string, docs []bson.M) ([]string, error)
	Find(ctx context.Context, collection string, filter bson.M, opts FindOptions) (Cursor, error)
	Update(ctx context.Context, collection string, filter bson.M, patch bson.M, multi bool) (int64, error)
	Delete(ctx context.Context, collection string, filter bson.M, multi bool) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []bson.M) (Cursor, error)
	Begin(ctx context.Context) (Txn, error)
}

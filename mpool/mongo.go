// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mpool

import (
	"context"

	"github.com/LerianStudio/lib-norm/mmongo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoSession is a Session handle over a shared mongo client. The driver
// multiplexes wire connections internally; the pool bounds how many logical
// store operations run at once.
type MongoSession struct {
	client   *mongo.Client
	database string
}

// Client exposes the underlying driver client.
func (s *MongoSession) Client() *mongo.Client {
	return s.client
}

// Database returns the configured database name.
func (s *MongoSession) Database() string {
	return s.database
}

// Ping implements Session.
func (s *MongoSession) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close implements Session. The shared client outlives individual sessions,
// so closing a session only drops the handle.
func (s *MongoSession) Close(ctx context.Context) error {
	return nil
}

// MongoFactory dials MongoSessions from a connection hub.
type MongoFactory struct {
	Connection *mmongo.MongoConnection
}

// Dial implements Factory.
func (f *MongoFactory) Dial(ctx context.Context) (Session, error) {
	client, err := f.Connection.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	return &MongoSession{client: client, database: f.Connection.Database}, nil
}

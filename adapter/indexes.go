// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package adapter

import (
	"context"
	"strings"

	"github.com/LerianStudio/lib-norm/model"
	"github.com/LerianStudio/lib-norm/mpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the model's declared indexes plus the implicit ones
// (unique fields, soft-delete bookkeeping) if they do not exist yet.
func (s *MongoStore) EnsureIndexes(ctx context.Context, m *model.Model) error {
	var indexModels []mongo.IndexModel

	for _, spec := range m.Indexes {
		keys := bson.D{}
		for _, field := range spec.Fields {
			keys = append(keys, bson.E{Key: field, Value: 1})
		}

		idx := mongo.IndexModel{Keys: keys}

		if spec.Unique {
			opts := options.Index().SetUnique(true)

			if m.SoftDelete {
				opts = opts.SetPartialFilterExpression(bson.D{
					{Key: "deleted_at", Value: nil},
				})
			}

			idx.Options = opts
		}

		indexModels = append(indexModels, idx)
	}

	for _, name := range m.FieldNames() {
		f, _ := m.Field(name)
		if name == "id" || !f.IsStored() {
			continue
		}

		if f.Unique {
			opts := options.Index().SetUnique(true)

			if m.SoftDelete {
				opts = opts.SetPartialFilterExpression(bson.D{
					{Key: "deleted_at", Value: nil},
				})
			}

			indexModels = append(indexModels, mongo.IndexModel{
				Keys:    bson.D{{Key: name, Value: 1}},
				Options: opts,
			})
		} else if f.Indexed {
			indexModels = append(indexModels, mongo.IndexModel{
				Keys: bson.D{{Key: name, Value: 1}},
			})
		}
	}

	if m.SoftDelete {
		indexModels = append(indexModels, mongo.IndexModel{
			Keys: bson.D{{Key: "deleted_at", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.D{
				{Key: "deleted_at", Value: nil},
			}),
		})
	}

	if len(indexModels) == 0 {
		return nil
	}

	return s.Pool.Execute(ctx, func(ctx context.Context, session mpool.Session) error {
		ms, ok := session.(*mpool.MongoSession)
		if !ok {
			return FatalStoreError{Op: "ensure_indexes", Err: mongo.ErrClientDisconnected}
		}

		coll := ms.Client().Database(strings.ToLower(s.Database)).Collection(strings.ToLower(m.Collection))

		_, err := coll.Indexes().CreateMany(ctx, indexModels)

		return err
	})
}

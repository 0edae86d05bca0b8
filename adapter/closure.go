// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package adapter

import (
	"context"

	"github.com/LerianStudio/lib-norm/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParentClosureResolver expands child_of domains by walking the parent
// relation breadth-first through the store.
type ParentClosureResolver struct {
	Store    Store
	Registry *model.Registry
}

// ChildrenOf returns the ids of every record of modelName whose parent chain
// reaches one of roots, roots included.
func (r *ParentClosureResolver) ChildrenOf(ctx context.Context, modelName string, roots []string) ([]string, error) {
	m, err := r.Registry.Model(modelName)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(roots))
	closure := make([]string, 0, len(roots))
	frontier := make([]string, 0, len(roots))

	for _, root := range roots {
		if _, dup := seen[root]; dup {
			continue
		}

		seen[root] = struct{}{}
		closure = append(closure, root)
		frontier = append(frontier, root)
	}

	for len(frontier) > 0 {
		parents := make([]any, 0, len(frontier))

		for _, id := range frontier {
			oid, err := primitive.ObjectIDFromHex(id)
			if err != nil {
				return nil, err
			}

			parents = append(parents, oid)
		}

		cursor, err := r.Store.Find(ctx, m.Collection, bson.M{"parent": bson.M{"$in": parents}}, FindOptions{Projection: []string{"_id"}})
		if err != nil {
			return nil, err
		}

		frontier = frontier[:0]

		for cursor.Next(ctx) {
			var doc struct {
				ID primitive.ObjectID `bson:"_id"`
			}

			if err := cursor.Decode(&doc); err != nil {
				_ = cursor.Close(ctx)

				return nil, err
			}

			id := doc.ID.Hex()
			if _, dup := seen[id]; dup {
				continue
			}

			seen[id] = struct{}{}
			closure = append(closure, id)
			frontier = append(frontier, id)
		}

		if err := cursor.Err(); err != nil {
			_ = cursor.Close(ctx)

			return nil, err
		}

		if err := cursor.Close(ctx); err != nil {
			return nil, err
		}
	}

	return closure, nil
}

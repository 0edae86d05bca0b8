// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mpool

import (
	"context"
	"time"
)

// Session is one store connection handle owned by the pool.
type Session interface {
	// Ping probes the backing store for liveness.
	Ping(ctx context.Context) error
	// Close terminates the underlying connection.
	Close(ctx context.Context) error
}

// Factory dials new sessions on behalf of the pool.
type Factory interface {
	Dial(ctx context.Context) (Session, error)
}

// pooled wraps a Session with the bookkeeping the pool needs.
type pooled struct {
	session    Session
	createdAt  time.Time
	lastUsedAt time.Time
	broken     bool
}

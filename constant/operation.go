// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package constant

// Operation names the record-level operations checked by ACLs, record rules
// and audit specs.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationWrite  Operation = "write"
	OperationDelete Operation = "delete"
)

// DefaultPrefetchLimit bounds how many ids a single prefetch batch may load.
const DefaultPrefetchLimit = 1000

// DefaultPrefetchDepth bounds how many relational hops companion prefetch follows.
const DefaultPrefetchDepth = 2

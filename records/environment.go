// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package records

import (
	"context"

	"github.com/LerianStudio/lib-norm/adapter"
	"github.com/LerianStudio/lib-norm/domain"
	"github.com/LerianStudio/lib-norm/events"
	"github.com/LerianStudio/lib-norm/mlog"
	"github.com/LerianStudio/lib-norm/model"
	"github.com/LerianStudio/lib-norm/security"
)

// EventPublisher is the slice of the event bus the runtime needs. Lifecycle
// events produced inside a transaction are buffered and only reach the
// publisher on commit.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event, opts *events.PublishOptions) error
}

// Security bundles the access layers consulted before every operation.
type Security struct {
	ACL     *security.AccessControl
	Rules   *security.RuleEngine
	Users   security.Directory
	Auditor *security.Auditor
}

// Environment is the per-unit-of-work bundle the recordset carries: store
// handle, user identity, opaque context, registry, cache and prefetch
// registry. Exactly one environment is current on a logical task at a time;
// derived environments share cache and transaction but carry their own
// identity and context.
type Environment struct {
	Store    adapter.Store
	Registry *model.Registry
	UserID   string
	Context  map[string]any

	Security *Security
	Bus      EventPublisher
	Logger   mlog.Logger

	cache    *Cache
	prefetch *prefetchRegistry
	compiler *domain.Compiler
	txn      *Transaction
}

// NewEnvironment builds a root environment. security and bus may be nil for
// embedded use without those layers.
func NewEnvironment(store adapter.Store, registry *model.Registry, userID string, sec *Security, bus EventPublisher, logger mlog.Logger) *Environment {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &Environment{
		Store:    store,
		Registry: registry,
		UserID:   userID,
		Context:  map[string]any{},
		Security: sec,
		Bus:      bus,
		Logger:   logger,
		cache:    NewCache(),
		prefetch: newPrefetchRegistry(),
		compiler: &domain.Compiler{
			Registry: registry,
			Children: &adapter.ParentClosureResolver{Store: store, Registry: registry},
		},
	}
}

// clone copies the environment, sharing cache, prefetch registry and
// transaction.
func (e *Environment) clone() *Environment {
	derived := *e

	derived.Context = make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		derived.Context[k] = v
	}

	return &derived
}

// WithUser derives an environment running as another user. Cache and
// transaction are shared; security decisions use the new identity.
func (e *Environment) WithUser(userID string) *Environment {
	derived := e.clone()
	derived.UserID = userID

	return derived
}

// WithContext derives an environment with extra context keys merged in.
func (e *Environment) WithContext(extra map[string]any) *Environment {
	derived := e.clone()

	for k, v := range extra {
		derived.Context[k] = v
	}

	return derived
}

// Cache exposes the environment cache.
func (e *Environment) Cache() *Cache {
	return e.cache
}

// Txn returns the active transaction, nil in autocommit mode.
func (e *Environment) Txn() *Transaction {
	return e.txn
}

// user resolves the environment's user identity. Without a security bundle
// every environment acts as an anonymous superuser, which keeps the library
// usable stand-alone.
func (e *Environment) user(ctx context.Context) (*security.User, error) {
	if e.Security == nil || e.Security.Users == nil {
		return &security.User{ID: e.UserID, Superuser: true}, nil
	}

	return e.Security.Users.UserByID(ctx, e.UserID)
}

// opCtx routes ctx through the active store transaction.
func (e *Environment) opCtx(ctx context.Context) context.Context {
	if e.txn != nil && !e.txn.done {
		return e.txn.storeTxn.Context(ctx)
	}

	return ctx
}

// includeDeleted reports whether soft-deleted records are visible in this
// environment.
func (e *Environment) includeDeleted() bool {
	v, ok := e.Context["include_deleted"].(bool)

	return ok && v
}

// setCache writes a value into the shared cache, recording it against the
// active transaction so a rollback can discard it.
func (e *Environment) setCache(modelName, field, id string, value any) {
	e.cache.Set(modelName, field, id, value)

	if e.txn != nil && !e.txn.done {
		e.txn.recordWrite(modelName, field, id)
	}
}

// publish emits a lifecycle event, buffering it when a transaction is open.
func (e *Environment) publish(ctx context.Context, event events.Event) {
	if e.txn != nil && !e.txn.done {
		e.txn.events = append(e.txn.events, event)

		return
	}

	if e.Bus == nil {
		return
	}

	if err := e.Bus.Publish(ctx, event, nil); err != nil {
		e.Logger.Errorf("publishing %s: %v", event.Name, err)
	}
}

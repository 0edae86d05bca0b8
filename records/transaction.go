// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package records

import (
	"context"

	norm "github.com/LerianStudio/lib-norm"
	"github.com/LerianStudio/lib-norm/adapter"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/events"
	"github.com/LerianStudio/lib-norm/security"
)

// cacheWrite identifies one cache entry produced during a transaction.
type cacheWrite struct {
	model string
	field string
	id    string
}

// savepoint marks a position in the transaction's write, event and audit
// buffers.
type savepoint struct {
	name      string
	writeMark int
	eventMark int
	auditMark int
}

// Transaction is an atomic scope over adapter operations with cache
// coherence. Cache entries written inside the scope are discarded on
// rollback; lifecycle events and audit entries buffer until commit and are
// dropped on rollback. Savepoints form a stack; nested Begin calls map to
// savepoints.
//
// Savepoint rollback operates on the cache and the buffered events/audit
// entries. The backing store has no savepoints, so store writes performed
// after a savepoint stay part of the outer transaction; reverting them
// requires rolling back the whole transaction.
type Transaction struct {
	env      *Environment
	storeTxn adapter.Txn

	writes     []cacheWrite
	events     []events.Event
	audits     []security.AuditEntry
	savepoints []savepoint
	depth      int
	done       bool
}

// Begin opens a transaction on the environment. A nested Begin returns the
// same transaction with an anonymous savepoint pushed.
func (e *Environment) Begin(ctx context.Context) (*Transaction, error) {
	if e.txn != nil && !e.txn.done {
		e.txn.depth++
		e.txn.pushSavepoint("")

		return e.txn, nil
	}

	storeTxn, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	e.txn = &Transaction{
		env:      e,
		storeTxn: storeTxn,
	}

	return e.txn, nil
}

func (t *Transaction) recordWrite(model, field, id string) {
	t.writes = append(t.writes, cacheWrite{model: model, field: field, id: id})
}

func (t *Transaction) pushSavepoint(name string) {
	t.savepoints = append(t.savepoints, savepoint{
		name:      name,
		writeMark: len(t.writes),
		eventMark: len(t.events),
		auditMark: len(t.audits),
	})
}

// Savepoint pushes a named savepoint.
func (t *Transaction) Savepoint(name string) error {
	if t.done {
		return norm.ValidateBusinessError(cn.ErrTransactionDone, "transaction")
	}

	t.pushSavepoint(name)

	return nil
}

// RollbackTo discards everything recorded after the named savepoint and pops
// the savepoints above it. Cache entries written after the savepoint are
// invalidated so later reads refetch.
func (t *Transaction) RollbackTo(name string) error {
	if t.done {
		return norm.ValidateBusinessError(cn.ErrTransactionDone, "transaction")
	}

	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].name != name {
			continue
		}

		sp := t.savepoints[i]

		t.discardWritesFrom(sp.writeMark)
		t.events = t.events[:sp.eventMark]
		t.audits = t.audits[:sp.auditMark]
		t.savepoints = t.savepoints[:i]

		return nil
	}

	return norm.ValidateBusinessError(cn.ErrSavepointNotFound, "transaction", name)
}

// Release pops the named savepoint keeping everything recorded since.
func (t *Transaction) Release(name string) error {
	if t.done {
		return norm.ValidateBusinessError(cn.ErrTransactionDone, "transaction")
	}

	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].name == name {
			t.savepoints = append(t.savepoints[:i], t.savepoints[i+1:]...)

			return nil
		}
	}

	return norm.ValidateBusinessError(cn.ErrSavepointNotFound, "transaction", name)
}

func (t *Transaction) discardWritesFrom(mark int) {
	for _, w := range t.writes[mark:] {
		t.env.cache.Invalidate(w.model, []string{w.id}, []string{w.field})
	}

	t.writes = t.writes[:mark]
}

// Commit ends the transaction: the store commits, audit entries flush,
// buffered events release to the bus, and the cached dependents of every
// write invalidate. A nested commit only pops its savepoint.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return norm.ValidateBusinessError(cn.ErrTransactionDone, "transaction")
	}

	if t.depth > 0 {
		t.depth--

		if n := len(t.savepoints); n > 0 && t.savepoints[n-1].name == "" {
			t.savepoints = t.savepoints[:n-1]
		}

		return nil
	}

	if err := t.storeTxn.Commit(ctx); err != nil {
		return t.rollbackAfter(ctx, err)
	}

	t.done = true
	t.env.txn = nil

	// Dependent computed fields of everything written under the transaction
	// go stale together with it.
	for _, w := range t.writes {
		for _, dependent := range t.env.Registry.DependentsOf(w.model, w.field) {
			t.env.cache.Invalidate(w.model, []string{w.id}, []string{dependent})
		}
	}

	if t.env.Security != nil && t.env.Security.Auditor != nil && len(t.audits) > 0 {
		if err := t.env.Security.Auditor.Flush(ctx, t.audits); err != nil {
			t.env.Logger.Errorf("flushing audit entries: %v", err)
		}
	}

	if t.env.Bus != nil {
		for _, event := range t.events {
			if err := t.env.Bus.Publish(ctx, event, nil); err != nil {
				t.env.Logger.Errorf("publishing buffered %s: %v", event.Name, err)
			}
		}
	}

	return nil
}

func (t *Transaction) rollbackAfter(ctx context.Context, cause error) error {
	_ = t.storeTxn.Rollback(ctx)

	t.finishRollback()

	return cause
}

// Rollback ends the transaction discarding its store writes, its cache
// entries, its buffered events and audit entries. A nested rollback pops to
// its savepoint.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.done {
		return norm.ValidateBusinessError(cn.ErrTransactionDone, "transaction")
	}

	if t.depth > 0 {
		t.depth--

		for i := len(t.savepoints) - 1; i >= 0; i-- {
			if t.savepoints[i].name == "" {
				sp := t.savepoints[i]

				t.discardWritesFrom(sp.writeMark)
				t.events = t.events[:sp.eventMark]
				t.audits = t.audits[:sp.auditMark]
				t.savepoints = t.savepoints[:i]

				return nil
			}
		}

		return nil
	}

	err := t.storeTxn.Rollback(ctx)

	t.finishRollback()

	return err
}

func (t *Transaction) finishRollback() {
	t.discardWritesFrom(0)
	t.events = nil
	t.audits = nil
	t.done = true
	t.env.txn = nil
}

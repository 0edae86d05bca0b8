// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package adapter

import (
	"errors"
	"fmt"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/mmongo"
)

// TransientStoreError marks a retryable store failure. It surfaces unchanged
// once the retry budget is exhausted.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e TransientStoreError) Error() string {
	return fmt.Sprintf("transient store failure in %s: %v", e.Op, e.Err)
}

func (e TransientStoreError) Unwrap() error { return e.Err }

// FatalStoreError marks a non-retryable store failure.
type FatalStoreError struct {
	Op  string
	Err error
}

func (e FatalStoreError) Error() string {
	return fmt.Sprintf("store failure in %s: %v", e.Op, e.Err)
}

func (e FatalStoreError) Unwrap() error { return e.Err }

// IsTransient classifies adapter errors for the retry and breaker layers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient TransientStoreError
	if errors.As(err, &transient) {
		return true
	}

	return mmongo.IsTransient(err)
}

// mapStoreError wraps a raw driver error into the adapter taxonomy.
func mapStoreError(op, entityType string, err error) error {
	if err == nil {
		return nil
	}

	switch mmongo.Classify(err) {
	case mmongo.ErrorClassConflict:
		conflict := norm.ValidateBusinessError(cn.ErrDuplicateKey, entityType).(norm.EntityConflictError)
		conflict.Err = err

		return conflict
	case mmongo.ErrorClassTransient:
		return TransientStoreError{Op: op, Err: err}
	default:
		return FatalStoreError{Op: op, Err: err}
	}
}

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mmongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorClass partitions store failures for the retry and breaker layers.
type ErrorClass int

const (
	// ErrorClassFatal covers failures that must surface unchanged.
	ErrorClassFatal ErrorClass = iota
	// ErrorClassTransient covers failures worth retrying (network resets,
	// timeouts, replica-set elections in progress).
	ErrorClassTransient
	// ErrorClassConflict covers write-concern and duplicate-key violations.
	ErrorClassConflict
)

// Replica-set election and stepdown server codes the driver reports while a
// new primary is being chosen.
var electionCodes = map[int32]struct{}{
	189:   {}, // PrimarySteppedDown
	10107: {}, // NotWritablePrimary
	11600: {}, // InterruptedAtShutdown
	11602: {}, // InterruptedDueToReplStateChange
	13435: {}, // NotPrimaryNoSecondaryOk
	13436: {}, // NotPrimaryOrSecondary
}

// Classify maps a driver error into an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassFatal
	}

	if mongo.IsDuplicateKeyError(err) {
		return ErrorClassConflict
	}

	var writeException mongo.WriteConcernError
	if errors.As(err, &writeException) {
		return ErrorClassConflict
	}

	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return ErrorClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if _, ok := electionCodes[cmdErr.Code]; ok {
			return ErrorClassTransient
		}
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		for code := range electionCodes {
			if srvErr.HasErrorCode(int(code)) {
				return ErrorClassTransient
			}
		}
	}

	return ErrorClassFatal
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Classify(err) == ErrorClassTransient
}

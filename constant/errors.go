// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package constant

import "errors"

var (
	ErrInternalServer               = errors.New("0001")
	ErrBadRequest                   = errors.New("0002")
	ErrEntityNotFound               = errors.New("0003")
	ErrModelNotFound                = errors.New("0004")
	ErrFieldNotFound                = errors.New("0005")
	ErrDomainSyntax                 = errors.New("0006")
	ErrOperatorNotSupported         = errors.New("0007")
	ErrValueCoercion                = errors.New("0008")
	ErrRequiredField                = errors.New("0009")
	ErrDuplicateKey                 = errors.New("0010")
	ErrPermissionDenied             = errors.New("0011")
	ErrSingletonExpected            = errors.New("0012")
	ErrTransactionDone              = errors.New("0013")
	ErrSavepointNotFound            = errors.New("0014")
	ErrEventBusUnavailable          = errors.New("0015")
	ErrRegistryFrozen               = errors.New("0016")
	ErrRegistryUnresolvedParent     = errors.New("0017")
	ErrRegistryIncompatibleOverride = errors.New("0018")
	ErrRegistryDependencyCycle      = errors.New("0019")
	ErrRegistryMissingInverse       = errors.New("0020")
	ErrRegistryAmbiguousFieldPath   = errors.New("0021")
	ErrConfiguration                = errors.New("0022")
)

// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package norm

import (
	"errors"
	"fmt"
	"strings"

	cn "github.com/LerianStudio/lib-norm/constant"
)

// EntityNotFoundError records an error indicating an entity was not found in any case that caused it.
// You can use it to representing a Database not found, cache not found or any other repository.
type EntityNotFoundError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

// Error implements the error interface.
func (e EntityNotFoundError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		if strings.TrimSpace(e.EntityType) != "" {
			return fmt.Sprintf("Entity %s not found", e.EntityType)
		}

		if e.Err != nil {
			return e.Err.Error()
		}

		return "entity not found"
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e EntityNotFoundError) Unwrap() error {
	return e.Err
}

// ValidationError records a field or cross-field validation failure. FieldPath
// carries the dotted path of the offending field when the failure is
// attributable to a single field.
type ValidationError struct {
	EntityType string `json:"entityType,omitempty"`
	FieldPath  string `json:"fieldPath,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("%s - %s", e.Code, e.Message)
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// FieldValidations is a map of field paths and their validation errors.
type FieldValidations map[string]string

// ValidationKnownFieldsError accumulates the validation failures of a whole
// create/write pass so every offending field is reported in one error.
type ValidationKnownFieldsError struct {
	EntityType string           `json:"entityType,omitempty"`
	Title      string           `json:"title,omitempty"`
	Code       string           `json:"code,omitempty"`
	Message    string           `json:"message,omitempty"`
	Fields     FieldValidations `json:"fields,omitempty"`
}

// Error implements the error interface.
func (r ValidationKnownFieldsError) Error() string {
	return r.Message
}

// EntityConflictError records an error indicating an entity already exists in some repository
// You can use it to representing a Database conflict, cache or any other repository.
type EntityConflictError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

// Error implements the error interface.
func (e EntityConflictError) Error() string {
	if e.Err != nil && strings.TrimSpace(e.Message) == "" {
		return e.Err.Error()
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e EntityConflictError) Unwrap() error {
	return e.Err
}

// UnauthorizedError indicates an operation that couldn't be performant because there's no user authenticated.
type UnauthorizedError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e UnauthorizedError) Error() string {
	return e.Message
}

// ForbiddenError indicates an operation that couldn't be performant because the authenticated user has no sufficient privileges.
type ForbiddenError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e ForbiddenError) Error() string {
	return e.Message
}

// InternalServerError indicates an unexpected failure the caller cannot act on.
type InternalServerError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e InternalServerError) Error() string {
	return e.Message
}

// ValidateInternalError validates the error and returns an appropriate InternalServerError.
func ValidateInternalError(err error, entityType string) error {
	return InternalServerError{
		EntityType: entityType,
		Code:       cn.ErrInternalServer.Error(),
		Title:      "Internal Server Error",
		Message:    "The server encountered an unexpected error. Please try again later or contact support.",
		Err:        err,
	}
}

// ValidateBadRequestFieldsError returns the accumulated validation failures of
// the listed fields as a single ValidationKnownFieldsError.
func ValidateBadRequestFieldsError(knownInvalidFields map[string]string, entityType string) error {
	if len(knownInvalidFields) == 0 {
		return errors.New("expected knownInvalidFields to be non-empty")
	}

	return ValidationKnownFieldsError{
		EntityType: entityType,
		Code:       cn.ErrBadRequest.Error(),
		Title:      "Bad Request",
		Message:    "The server could not understand the request due to malformed syntax. Please check the listed fields and try again.",
		Fields:     knownInvalidFields,
	}
}

// ValidateBusinessError validates the error and returns the appropriate business error code, title, and message.
//
//nolint:gocyclo
func ValidateBusinessError(err error, entityType string, args ...any) error {
	switch {
	case errors.Is(err, cn.ErrEntityNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrEntityNotFound.Error(),
			Title:      "Entity Not Found",
			Message:    "No entity was found for the given ID. Please make sure to use the correct ID for the entity you are trying to manage.",
		}
	case errors.Is(err, cn.ErrModelNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrModelNotFound.Error(),
			Title:      "Model Not Found",
			Message:    fmt.Sprintf("No model named %s is registered. Please check the model name and make sure the registry was built with its declaration.", args...),
		}
	case errors.Is(err, cn.ErrFieldNotFound):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrFieldNotFound.Error(),
			Title:      "Field Not Found",
			Message:    fmt.Sprintf("The field %s does not exist on the model. Please check the field path and try again.", args...),
		}
	case errors.Is(err, cn.ErrDomainSyntax):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrDomainSyntax.Error(),
			Title:      "Domain Syntax Error",
			Message:    fmt.Sprintf("The domain expression is malformed: %s. Please check operator arity and leaf structure.", args...),
		}
	case errors.Is(err, cn.ErrOperatorNotSupported):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrOperatorNotSupported.Error(),
			Title:      "Operator Not Supported",
			Message:    fmt.Sprintf("The operator %s cannot be applied to the field %s. Please use an operator compatible with the field kind.", args...),
		}
	case errors.Is(err, cn.ErrValueCoercion):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrValueCoercion.Error(),
			Title:      "Value Coercion Error",
			Message:    fmt.Sprintf("The value given for field %s cannot be converted to its declared kind. Please check the value type and try again.", args...),
		}
	case errors.Is(err, cn.ErrRequiredField):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrRequiredField.Error(),
			Title:      "Missing Required Field",
			Message:    fmt.Sprintf("The field %s is required. Please provide a value and try again.", args...),
		}
	case errors.Is(err, cn.ErrDuplicateKey):
		return EntityConflictError{
			EntityType: entityType,
			Code:       cn.ErrDuplicateKey.Error(),
			Title:      "Duplicate Key Error",
			Message:    "A record with the same unique value already exists. Please modify the conflicting field and try again.",
		}
	case errors.Is(err, cn.ErrPermissionDenied):
		return ForbiddenError{
			EntityType: entityType,
			Code:       cn.ErrPermissionDenied.Error(),
			Title:      "Permission Denied",
			Message:    fmt.Sprintf("You do not have permission to perform the operation %s on %s. Please contact your administrator if you believe this is a mistake.", args...),
		}
	case errors.Is(err, cn.ErrSingletonExpected):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrSingletonExpected.Error(),
			Title:      "Singleton Expected",
			Message:    fmt.Sprintf("The operation expects exactly one record but the recordset holds %v. Please narrow the recordset and try again.", args...),
		}
	case errors.Is(err, cn.ErrTransactionDone):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrTransactionDone.Error(),
			Title:      "Transaction Already Finished",
			Message:    "The transaction has already been committed or rolled back. Open a new transaction to continue.",
		}
	case errors.Is(err, cn.ErrSavepointNotFound):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrSavepointNotFound.Error(),
			Title:      "Savepoint Not Found",
			Message:    fmt.Sprintf("No savepoint named %s exists in the current transaction.", args...),
		}
	case errors.Is(err, cn.ErrEventBusUnavailable):
		return InternalServerError{
			EntityType: entityType,
			Code:       cn.ErrEventBusUnavailable.Error(),
			Title:      "Event Bus Unavailable",
			Message:    "The event queue cannot be reached after the configured retries. Please check the queue backend and try again.",
		}
	default:
		return err
	}
}

package norm

import (
	"errors"
	"testing"

	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBusinessError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		code     error
		args     []any
		wantType any
	}{
		{name: "entity not found", code: cn.ErrEntityNotFound, wantType: EntityNotFoundError{}},
		{name: "model not found", code: cn.ErrModelNotFound, args: []any{"res.ghost"}, wantType: EntityNotFoundError{}},
		{name: "field not found", code: cn.ErrFieldNotFound, args: []any{"ghost"}, wantType: ValidationError{}},
		{name: "domain syntax", code: cn.ErrDomainSyntax, args: []any{"bad arity"}, wantType: ValidationError{}},
		{name: "duplicate key", code: cn.ErrDuplicateKey, wantType: EntityConflictError{}},
		{name: "permission denied", code: cn.ErrPermissionDenied, args: []any{"write", "sale.order"}, wantType: ForbiddenError{}},
		{name: "event bus unavailable", code: cn.ErrEventBusUnavailable, wantType: InternalServerError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateBusinessError(tt.code, "entity", tt.args...)
			require.Error(t, err)
			assert.IsType(t, tt.wantType, err)
		})
	}

	t.Run("unknown codes pass through", func(t *testing.T) {
		t.Parallel()

		raw := errors.New("boom")
		assert.ErrorIs(t, ValidateBusinessError(raw, "entity"), raw)
	})
}

func TestValidationError_ErrorFormatsCode(t *testing.T) {
	t.Parallel()

	err := ValidationError{Code: "0009", Message: "field required"}
	assert.Equal(t, "0009 - field required", err.Error())

	bare := ValidationError{Message: "field required"}
	assert.Equal(t, "field required", bare.Error())
}

func TestEntityNotFoundError_Fallbacks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Entity sale.order not found", EntityNotFoundError{EntityType: "sale.order"}.Error())
	assert.Equal(t, "boom", EntityNotFoundError{Err: errors.New("boom")}.Error())
	assert.Equal(t, "entity not found", EntityNotFoundError{}.Error())
}

func TestValidateBadRequestFieldsError(t *testing.T) {
	t.Parallel()

	err := ValidateBadRequestFieldsError(map[string]string{"email": "required"}, "res.partner")

	var known ValidationKnownFieldsError
	require.ErrorAs(t, err, &known)
	assert.Equal(t, FieldValidations{"email": "required"}, known.Fields)

	assert.Error(t, ValidateBadRequestFieldsError(nil, "res.partner"))
}

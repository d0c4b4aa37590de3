package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[string]int{
		CodeInvalidRequest:         http.StatusBadRequest,
		CodeValidationError:        http.StatusBadRequest,
		CodeItemNotFound:           http.StatusNotFound,
		CodeOrderNotFound:          http.StatusNotFound,
		CodeReservationNotFound:    http.StatusNotFound,
		CodeInsufficientStock:      http.StatusConflict,
		CodeInvalidStateTransition: http.StatusConflict,
		CodeConcurrencyConflict:    http.StatusConflict,
		CodeInvalidTenantReference: http.StatusForbidden,
		CodeTerminalQueueFailure:   http.StatusBadGateway,
		CodeDatabaseError:          http.StatusInternalServerError,
		CodeInternalError:          http.StatusInternalServerError,
		"SomethingUnknown":         http.StatusInternalServerError,
	}
	for code, status := range cases {
		se := NewStandardError(code, "msg", "")
		assert.Equal(t, status, se.HTTPStatus(), "code %s", code)
	}
}

func TestHasCode(t *testing.T) {
	err := NewInsufficientStock("sku-1", 3, 10)

	assert.True(t, HasCode(err, CodeInsufficientStock))
	assert.False(t, HasCode(err, CodeItemNotFound))

	wrapped := fmt.Errorf("reserve: %w", err)
	assert.True(t, HasCode(wrapped, CodeInsufficientStock))

	assert.False(t, HasCode(fmt.Errorf("plain"), CodeInsufficientStock))
}

func TestAsStandardFallsBackToInternal(t *testing.T) {
	se := AsStandard(fmt.Errorf("boom"))

	assert.Equal(t, CodeInternalError, se.Code)
	assert.Equal(t, "boom", se.Details)
}

func TestAsStandardUnwraps(t *testing.T) {
	err := fmt.Errorf("confirm: %w", NewInvalidStateTransition("cancelled", "confirmed"))

	se := AsStandard(err)

	assert.Equal(t, CodeInvalidStateTransition, se.Code)
	assert.Contains(t, se.Details, "cancelled")
}

func TestInsufficientStockDetails(t *testing.T) {
	err := NewInsufficientStock("sku-1", 3, 10)

	assert.Equal(t, "Item: sku-1, Available: 3, Requested: 10", err.Details)
	assert.Equal(t, "insufficient stock available", err.Error())
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used across the core. Handlers map these to HTTP statuses;
// usecases pick them so that callers can branch without string matching.
const (
	CodeInvalidRequest         = "InvalidRequest"
	CodeValidationError        = "ValidationError"
	CodeItemNotFound           = "ItemNotFound"
	CodeOrderNotFound          = "OrderNotFound"
	CodeReservationNotFound    = "ReservationNotFound"
	CodeInsufficientStock      = "InsufficientStock"
	CodeInvalidTenantReference = "InvalidTenantReference"
	CodeInvalidStateTransition = "InvalidStateTransition"
	CodeConcurrencyConflict    = "ConcurrencyConflict"
	CodeTerminalQueueFailure   = "TerminalQueueFailure"
	CodeDatabaseError          = "DatabaseError"
	CodeInternalError          = "InternalError"
)

// StandardError represents a standardized error response
type StandardError struct {
	Code    string `json:"error"`   // Error code/type (e.g., "InsufficientStock")
	Message string `json:"message"` // Human-readable error message
	Details string `json:"details"` // Additional details (ids, quantities, etc.)
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for the error
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest, CodeValidationError:
		return http.StatusBadRequest
	case CodeItemNotFound, CodeOrderNotFound, CodeReservationNotFound:
		return http.StatusNotFound
	case CodeInsufficientStock, CodeInvalidStateTransition:
		return http.StatusConflict
	case CodeInvalidTenantReference:
		return http.StatusForbidden
	case CodeConcurrencyConflict:
		return http.StatusConflict
	case CodeTerminalQueueFailure:
		return http.StatusBadGateway
	case CodeDatabaseError, CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewStandardError creates a new StandardError
func NewStandardError(code, message, details string) *StandardError {
	return &StandardError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// AsStandard extracts a StandardError from the chain, falling back to an
// InternalError wrapper so HTTP handlers always have a status to map.
func AsStandard(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	return NewStandardError(CodeInternalError, "internal error", err.Error())
}

// Common error constructors

func NewInvalidRequest(message, details string) *StandardError {
	return NewStandardError(CodeInvalidRequest, message, details)
}

func NewValidationError(message, field string) *StandardError {
	return NewStandardError(CodeValidationError, message, fmt.Sprintf("Field: %s", field))
}

func NewItemNotFound(tenantID, itemID string) *StandardError {
	return NewStandardError(CodeItemNotFound, "stock item not found",
		fmt.Sprintf("Tenant: %s, Item: %s", tenantID, itemID))
}

func NewOrderNotFound(orderID string) *StandardError {
	return NewStandardError(CodeOrderNotFound, "order not found", fmt.Sprintf("Order ID: %s", orderID))
}

func NewReservationNotFound(reservationID string) *StandardError {
	return NewStandardError(CodeReservationNotFound, "reservation not found",
		fmt.Sprintf("Reservation ID: %s", reservationID))
}

func NewInsufficientStock(itemID string, available, requested int) *StandardError {
	return NewStandardError(CodeInsufficientStock, "insufficient stock available",
		fmt.Sprintf("Item: %s, Available: %d, Requested: %d", itemID, available, requested))
}

func NewInvalidTenantReference(entity, entityID, tenantID string) *StandardError {
	return NewStandardError(CodeInvalidTenantReference, "entity belongs to a different tenant",
		fmt.Sprintf("%s: %s, Tenant: %s", entity, entityID, tenantID))
}

func NewInvalidStateTransition(from, to string) *StandardError {
	return NewStandardError(CodeInvalidStateTransition, "invalid state transition",
		fmt.Sprintf("From: %s, To: %s", from, to))
}

func NewTerminalQueueFailure(actionID string, attempts int, lastErr string) *StandardError {
	return NewStandardError(CodeTerminalQueueFailure, "queued action exhausted its retry budget",
		fmt.Sprintf("Action: %s, Attempts: %d, LastError: %s", actionID, attempts, lastErr))
}

func NewDatabaseError(operation string, err error) *StandardError {
	return NewStandardError(CodeDatabaseError, fmt.Sprintf("database operation failed: %s", operation), err.Error())
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewStandardError(CodeInternalError, message, details)
}

package ads

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ads service.
var (
	ErrAdNotFound             = errors.New("ad not found")
	ErrCreditNotFound         = errors.New("credit not found")
	ErrPackNotFound           = errors.New("pack not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPendingPaymentNotFound = errors.New("pending payment not found")
	ErrCreditConsumed         = errors.New("credit already consumed")
	ErrValidationFailed       = errors.New("validation failed")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrAlreadyTerminal        = errors.New("ad already terminal")
	ErrForbidden              = errors.New("forbidden")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrGatewayDeclined        = errors.New("gateway declined")
	ErrDuplicateBuyOrder      = errors.New("duplicate buy order")
	ErrDuplicateDayTick       = errors.New("duplicate day tick")
	ErrPaymentStateConflict   = errors.New("pending payment state conflict")
	ErrInvalidCreditKind      = errors.New("invalid credit kind")
	ErrInvalidChoices         = errors.New("invalid purchase choices")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

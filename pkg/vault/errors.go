package vault

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the vault service.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrTokenTypeNotFound      = errors.New("token type not found")
	ErrInvalidAccountID       = errors.New("invalid account id")
	ErrInvalidTokenTypeID     = errors.New("invalid token type id")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTTL             = errors.New("invalid ttl")
	ErrInvalidTokenTypeConfig = errors.New("invalid token type config")
	ErrInvalidMetadataJSON    = errors.New("invalid metadata json")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
	ErrAmountOverflow         = errors.New("amount overflow")
	ErrTimeOverflow           = errors.New("time overflow")
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

// InsufficientBalanceError reports a deduction that exceeds the spendable balance.
type InsufficientBalanceError struct {
	account   string
	tokenType string
	available Amount
	requested Amount
}

// Error returns the formatted error message.
func (insufficientError InsufficientBalanceError) Error() string {
	return fmt.Sprintf(
		"insufficient balance: account %s holds %d of token type %s, requested %d",
		insufficientError.account,
		insufficientError.available.Int64(),
		insufficientError.tokenType,
		insufficientError.requested.Int64(),
	)
}

// Unwrap ties the typed error to ErrInsufficientBalance.
func (insufficientError InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Account returns the debited account identifier.
func (insufficientError InsufficientBalanceError) Account() string {
	return insufficientError.account
}

// TokenType returns the token type identifier.
func (insufficientError InsufficientBalanceError) TokenType() string {
	return insufficientError.tokenType
}

// Available returns the spendable balance at the time of the attempt.
func (insufficientError InsufficientBalanceError) Available() Amount {
	return insufficientError.available
}

// Requested returns the amount the caller asked for.
func (insufficientError InsufficientBalanceError) Requested() Amount {
	return insufficientError.requested
}

// NewInsufficientBalanceError builds the typed shortfall error.
func NewInsufficientBalanceError(account AccountID, tokenType TokenTypeID, available Amount, requested Amount) error {
	return InsufficientBalanceError{
		account:   account.String(),
		tokenType: tokenType.String(),
		available: available,
		requested: requested,
	}
}

package service

import "errors"

// DomainError is an outcome the facade reports to callers. Store errors never
// cross the service boundary; they are translated into one of these.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

var (
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrInsufficientFunds = &DomainError{
		Code:    "INSUFFICIENT_FUNDS",
		Message: "insufficient funds",
	}
	ErrInvalidAmount = &DomainError{
		Code:    "INVALID_AMOUNT",
		Message: "invalid amount",
	}
	ErrAmountOutOfRange = &DomainError{
		Code:    "AMOUNT_OUT_OF_RANGE",
		Message: "amount out of range",
	}
	ErrInvalidOperation = &DomainError{
		Code:    "INVALID_OPERATION",
		Message: "operation_type must be DEPOSIT or WITHDRAW",
	}
	ErrIdempotencyConflict = &DomainError{
		Code:    "IDEMPOTENCY_CONFLICT",
		Message: "idempotency key already used for a different operation",
	}
	ErrInvalidIdempotencyKey = &DomainError{
		Code:    "INVALID_IDEMPOTENCY_KEY",
		Message: "idempotency key must be at most 64 characters",
	}
	ErrRequestCanceled = &DomainError{
		Code:    "REQUEST_CANCELED",
		Message: "request canceled by the client",
	}
	ErrServiceUnavailable = &DomainError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: "service temporarily unavailable, try again later",
	}
	ErrInternal = &DomainError{
		Code:    "INTERNAL_ERROR",
		Message: "internal error",
	}
)

// Code returns the machine-readable code carried by err, or INTERNAL_ERROR.
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrInternal.Code
}

// IsClientError reports whether err was caused by the request itself rather
// than by the system.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrWalletNotFound, ErrInsufficientFunds, ErrInvalidAmount,
		ErrAmountOutOfRange, ErrInvalidOperation, ErrIdempotencyConflict,
		ErrInvalidIdempotencyKey, ErrRequestCanceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

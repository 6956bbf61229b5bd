package service

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	return &AppError{
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

func IsCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, "INTERNAL_ERROR", msg, true, cause)
}

func BadRequest(msg string, cause error) *AppError {
	return NewAppError(http.StatusBadRequest, "BAD_REQUEST", msg, false, cause)
}

// Error taxonomy for the anchoring pipeline. Verification mismatches are
// reported distinctly from "not yet submitted" and from each other.
func TransactionNotFound(transactionID string) *AppError {
	return NewAppError(http.StatusNotFound, "TX_NOT_FOUND", "no transaction found: "+transactionID, false, nil)
}

func ConsensusInvalid(msg string) *AppError {
	return NewAppError(http.StatusConflict, "CONSENSUS_INVALID", msg, false, nil)
}

func IntegrityViolation(msg string) *AppError {
	return NewAppError(http.StatusConflict, "INTEGRITY_VIOLATION", msg, false, nil)
}

func SubmitFailed(msg string, cause error) *AppError {
	return NewAppError(http.StatusBadGateway, "SUBMIT_FAILED", msg, true, cause)
}
